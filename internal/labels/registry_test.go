package labels

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rawblock/qubic-flow-engine/internal/identity"
)

func bundleServer(t *testing.T, b bundle) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(b); err != nil {
			t.Errorf("encode bundle: %v", err)
		}
	}))
}

func testBundle() bundle {
	return bundle{
		Addresses: []Meta{
			{Address: "ADDRONE", Label: "Gate", Kind: KindExchange},
			{Address: "ADDRTWO", Label: "Gateway Exchange", Kind: KindExchange},
			{Address: "ADDRTHREE", Label: "The Gate Keeper", Kind: KindKnown},
			{Address: "ADDRFOUR", Label: "QX", Kind: KindSmartContract},
		},
		Procedures: []struct {
			ContractAddress string `json:"contractAddress"`
			InputType       uint16 `json:"inputType"`
			Name            string `json:"name"`
		}{
			{ContractAddress: "ADDRFOUR", InputType: 1, Name: "IssueAsset"},
		},
	}
}

func loadedRegistry(t *testing.T) (*Registry, *httptest.Server) {
	t.Helper()
	srv := bundleServer(t, testBundle())
	r := New(srv.URL)
	if err := r.refresh(); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	return r, srv
}

func TestBurnAddressAlwaysRegistered(t *testing.T) {
	r := New("http://unused.invalid")

	meta, ok := r.Lookup(identity.BurnAddress)
	if !ok {
		t.Fatal("burn address missing before any bundle load")
	}
	if meta.Kind != KindBurn {
		t.Fatalf("burn address kind = %s, want %s", meta.Kind, KindBurn)
	}
}

func TestLookupAndByType(t *testing.T) {
	r, srv := loadedRegistry(t)
	defer srv.Close()

	meta, ok := r.Lookup("ADDRONE")
	if !ok || meta.Label != "Gate" {
		t.Fatalf("Lookup(ADDRONE) = (%+v, %v)", meta, ok)
	}

	exchanges := r.AddressesByType(KindExchange)
	if len(exchanges) != 2 {
		t.Fatalf("got %d exchanges, want 2", len(exchanges))
	}
	if contracts := r.AddressesByType(KindSmartContract); len(contracts) != 1 || contracts[0] != "ADDRFOUR" {
		t.Fatalf("contracts = %v", contracts)
	}
}

func TestSearchRanking(t *testing.T) {
	r, srv := loadedRegistry(t)
	defer srv.Close()

	results := r.SearchByLabel("gate", 10)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// Exact match first, then prefix, then contains.
	if results[0].Label != "Gate" {
		t.Fatalf("rank 0 = %s, want exact match", results[0].Label)
	}
	if results[1].Label != "Gateway Exchange" {
		t.Fatalf("rank 1 = %s, want prefix match", results[1].Label)
	}
	if results[2].Label != "The Gate Keeper" {
		t.Fatalf("rank 2 = %s, want contains match", results[2].Label)
	}
}

func TestSearchLimitAndEmptyQuery(t *testing.T) {
	r, srv := loadedRegistry(t)
	defer srv.Close()

	if results := r.SearchByLabel("gate", 1); len(results) != 1 {
		t.Fatalf("limit not applied: got %d results", len(results))
	}
	if results := r.SearchByLabel("", 10); results != nil {
		t.Fatalf("empty query returned %v", results)
	}
	if results := r.SearchByLabel("gate", 0); results != nil {
		t.Fatalf("zero limit returned %v", results)
	}
}

func TestProcedureName(t *testing.T) {
	r, srv := loadedRegistry(t)
	defer srv.Close()

	name, ok := r.ProcedureName("ADDRFOUR", 1)
	if !ok || name != "IssueAsset" {
		t.Fatalf("ProcedureName = (%s, %v)", name, ok)
	}
	if _, ok := r.ProcedureName("ADDRFOUR", 99); ok {
		t.Fatal("unknown procedure resolved")
	}
}

func TestRefreshFailureKeepsOldSnapshot(t *testing.T) {
	r, srv := loadedRegistry(t)
	srv.Close() // subsequent refreshes fail

	if err := r.refresh(); err == nil {
		t.Fatal("expected refresh error after server shutdown")
	}
	// The previously loaded snapshot still serves.
	if _, ok := r.Lookup("ADDRONE"); !ok {
		t.Fatal("old snapshot lost after failed refresh")
	}
}
