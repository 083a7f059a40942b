package flow

import (
	"testing"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const (
	comp1    = "COMPUTORONE"
	comp2    = "COMPUTORTWO"
	interm   = "INTERMEDIARY"
	exchange = "EXCHANGEHOT"
	contract = "QXCONTRACT"
	multi    = "SENDMANYHUB"
	other    = "SOMEADDRESS"
)

func testClassifier() Classifier {
	return Classifier{
		Exchanges: map[string]bool{exchange: true},
		Contracts: map[string]bool{contract: true},
		Computors: map[string]bool{comp1: true, comp2: true},
		Multicast: multi,
		LabelOf: func(addr string) string {
			if addr == exchange {
				return "Hot Wallet"
			}
			return ""
		},
	}
}

func seed(addr string, amount int64) models.TrackingState {
	return models.TrackingState{
		EmissionEpoch: 150,
		Address:       addr,
		Origin:        addr,
		AddressType:   models.AddressTypeComputor,
		Received:      amount,
		Pending:       amount,
		HopLevel:      1,
	}
}

func transfer(tick uint64, logID int64, src, dest string, amount int64) models.Log {
	return models.Log{
		Epoch:      151,
		LogID:      logID,
		TickNumber: tick,
		LogType:    models.LogTypeQUTransfer,
		Source:     src,
		Dest:       dest,
		Amount:     amount,
	}
}

func findState(t *testing.T, states []models.TrackingState, addr, origin string) models.TrackingState {
	t.Helper()
	for _, st := range states {
		if st.Address == addr && st.Origin == origin {
			return st
		}
	}
	t.Fatalf("no state for (%s, %s)", addr, origin)
	return models.TrackingState{}
}

func TestDirectTransferToExchange(t *testing.T) {
	states := []models.TrackingState{seed(comp1, 1000)}
	transfers := []models.Log{transfer(100, 1, comp1, exchange, 600)}

	updated, hops, stats := ProcessWindow(150, 151, testClassifier(), states, transfers, nil)

	if len(hops) != 1 {
		t.Fatalf("got %d hops, want 1", len(hops))
	}
	hop := hops[0]
	if hop.Amount != 600 || hop.Origin != comp1 || hop.HopLevel != 1 {
		t.Fatalf("hop wrong: %+v", hop)
	}
	if hop.DestType != models.AddressTypeExchange || hop.DestLabel != "Hot Wallet" {
		t.Fatalf("hop destination wrong: %+v", hop)
	}

	src := findState(t, updated, comp1, comp1)
	if src.Sent != 600 || src.Pending != 400 || src.IsComplete {
		t.Fatalf("source state wrong: %+v", src)
	}

	dst := findState(t, updated, exchange, comp1)
	if dst.Received != 600 || dst.Pending != 0 || !dst.IsTerminal || !dst.IsComplete {
		t.Fatalf("exchange state wrong: %+v", dst)
	}
	if dst.HopLevel != 2 {
		t.Fatalf("exchange hop level = %d, want 2", dst.HopLevel)
	}

	if stats.ExchangeReceived != 600 || stats.ExchangeByHop[1] != 600 {
		t.Fatalf("stats wrong: %+v", stats)
	}
}

func TestMultiOriginProportionalAttribution(t *testing.T) {
	states := []models.TrackingState{seed(comp1, 1000), seed(comp2, 1000)}
	transfers := []models.Log{
		transfer(100, 1, comp1, interm, 300),
		transfer(100, 2, comp2, interm, 700),
		transfer(101, 3, interm, exchange, 500),
	}

	updated, hops, _ := ProcessWindow(150, 151, testClassifier(), states, transfers, nil)

	// 2 hops into the intermediary, 2 origin shares out of it.
	if len(hops) != 4 {
		t.Fatalf("got %d hops, want 4", len(hops))
	}

	var fromC1, fromC2 int64
	for _, hop := range hops[2:] {
		if hop.Source != interm || hop.Dest != exchange || hop.HopLevel != 2 {
			t.Fatalf("exit hop wrong: %+v", hop)
		}
		switch hop.Origin {
		case comp1:
			fromC1 = hop.Amount
		case comp2:
			fromC2 = hop.Amount
		}
	}
	// 500 split proportionally over pendings 300 and 700.
	if fromC1 != 150 || fromC2 != 350 {
		t.Fatalf("shares = (%d, %d), want (150, 350)", fromC1, fromC2)
	}

	i1 := findState(t, updated, interm, comp1)
	if i1.Received != 300 || i1.Sent != 150 || i1.Pending != 150 {
		t.Fatalf("intermediary state for origin 1 wrong: %+v", i1)
	}
	i2 := findState(t, updated, interm, comp2)
	if i2.Received != 700 || i2.Sent != 350 || i2.Pending != 350 {
		t.Fatalf("intermediary state for origin 2 wrong: %+v", i2)
	}

	x1 := findState(t, updated, exchange, comp1)
	x2 := findState(t, updated, exchange, comp2)
	if x1.Received != 150 || x2.Received != 350 {
		t.Fatalf("exchange attributions = (%d, %d), want (150, 350)", x1.Received, x2.Received)
	}
}

func TestMulticastPassThrough(t *testing.T) {
	states := []models.TrackingState{seed(comp1, 1000)}
	transfers := []models.Log{transfer(100, 1, comp1, multi, 400)}
	outputs := map[uint64][]MulticastOutput{
		100: {
			{Dest: other, Amount: 250},
			{Dest: exchange, Amount: 150},
		},
	}

	updated, hops, _ := ProcessWindow(150, 151, testClassifier(), states, transfers, outputs)

	if len(hops) != 2 {
		t.Fatalf("got %d hops, want 2", len(hops))
	}
	for _, hop := range hops {
		if hop.Source != comp1 {
			t.Fatalf("hop source = %s, want the original sender", hop.Source)
		}
		if hop.Dest == multi {
			t.Fatal("pass-through contract must not appear as a hop destination")
		}
	}

	// The sender is debited by the full inbound amount.
	src := findState(t, updated, comp1, comp1)
	if src.Sent != 400 || src.Pending != 600 {
		t.Fatalf("source state wrong: %+v", src)
	}

	o := findState(t, updated, other, comp1)
	if o.Received != 250 || o.Pending != 250 || o.HopLevel != 2 {
		t.Fatalf("output destination state wrong: %+v", o)
	}
	x := findState(t, updated, exchange, comp1)
	if x.Received != 150 || !x.IsComplete {
		t.Fatalf("exchange output state wrong: %+v", x)
	}
}

func TestMulticastDebitWithoutOutputs(t *testing.T) {
	states := []models.TrackingState{seed(comp1, 1000)}
	transfers := []models.Log{transfer(100, 1, comp1, multi, 400)}

	updated, hops, _ := ProcessWindow(150, 151, testClassifier(), states, transfers, nil)

	if len(hops) != 0 {
		t.Fatalf("got %d hops, want 0", len(hops))
	}
	src := findState(t, updated, comp1, comp1)
	if src.Sent != 400 || src.Pending != 600 {
		t.Fatalf("inbound spend must debit the sender even without outputs: %+v", src)
	}
}

func TestWriteThroughOrdering(t *testing.T) {
	states := []models.TrackingState{seed(comp1, 1000)}
	transfers := []models.Log{
		transfer(100, 1, comp1, exchange, 600),
		transfer(100, 2, comp1, exchange, 900), // only 400 tracked remains
	}

	updated, hops, _ := ProcessWindow(150, 151, testClassifier(), states, transfers, nil)

	if len(hops) != 2 {
		t.Fatalf("got %d hops, want 2", len(hops))
	}
	if hops[1].Amount != 400 {
		t.Fatalf("second hop amount = %d, want 400 (capped at remaining pending)", hops[1].Amount)
	}

	src := findState(t, updated, comp1, comp1)
	if src.Pending != 0 || !src.IsComplete {
		t.Fatalf("drained source must complete: %+v", src)
	}

	dst := findState(t, updated, exchange, comp1)
	if dst.Received != 1000 {
		t.Fatalf("exchange received %d, want 1000", dst.Received)
	}
}

func TestNoFlowBackIntoComputors(t *testing.T) {
	states := []models.TrackingState{seed(comp1, 1000)}
	transfers := []models.Log{transfer(100, 1, comp1, comp2, 500)}

	updated, hops, _ := ProcessWindow(150, 151, testClassifier(), states, transfers, nil)

	// The hop is recorded but comp2 gains no tracking state.
	if len(hops) != 1 {
		t.Fatalf("got %d hops, want 1", len(hops))
	}
	for _, st := range updated {
		if st.Address == comp2 && st.Origin == comp1 {
			t.Fatalf("computor gained tracking state: %+v", st)
		}
	}

	src := findState(t, updated, comp1, comp1)
	if src.Sent != 500 || src.Pending != 500 {
		t.Fatalf("source state wrong: %+v", src)
	}
}

func TestHopLimitStopsTracking(t *testing.T) {
	atLimit := models.TrackingState{
		EmissionEpoch: 150,
		Address:       interm,
		Origin:        comp1,
		AddressType:   models.AddressTypeIntermediary,
		Received:      500,
		Pending:       500,
		HopLevel:      models.MaxHopLevels,
	}
	transfers := []models.Log{
		transfer(100, 1, interm, other, 200),
		transfer(100, 2, interm, exchange, 100),
	}

	updated, hops, _ := ProcessWindow(150, 151, testClassifier(), []models.TrackingState{atLimit}, transfers, nil)

	if len(hops) != 2 {
		t.Fatalf("got %d hops, want 2", len(hops))
	}

	// Non-terminal destination past the limit is not tracked.
	for _, st := range updated {
		if st.Address == other {
			t.Fatalf("destination past hop limit gained state: %+v", st)
		}
	}
	// Terminal destination still completes regardless of depth.
	x := findState(t, updated, exchange, comp1)
	if x.Received != 100 || !x.IsComplete {
		t.Fatalf("terminal past hop limit wrong: %+v", x)
	}
}

func TestUntrackedSourceIgnored(t *testing.T) {
	states := []models.TrackingState{seed(comp1, 1000)}
	transfers := []models.Log{transfer(100, 1, other, exchange, 999)}

	updated, hops, stats := ProcessWindow(150, 151, testClassifier(), states, transfers, nil)

	if len(hops) != 0 || len(updated) != 0 || stats.TransfersProcessed != 0 {
		t.Fatalf("untracked source produced output: hops=%d updated=%d stats=%+v",
			len(hops), len(updated), stats)
	}
}

func TestShareFlooring(t *testing.T) {
	// 3-way pending split, amount that does not divide evenly.
	states := []models.TrackingState{
		{EmissionEpoch: 150, Address: interm, Origin: comp1, AddressType: models.AddressTypeIntermediary, Received: 100, Pending: 100, HopLevel: 2},
		{EmissionEpoch: 150, Address: interm, Origin: comp2, AddressType: models.AddressTypeIntermediary, Received: 200, Pending: 200, HopLevel: 2},
	}
	transfers := []models.Log{transfer(100, 1, interm, exchange, 101)}

	updated, hops, _ := ProcessWindow(150, 151, testClassifier(), states, transfers, nil)

	var total int64
	for _, hop := range hops {
		total += hop.Amount
	}
	// 101*100/300 = 33, 101*200/300 = 67; dust stays pending at the source.
	if total != 100 {
		t.Fatalf("attributed %d, want 100", total)
	}
	i1 := findState(t, updated, interm, comp1)
	i2 := findState(t, updated, interm, comp2)
	if i1.Pending != 67 || i2.Pending != 133 {
		t.Fatalf("pendings = (%d, %d), want (67, 133)", i1.Pending, i2.Pending)
	}
}

func TestMulDiv(t *testing.T) {
	cases := []struct {
		a, b, c, want int64
	}{
		{600, 1000, 1000, 600},
		{101, 100, 300, 33},
		{101, 200, 300, 67},
		{1 << 40, 1 << 40, 1 << 40, 1 << 40}, // would overflow int64 naively
		{0, 5, 10, 0},
		{5, 0, 10, 0},
		{5, 5, 0, 0},
	}
	for _, tc := range cases {
		if got := mulDiv(tc.a, tc.b, tc.c); got != tc.want {
			t.Errorf("mulDiv(%d, %d, %d) = %d, want %d", tc.a, tc.b, tc.c, got, tc.want)
		}
	}
}
