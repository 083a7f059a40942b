package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// schemaSQL is compiled into the binary at build time so schema init works in
// runtime images that do not ship the source tree.
//
//go:embed schema.sql
var schemaSQL string

// batchSize caps every bulk insert; mutations are single statements and no
// long-lived write transactions are held.
const batchSize = 10000

// Store is the columnar OLAP store backing every worker. All mutation is
// append or idempotent upsert (ReplacingMergeTree keyed rows).
type Store struct {
	conn driver.Conn
}

// Connect opens the ClickHouse connection from a DSN and verifies it with a
// ping.
func Connect(dsn string) (*Store, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Println("Successfully connected to ClickHouse for the analytics store")
	return &Store{conn: conn}, nil
}

// Close releases the connection.
func (s *Store) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// InitSchema executes the embedded DDL statement by statement; ClickHouse
// does not accept multi-statement scripts over the native protocol.
func (s *Store) InitSchema() error {
	ctx := context.Background()
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	log.Println("Analytics store schema initialized")
	return nil
}

// sendBatch appends rows in chunks of batchSize. append receives the index of
// the row to add to the open batch.
func (s *Store) sendBatch(ctx context.Context, insert string, total int, appendRow func(driver.Batch, int) error) error {
	for offset := 0; offset < total; offset += batchSize {
		end := offset + batchSize
		if end > total {
			end = total
		}

		batch, err := s.conn.PrepareBatch(ctx, insert)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		for i := offset; i < end; i++ {
			if err := appendRow(batch, i); err != nil {
				return fmt.Errorf("append row %d: %w", i, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send batch: %w", err)
		}
	}
	return nil
}
