// Package sqlstore is the database-backed persistence backend. Records
// are JSON documents in one table per collection, so the schema stays
// stable as entities grow fields. The driver is picked from the DSN:
// postgres URLs use pgx, anything else is treated as a sqlite path.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type txKey struct{}

// SQLStore implements the store contract on database/sql.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	seqMu    sync.Mutex
}

// Open connects using the driver implied by the DSN.
func Open(dsn string) (*SQLStore, error) {
	driver := "sqlite"
	postgres := false
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
		postgres = true
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	return &SQLStore{db: db, postgres: postgres}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

var collectionTables = []string{
	"offers", "orders", "consents", "deliveries", "settlements",
	"disputes", "resources", "leases", "ledger_entries", "rewards",
	"reward_nonces", "revocation_jobs", "pending_anchors",
}

// Migrate creates the document tables and the audit log.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, table := range collectionTables {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`, table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlstore: migrate %s: %w", table, err)
		}
	}
	ddl := `CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGINT PRIMARY KEY,
		ts TEXT NOT NULL,
		data TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlstore: migrate audit_log: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log (ts)`); err != nil {
		return fmt.Errorf("sqlstore: index audit_log: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the transaction carried by ctx, or the bare pool.
func (s *SQLStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Transaction opens a native transaction and carries it through ctx to
// every store call inside fn. Nested calls join the outer transaction.
func (s *SQLStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) getDoc(ctx context.Context, table, id string, out any, notFound error) error {
	var data string
	query := s.rebind(fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, table))
	err := s.q(ctx).QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("sqlstore: get %s: %w", table, err)
	}
	return json.Unmarshal([]byte(data), out)
}

// putDoc upserts a document, overlaying the fresh encoding onto any
// stored one so unknown fields survive.
func (s *SQLStore) putDoc(ctx context.Context, table, id string, v any) error {
	fresh, err := json.Marshal(v)
	if err != nil {
		return err
	}
	q := s.q(ctx)
	var existing string
	sel := s.rebind(fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, table))
	err = q.QueryRowContext(ctx, sel, id).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlstore: put %s: %w", table, err)
	}
	data := fresh
	if existing != "" {
		var base, overlay map[string]any
		if json.Unmarshal([]byte(existing), &base) == nil && json.Unmarshal(fresh, &overlay) == nil {
			for k, val := range overlay {
				base[k] = val
			}
			if merged, mErr := json.Marshal(base); mErr == nil {
				data = merged
			}
		}
	}
	upsert := s.rebind(fmt.Sprintf(
		`INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET data = excluded.data`, table))
	if _, err := q.ExecContext(ctx, upsert, id, string(data)); err != nil {
		return fmt.Errorf("sqlstore: put %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) insertDoc(ctx context.Context, table, id string, v any, conflict error) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	query := s.rebind(fmt.Sprintf(
		`INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`, table))
	res, err := s.q(ctx).ExecContext(ctx, query, id, string(data))
	if err != nil {
		return fmt.Errorf("sqlstore: insert %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return conflict
	}
	return nil
}

func (s *SQLStore) deleteDoc(ctx context.Context, table, id string) error {
	query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table))
	if _, err := s.q(ctx).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("sqlstore: delete %s: %w", table, err)
	}
	return nil
}

// listDocs loads a whole collection; filtering happens in Go so both
// backends share one filter semantics.
func listDocs[T any](s *SQLStore, ctx context.Context, table string) ([]*T, error) {
	rows, err := s.q(ctx).QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list %s: %w", table, err)
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
