package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row with a caller-supplied scan function.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over an in-memory slice of scan functions.
type rowsStub struct {
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (r *rowsStub) Next() bool                                   { return r.idx < len(r.scans) }
func (r *rowsStub) Scan(dest ...any) error                       { s := r.scans[r.idx]; r.idx++; return s(dest...) }
func (r *rowsStub) Err() error                                    { return r.err }
func (r *rowsStub) Close()                                        {}
func (r *rowsStub) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription  { return nil }
func (r *rowsStub) Values() ([]any, error)                        { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                           { return nil }
func (r *rowsStub) Conn() *pgx.Conn                               { return nil }

// txStub implements pgx.Tx by delegating Exec/QueryRow/Query to the owning
// poolStub and recording Commit/Rollback calls.
type txStub struct {
	pool       *poolStub
	committed  bool
	rolledBack bool
}

func (t *txStub) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *txStub) Commit(ctx context.Context) error {
	if t.pool.commitErr != nil {
		return t.pool.commitErr
	}
	t.committed = true
	return nil
}
func (t *txStub) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }
func (t *txStub) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.pool.Exec(ctx, sql, args...)
}
func (t *txStub) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.pool.QueryRow(ctx, sql, args...)
}
func (t *txStub) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.pool.Query(ctx, sql, args...)
}
func (t *txStub) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (t *txStub) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *txStub) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *txStub) Conn() *pgx.Conn { return nil }

// poolStub implements postgres.PgxPool for unit tests. Each field is a
// configurable behavior; zero values produce success/empty results.
type poolStub struct {
	execErr   error
	row       rowStub
	rows      *rowsStub
	queryErr  error
	beginErr  error
	commitErr error
}

func (p *poolStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 1"), p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	return &txStub{pool: p}, nil
}
