// Package db provides shared SQL helpers for the staging store: a pool
// interface that pgxmock satisfies, single-row upserts for Postgres and
// SQLite, and PostGIS point encoding.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool used by the Postgres store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Querier runs a single-row query. pgx pools and transactions satisfy it
// directly; SQLite transactions through an adapter.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
