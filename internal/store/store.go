package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres mirror of markets, orders and book snapshots.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

// New creates a Store on pool. The Store owns the pool from then on.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: newQueries(pool),
		pool:    pool,
	}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WithTx runs fn in a transaction that is committed when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(*Queries) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(s.Queries.WithTx(tx))
	})
}

// SaveMarket upserts a market together with its outcome tokens.
func (s *Store) SaveMarket(ctx context.Context, market UpsertMarketParams, tokens []UpsertTokenParams) error {
	return s.WithTx(ctx, func(q *Queries) error {
		if err := q.UpsertMarket(ctx, market); err != nil {
			return fmt.Errorf("upsert market %s: %w", market.ID, err)
		}
		for _, t := range tokens {
			t.MarketID = market.ID
			if err := q.UpsertToken(ctx, t); err != nil {
				return fmt.Errorf("upsert token %s: %w", t.ID, err)
			}
		}
		return nil
	})
}
