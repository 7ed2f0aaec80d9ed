package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNotFound is returned when a looked up row doesn't exist.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type Queries struct {
	db DBTX
}

func newQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q running every query on tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const upsertMarket = `
INSERT INTO markets (id, platform, description, end_date)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET description = EXCLUDED.description,
    end_date    = EXCLUDED.end_date,
    updated_at  = NOW()`

type UpsertMarketParams struct {
	ID          string
	Platform    string
	Description string
	EndDate     pgtype.Timestamptz
}

func (q *Queries) UpsertMarket(ctx context.Context, arg UpsertMarketParams) error {
	_, err := q.db.Exec(ctx, upsertMarket, arg.ID, arg.Platform, arg.Description, arg.EndDate)
	return err
}

const upsertToken = `
INSERT INTO tokens (id, market_id, outcome)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET outcome = EXCLUDED.outcome`

type UpsertTokenParams struct {
	ID       string
	MarketID string
	Outcome  string
}

func (q *Queries) UpsertToken(ctx context.Context, arg UpsertTokenParams) error {
	_, err := q.db.Exec(ctx, upsertToken, arg.ID, arg.MarketID, arg.Outcome)
	return err
}

const getTokenIDsForPlatform = `
SELECT t.id
FROM tokens t
JOIN markets m ON m.id = t.market_id
WHERE m.platform = $1
ORDER BY t.id`

func (q *Queries) GetTokenIDsForPlatform(ctx context.Context, platform string) ([]string, error) {
	rows, err := q.db.Query(ctx, getTokenIDsForPlatform, platform)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type InsertOrderBookSnapshotBatchParams struct {
	Time    time.Time
	TokenID string
	Side    string
	Level   int16
	Price   int64
	Size    int64
}

// InsertOrderBookSnapshotBatch bulk loads snapshot rows with COPY.
func (q *Queries) InsertOrderBookSnapshotBatch(ctx context.Context, arg []InsertOrderBookSnapshotBatchParams) (int64, error) {
	return q.db.CopyFrom(ctx,
		pgx.Identifier{"orderbook_snapshots"},
		[]string{"time", "token_id", "side", "level", "price", "size"},
		pgx.CopyFromSlice(len(arg), func(i int) ([]any, error) {
			r := arg[i]
			return []any{r.Time, r.TokenID, r.Side, r.Level, r.Price, r.Size}, nil
		}),
	)
}

type Order struct {
	ID           string
	TokenID      string
	Side         string
	OrderType    string
	Price        int64
	OriginalSize int64
	SizeMatched  int64
	MakerAmount  int64
	TakerAmount  int64
	Status       string
	Maker        string
	Expiration   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const upsertOrder = `
INSERT INTO orders (id, token_id, side, order_type, price, original_size, size_matched,
                    maker_amount, taker_amount, status, maker, expiration)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE
SET status       = EXCLUDED.status,
    size_matched = GREATEST(orders.size_matched, EXCLUDED.size_matched),
    updated_at   = NOW()`

type UpsertOrderParams struct {
	ID           string
	TokenID      string
	Side         string
	OrderType    string
	Price        int64
	OriginalSize int64
	SizeMatched  int64
	MakerAmount  int64
	TakerAmount  int64
	Status       string
	Maker        string
	Expiration   int64
}

func (q *Queries) UpsertOrder(ctx context.Context, arg UpsertOrderParams) error {
	_, err := q.db.Exec(ctx, upsertOrder,
		arg.ID, arg.TokenID, arg.Side, arg.OrderType, arg.Price, arg.OriginalSize, arg.SizeMatched,
		arg.MakerAmount, arg.TakerAmount, arg.Status, arg.Maker, arg.Expiration,
	)
	return err
}

const updateOrderStatus = `
UPDATE orders
SET status       = $2,
    size_matched = GREATEST(size_matched, $3),
    updated_at   = NOW()
WHERE id = $1`

type UpdateOrderStatusParams struct {
	ID          string
	Status      string
	SizeMatched int64
}

// UpdateOrderStatus fails with ErrNotFound when the order isn't mirrored.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) error {
	tag, err := q.db.Exec(ctx, updateOrderStatus, arg.ID, arg.Status, arg.SizeMatched)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", arg.ID, ErrNotFound)
	}
	return nil
}

const orderColumns = `id, token_id, side, order_type, price, original_size, size_matched,
       maker_amount, taker_amount, status, maker, expiration, created_at, updated_at`

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	rows, err := q.db.Query(ctx, getOrder, id)
	if err != nil {
		return Order{}, err
	}
	o, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

const listOrdersByStatus = `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at`

func (q *Queries) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersByStatus, status)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Order])
}
