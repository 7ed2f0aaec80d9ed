package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/daszybak/polytrader/internal/engine/orderbook"
	"github.com/daszybak/polytrader/internal/store"
)

// SnapshotStore persists snapshot rows. *store.Store implements it.
type SnapshotStore interface {
	InsertOrderBookSnapshotBatch(ctx context.Context, arg []store.InsertOrderBookSnapshotBatchParams) (int64, error)
}

// SnapshotWriter periodically captures orderbook state and writes to the database.
type SnapshotWriter struct {
	engine   *Client
	store    SnapshotStore
	interval time.Duration
	depth    int
	logger   *slog.Logger
}

// NewSnapshotWriter creates a new snapshot writer.
func NewSnapshotWriter(engine *Client, s SnapshotStore, interval time.Duration, depth int, logger *slog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		engine:   engine,
		store:    s,
		interval: interval,
		depth:    depth,
		logger:   logger.With("component", "snapshot_writer"),
	}
}

// Start runs the snapshot writer until the context is cancelled.
func (sw *SnapshotWriter) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("started snapshot writer", "interval", sw.interval, "depth", sw.depth)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("snapshot writer stopped", "error", ctx.Err())
			return
		case <-ticker.C:
			sw.writeSnapshots(ctx, time.Now())
		}
	}
}

func (sw *SnapshotWriter) writeSnapshots(ctx context.Context, now time.Time) {
	snapshots := sw.engine.TakeSnapshots(sw.depth)

	var params []store.InsertOrderBookSnapshotBatchParams
	for _, snap := range snapshots {
		params = appendLevels(params, snap.TokenID, "bid", snap.Bids, now)
		params = appendLevels(params, snap.TokenID, "ask", snap.Asks, now)
	}
	if len(params) == 0 {
		return
	}

	count, err := sw.store.InsertOrderBookSnapshotBatch(ctx, params)
	if err != nil {
		sw.logger.Error("failed to write snapshots", "error", err)
		return
	}

	sw.logger.Debug("wrote snapshots", "tokens", len(snapshots), "rows", count)
}

// appendLevels adds one row per level. Rows carry the level's event time, or
// now when the source sent none; ingested_at is set by the database.
func appendLevels(params []store.InsertOrderBookSnapshotBatchParams, tokenID, side string, levels []orderbook.Level, now time.Time) []store.InsertOrderBookSnapshotBatchParams {
	for i, l := range levels {
		t := l.UpdatedAt
		if t.IsZero() {
			t = now
		}
		params = append(params, store.InsertOrderBookSnapshotBatchParams{
			Time:    t,
			TokenID: tokenID,
			Side:    side,
			Level:   int16(i),
			Price:   int64(l.Price),
			Size:    int64(l.Size),
		})
	}
	return params
}
