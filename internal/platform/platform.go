// Package platform is the seam between a venue's APIs and the engine.
package platform

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const stopTimeout = 5 * time.Second

// Platform streams a venue's market data into the engine.
type Platform interface {
	// Start blocks until ctx is cancelled or the platform's streams fail.
	Start(ctx context.Context) error
	// Stop releases the platform's streams. It may be called after Start returned.
	Stop(ctx context.Context) error
}

// Run starts every platform and stops all of them once the first one returns.
func Run(ctx context.Context, logger *slog.Logger, platforms ...Platform) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range platforms {
		g.Go(func() error { return p.Start(gctx) })
	}
	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	for _, p := range platforms {
		if stopErr := p.Stop(stopCtx); stopErr != nil {
			logger.Warn("couldn't stop platform", "error", stopErr)
		}
	}
	return err
}
