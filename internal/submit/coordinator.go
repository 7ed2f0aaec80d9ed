// Package submit sends signed orders to the exchange and interprets its answers.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/daszybak/polytrader/internal/order"
	"github.com/daszybak/polytrader/internal/polymarket/clob"
	"github.com/daszybak/polytrader/internal/store"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

// Exchange is the order API of the exchange.
type Exchange interface {
	PostOrder(ctx context.Context, o order.SignedOrder) (clob.OrderResponse, error)
	PostOrders(ctx context.Context, orders []order.SignedOrder) ([]clob.OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*clob.OpenOrder, error)
	CancelOrder(ctx context.Context, orderID string) (clob.CancelResponse, error)
	CancelOrders(ctx context.Context, orderIDs []string) (clob.CancelResponse, error)
	CancelAll(ctx context.Context) (clob.CancelResponse, error)
}

// Recorder keeps a local mirror of submitted orders. *store.Store implements it.
type Recorder interface {
	UpsertOrder(ctx context.Context, arg store.UpsertOrderParams) error
	UpdateOrderStatus(ctx context.Context, arg store.UpdateOrderStatusParams) error
}

type Config struct {
	// Timeout bounds every exchange call.
	Timeout time.Duration
	// MaxAttempts bounds how often one order is posted or looked up after a transport failure.
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	// RateLimit is the number of exchange calls per second. Zero disables pacing.
	RateLimit float64
	Burst     int
	// BatchSize defaults to clob.MaxBatchSize.
	BatchSize int
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 200 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = 5 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BatchSize <= 0 || c.BatchSize > clob.MaxBatchSize {
		c.BatchSize = clob.MaxBatchSize
	}
}

// Coordinator submits and cancels orders.
type Coordinator struct {
	cfg      Config
	exchange Exchange
	recorder Recorder
	limiter  *rate.Limiter
	logger   *slog.Logger
}

type Option func(*Coordinator)

// WithRecorder mirrors every accepted order and status change.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

func New(cfg Config, exchange Exchange, logger *slog.Logger, opts ...Option) *Coordinator {
	cfg.setDefaults()

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	c := &Coordinator{
		cfg:      cfg,
		exchange: exchange,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		logger:   logger.With("component", "submit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) newBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.cfg.BackoffMin,
		Max:    c.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}
}

// Submit posts one order. Rejections are reported on the Result; the error is
// only set, and equal to Result.Err, when the outcome is unknown or the
// request could not be made at all.
func (c *Coordinator) Submit(ctx context.Context, o order.SignedOrder) (Result, error) {
	logger := c.logger.With("request_id", uuid.NewString(), "order", o.ID())
	res := c.submit(ctx, logger, o, false, nil)
	return res, res.Err
}

// submit runs the post/reconcile loop. A failed post is followed by a status
// query; the order is posted again only when the exchange doesn't know it.
func (c *Coordinator) submit(ctx context.Context, logger *slog.Logger, o order.SignedOrder, reconcile bool, lastErr error) Result {
	b := c.newBackoff()

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 || reconcile {
			if err := sleep(ctx, b.Duration()); err != nil {
				return c.settle(ctx, logger, o, err)
			}
		}

		if reconcile {
			rec, err := c.lookup(ctx, o)
			switch {
			case err == nil:
				logger.Info("order reached the exchange despite the failed request", "status", rec.Status)
				c.record(ctx, rec)
				return Result{Record: rec}
			case errors.Is(err, ErrOrderNotFound):
				logger.Info("order not on the exchange, posting again", "attempt", attempt)
			default:
				logger.Warn("couldn't reconcile order", "attempt", attempt, "error", err)
				lastErr = err
				continue
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			if reconcile {
				return c.settle(ctx, logger, o, err)
			}
			return Result{Err: fmt.Errorf("couldn't submit order %s: %w", o.ID(), err)}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.exchange.PostOrder(callCtx, o)
		cancel()
		if err == nil {
			return c.interpret(ctx, logger, o, resp)
		}
		// The request was sent, so the caller giving up says nothing about the order.
		if ctx.Err() != nil {
			return c.settle(ctx, logger, o, err)
		}
		if !transient(ctx, err) {
			return Result{Err: fmt.Errorf("couldn't submit order %s: %w", o.ID(), err)}
		}

		logger.Warn("order submission failed", "attempt", attempt, "error", err)
		lastErr = err
		reconcile = true
	}

	if reconcile {
		if rec, err := c.lookup(ctx, o); err == nil {
			c.record(ctx, rec)
			return Result{Record: rec}
		}
	}
	return Result{Err: fmt.Errorf("%w: order %s after %d attempts: %w", ErrOutcomeUnknown, o.ID(), c.cfg.MaxAttempts, lastErr)}
}

func (c *Coordinator) interpret(ctx context.Context, logger *slog.Logger, o order.SignedOrder, resp clob.OrderResponse) Result {
	if resp.Success {
		rec := recordFromResponse(o, resp)
		logger.Info("order accepted", "order_id", rec.OrderID, "status", rec.Status)
		c.record(ctx, rec)
		return Result{Record: rec}
	}

	rej := &Rejection{
		Code:      ClassifyRejection(resp.ErrorMsg),
		Message:   resp.ErrorMsg,
		OrderHash: o.ID(),
	}

	// A duplicate means an earlier copy of this exact order is on the exchange.
	if rej.Code == RejectDuplicated {
		if rec, err := c.lookup(ctx, o); err == nil {
			logger.Info("order already on the exchange", "status", rec.Status)
			c.record(ctx, rec)
			return Result{Record: rec}
		}
	}

	logger.Info("order rejected", "code", rej.Code, "message", rej.Message)
	return Result{Rejection: rej}
}

// SubmitBatch posts orders in chunks. Results always line up with orders. The
// error is set when a chunk failed outright; that chunk and every later one
// then carry the failure in Result.Err, earlier chunks keep their results.
func (c *Coordinator) SubmitBatch(ctx context.Context, orders []order.SignedOrder) ([]Result, error) {
	logger := c.logger.With("request_id", uuid.NewString(), "orders", len(orders))
	results := make([]Result, len(orders))

	next := 0
	for chunk := range slices.Chunk(orders, c.cfg.BatchSize) {
		out := results[next : next+len(chunk)]
		next += len(chunk)

		if err := c.postChunk(ctx, logger, chunk, out); err != nil {
			for i, o := range orders[next:] {
				results[next+i] = Result{Err: fmt.Errorf("couldn't submit order %s: batch aborted: %w", o.ID(), err)}
			}
			return results, fmt.Errorf("couldn't submit batch: %w", err)
		}
	}
	return results, nil
}

// postChunk fills out with one result per order of chunk, whatever happens.
func (c *Coordinator) postChunk(ctx context.Context, logger *slog.Logger, chunk []order.SignedOrder, out []Result) error {
	if err := c.limiter.Wait(ctx); err != nil {
		for i, o := range chunk {
			out[i] = Result{Err: fmt.Errorf("couldn't submit order %s: %w", o.ID(), err)}
		}
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	resps, err := c.exchange.PostOrders(callCtx, chunk)
	cancel()

	switch {
	case err != nil && ctx.Err() != nil:
		for i, o := range chunk {
			out[i] = c.settle(ctx, logger.With("order", o.ID()), o, err)
		}
		return err
	case err != nil && transient(ctx, err):
		logger.Warn("batch submission failed, reconciling orders one by one", "chunk", len(chunk), "error", err)
		for i, o := range chunk {
			out[i] = c.submit(ctx, logger.With("order", o.ID()), o, true, err)
		}
		return nil
	case err != nil:
		for i, o := range chunk {
			out[i] = Result{Err: fmt.Errorf("couldn't submit order %s: %w", o.ID(), err)}
		}
		return err
	case len(resps) != len(chunk):
		err := fmt.Errorf("%d orders, %d responses", len(chunk), len(resps))
		for i, o := range chunk {
			out[i] = c.settle(ctx, logger.With("order", o.ID()), o, err)
		}
		return err
	}

	for i, o := range chunk {
		out[i] = c.interpret(ctx, logger.With("order", o.ID()), o, resps[i])
	}
	return nil
}

// Status returns the exchange view of an order.
func (c *Coordinator) Status(ctx context.Context, orderID string) (OrderRecord, error) {
	var rec *OrderRecord
	err := c.retry(ctx, func(ctx context.Context) error {
		oo, err := c.exchange.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		rec = recordFromOpenOrder(oo, order.SignedOrder{})
		return nil
	})
	if err != nil {
		return OrderRecord{}, mapNotFound(orderID, err)
	}
	c.updateStatus(ctx, rec)
	return *rec, nil
}

// Cancel cancels one order. It fails with ErrOrderNotFound for unknown orders
// and with ErrCancelRefused when the order can't be cancelled anymore.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) (Ack, error) {
	var resp clob.CancelResponse
	err := c.retry(ctx, func(ctx context.Context) (err error) {
		resp, err = c.exchange.CancelOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return Ack{}, mapNotFound(orderID, err)
	}

	ack := ackFromResponse(resp)
	if err := cancelOutcome(orderID, ack); err != nil {
		return ack, err
	}
	c.markCancelled(ctx, ack.Canceled)
	return ack, nil
}

// CancelMany cancels orderIDs, reporting the outcome per id in input order.
func (c *Coordinator) CancelMany(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	var resp clob.CancelResponse
	err := c.retry(ctx, func(ctx context.Context) (err error) {
		resp, err = c.exchange.CancelOrders(ctx, orderIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	ack := ackFromResponse(resp)
	results := make([]CancelResult, len(orderIDs))
	for i, id := range orderIDs {
		results[i] = CancelResult{OrderID: id, Err: cancelOutcome(id, ack)}
	}
	c.markCancelled(ctx, ack.Canceled)
	return results, nil
}

// CancelAll cancels every open order of the account.
func (c *Coordinator) CancelAll(ctx context.Context) (Ack, error) {
	var resp clob.CancelResponse
	err := c.retry(ctx, func(ctx context.Context) (err error) {
		resp, err = c.exchange.CancelAll(ctx)
		return err
	})
	if err != nil {
		return Ack{}, err
	}

	ack := ackFromResponse(resp)
	c.logger.Info("cancelled all orders", "canceled", len(ack.Canceled), "not_canceled", len(ack.NotCanceled))
	c.markCancelled(ctx, ack.Canceled)
	return ack, nil
}

// retry runs an idempotent call with bounded backoff on transport failures.
func (c *Coordinator) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := c.newBackoff()
	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, b.Duration()); serr != nil {
				return fmt.Errorf("%w (last error: %w)", serr, err)
			}
		}
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err = fn(callCtx)
		cancel()
		if err == nil || !transient(ctx, err) {
			return err
		}
		c.logger.Warn("exchange call failed", "attempt", attempt, "error", err)
	}
	return err
}

// settle runs one last status query for an order that may have reached the
// exchange. It is detached from ctx, which may already be done, and bounded by
// the call timeout. An order that can't be found stays ErrOutcomeUnknown.
func (c *Coordinator) settle(ctx context.Context, logger *slog.Logger, o order.SignedOrder, cause error) Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	rec, err := c.lookup(ctx, o)
	if err != nil {
		logger.Warn("couldn't settle order outcome", "cause", cause, "error", err)
		return Result{Err: fmt.Errorf("%w: order %s: %w (status query: %v)", ErrOutcomeUnknown, o.ID(), cause, err)}
	}
	logger.Info("order reached the exchange despite the failed request", "status", rec.Status)
	c.record(ctx, rec)
	return Result{Record: rec}
}

func (c *Coordinator) lookup(ctx context.Context, o order.SignedOrder) (*OrderRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	oo, err := c.exchange.GetOrder(callCtx, o.ID())
	if err != nil {
		return nil, mapNotFound(o.ID(), err)
	}
	return recordFromOpenOrder(oo, o), nil
}

func (c *Coordinator) record(ctx context.Context, rec *OrderRecord) {
	if c.recorder == nil {
		return
	}
	o := rec.Order
	err := c.recorder.UpsertOrder(ctx, store.UpsertOrderParams{
		ID:           rec.OrderID,
		TokenID:      o.TokenID,
		Side:         o.Side.String(),
		OrderType:    string(o.Type),
		Price:        int64(o.Price),
		OriginalSize: int64(o.Size),
		SizeMatched:  int64(rec.SizeMatched),
		MakerAmount:  o.MakerAmount,
		TakerAmount:  o.TakerAmount,
		Status:       string(rec.Status),
		Maker:        o.Maker.Hex(),
		Expiration:   o.Expiration,
	})
	if err != nil {
		c.logger.Error("couldn't record order", "order_id", rec.OrderID, "error", err)
	}
}

func (c *Coordinator) updateStatus(ctx context.Context, rec *OrderRecord) {
	if c.recorder == nil || rec.Status == "" {
		return
	}
	err := c.recorder.UpdateOrderStatus(ctx, store.UpdateOrderStatusParams{
		ID:          rec.OrderID,
		Status:      string(rec.Status),
		SizeMatched: int64(rec.SizeMatched),
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Error("couldn't update order status", "order_id", rec.OrderID, "error", err)
	}
}

func (c *Coordinator) markCancelled(ctx context.Context, ids []string) {
	for _, id := range ids {
		c.updateStatus(ctx, &OrderRecord{OrderID: id, Status: StatusCancelled})
	}
}

func recordFromResponse(o order.SignedOrder, resp clob.OrderResponse) *OrderRecord {
	id := resp.OrderID
	if id == "" {
		id = o.ID()
	}
	status, ok := ParseStatus(resp.Status)
	if !ok {
		status = StatusLive
	}
	return &OrderRecord{
		OrderID:           id,
		Status:            status,
		Order:             o,
		MakingAmount:      resp.MakingAmount,
		TakingAmount:      resp.TakingAmount,
		TransactionHashes: resp.TransactionHashes,
	}
}

func recordFromOpenOrder(oo *clob.OpenOrder, o order.SignedOrder) *OrderRecord {
	status, ok := ParseStatus(oo.Status)
	if !ok {
		status = Status(strings.ToUpper(oo.Status))
	}
	return &OrderRecord{
		OrderID:     oo.ID,
		Status:      status,
		Order:       o,
		SizeMatched: oo.SizeMatched,
	}
}

func ackFromResponse(resp clob.CancelResponse) Ack {
	return Ack{Canceled: resp.Canceled, NotCanceled: resp.NotCanceled}
}

func cancelOutcome(orderID string, ack Ack) error {
	if slices.Contains(ack.Canceled, orderID) {
		return nil
	}
	reason, refused := ack.NotCanceled[orderID]
	if !refused || isNotFoundReason(reason) {
		return fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	return fmt.Errorf("order %s: %w: %s", orderID, ErrCancelRefused, reason)
}

func isNotFoundReason(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "not found") || strings.Contains(r, "doesn't exist") || strings.Contains(r, "does not exist")
}

func mapNotFound(orderID string, err error) error {
	if errors.Is(err, clob.ErrNotFound) {
		return fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	return err
}

// transient reports whether a failed call may have been cut short rather than refused.
func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
