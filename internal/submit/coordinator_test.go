package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daszybak/polytrader/internal/order"
	"github.com/daszybak/polytrader/internal/polymarket/clob"
	"github.com/daszybak/polytrader/internal/store"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

var unavailable = &httpclient.StatusError{Method: http.MethodPost, URL: "/order", StatusCode: http.StatusServiceUnavailable}

type fakeExchange struct {
	mu         sync.Mutex
	posts      int
	batches    []int
	lookups    int
	postFn     func(o order.SignedOrder) (clob.OrderResponse, error)
	batchFn    func(orders []order.SignedOrder) ([]clob.OrderResponse, error)
	getFn      func(id string) (*clob.OpenOrder, error)
	cancelResp clob.CancelResponse
	cancelErr  error
}

func (f *fakeExchange) PostOrder(_ context.Context, o order.SignedOrder) (clob.OrderResponse, error) {
	f.mu.Lock()
	f.posts++
	f.mu.Unlock()
	return f.postFn(o)
}

func (f *fakeExchange) PostOrders(_ context.Context, orders []order.SignedOrder) ([]clob.OrderResponse, error) {
	f.mu.Lock()
	f.batches = append(f.batches, len(orders))
	f.mu.Unlock()
	if f.batchFn != nil {
		return f.batchFn(orders)
	}
	resps := make([]clob.OrderResponse, len(orders))
	for i, o := range orders {
		resps[i] = clob.OrderResponse{Success: true, OrderID: o.ID(), Status: "live"}
	}
	return resps, nil
}

func (f *fakeExchange) GetOrder(_ context.Context, id string) (*clob.OpenOrder, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()
	if f.getFn == nil {
		return nil, fmt.Errorf("order %s: %w", id, clob.ErrNotFound)
	}
	return f.getFn(id)
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string) (clob.CancelResponse, error) {
	return f.cancelResp, f.cancelErr
}

func (f *fakeExchange) CancelOrders(_ context.Context, _ []string) (clob.CancelResponse, error) {
	return f.cancelResp, f.cancelErr
}

func (f *fakeExchange) CancelAll(_ context.Context) (clob.CancelResponse, error) {
	return f.cancelResp, f.cancelErr
}

type fakeRecorder struct {
	mu       sync.Mutex
	upserted []store.UpsertOrderParams
	updated  []store.UpdateOrderStatusParams
}

func (r *fakeRecorder) UpsertOrder(_ context.Context, arg store.UpsertOrderParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted = append(r.upserted, arg)
	return nil
}

func (r *fakeRecorder) UpdateOrderStatus(_ context.Context, arg store.UpdateOrderStatusParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, arg)
	return nil
}

func testOrder(n int64) order.SignedOrder {
	return order.SignedOrder{
		UnsignedOrder: order.UnsignedOrder{
			TokenID:     "1234",
			MakerAmount: 5_500_000,
			TakerAmount: 10_000_000,
			Side:        order.Buy,
			Type:        order.GTC,
		},
		Hash: common.BigToHash(big.NewInt(n)),
	}
}

func testOrders(n int) []order.SignedOrder {
	orders := make([]order.SignedOrder, n)
	for i := range orders {
		orders[i] = testOrder(int64(i + 1))
	}
	return orders
}

func newTestCoordinator(ex Exchange, opts ...Option) *Coordinator {
	cfg := Config{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}
	return New(cfg, ex, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestSubmit_Accepted(t *testing.T) {
	o := testOrder(1)
	ex := &fakeExchange{
		postFn: func(o order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{Success: true, OrderID: o.ID(), Status: "matched", MakingAmount: "5.5", TakingAmount: "10"}, nil
		},
	}
	rec := &fakeRecorder{}
	c := newTestCoordinator(ex, WithRecorder(rec))

	res, err := c.Submit(context.Background(), o)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Accepted() {
		t.Fatalf("Submit() rejected: %+v", res.Rejection)
	}
	if res.Record.OrderID != o.ID() || res.Record.Status != StatusMatched {
		t.Errorf("record = %+v", res.Record)
	}
	if len(rec.upserted) != 1 || rec.upserted[0].Status != string(StatusMatched) || rec.upserted[0].MakerAmount != 5_500_000 {
		t.Errorf("recorded = %+v", rec.upserted)
	}
}

func TestSubmit_RejectionIsNotRetried(t *testing.T) {
	ex := &fakeExchange{
		postFn: func(order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{ErrorMsg: "not enough balance / allowance"}, nil
		},
	}
	c := newTestCoordinator(ex)

	res, err := c.Submit(context.Background(), testOrder(1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Accepted() || res.Rejection == nil {
		t.Fatalf("expected a rejection, got %+v", res)
	}
	if res.Rejection.Code != RejectInsufficientBalance {
		t.Errorf("code = %s, want %s", res.Rejection.Code, RejectInsufficientBalance)
	}
	if ex.posts != 1 || ex.lookups != 0 {
		t.Errorf("posts = %d, lookups = %d, want 1 and 0", ex.posts, ex.lookups)
	}
}

func TestSubmit_TimeoutThenFound(t *testing.T) {
	o := testOrder(7)
	ex := &fakeExchange{
		postFn: func(order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{}, fmt.Errorf("couldn't post order: %w", context.DeadlineExceeded)
		},
		getFn: func(id string) (*clob.OpenOrder, error) {
			return &clob.OpenOrder{ID: id, Status: "LIVE"}, nil
		},
	}
	c := newTestCoordinator(ex)

	res, err := c.Submit(context.Background(), o)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Accepted() || res.Record.Status != StatusLive || res.Record.OrderID != o.ID() {
		t.Fatalf("result = %+v", res)
	}
	if ex.posts != 1 {
		t.Errorf("posts = %d, want 1: a found order must not be resubmitted", ex.posts)
	}
}

func TestSubmit_TimeoutThenNotFoundResubmits(t *testing.T) {
	calls := 0
	ex := &fakeExchange{
		postFn: func(o order.SignedOrder) (clob.OrderResponse, error) {
			calls++
			if calls == 1 {
				return clob.OrderResponse{}, unavailable
			}
			return clob.OrderResponse{Success: true, OrderID: o.ID(), Status: "live"}, nil
		},
	}
	c := newTestCoordinator(ex)

	res, err := c.Submit(context.Background(), testOrder(1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Accepted() {
		t.Fatalf("result = %+v", res)
	}
	if ex.posts != 2 || ex.lookups != 1 {
		t.Errorf("posts = %d, lookups = %d, want 2 and 1", ex.posts, ex.lookups)
	}
}

func TestSubmit_OutcomeUnknown(t *testing.T) {
	ex := &fakeExchange{
		postFn: func(order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{}, unavailable
		},
		getFn: func(string) (*clob.OpenOrder, error) {
			return nil, &httpclient.StatusError{StatusCode: http.StatusBadGateway}
		},
	}
	c := newTestCoordinator(ex)

	res, err := c.Submit(context.Background(), testOrder(1))
	if !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("Submit() error = %v, want ErrOutcomeUnknown", err)
	}
	if !errors.Is(res.Err, ErrOutcomeUnknown) || res.Accepted() {
		t.Errorf("result = %+v", res)
	}
	if ex.posts != 1 {
		t.Errorf("posts = %d, want 1: an order that may exist must not be posted again", ex.posts)
	}
}

func TestSubmit_NotFoundEveryTime(t *testing.T) {
	ex := &fakeExchange{
		postFn: func(order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{}, unavailable
		},
	}
	c := newTestCoordinator(ex)

	_, err := c.Submit(context.Background(), testOrder(1))
	if !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("Submit() error = %v, want ErrOutcomeUnknown", err)
	}
	if ex.posts != 3 {
		t.Errorf("posts = %d, want 3", ex.posts)
	}
}

func TestSubmit_CallerDeadlineReconciles(t *testing.T) {
	tests := []struct {
		name         string
		getFn        func(id string) (*clob.OpenOrder, error)
		wantAccepted bool
	}{
		{
			name: "order landed",
			getFn: func(id string) (*clob.OpenOrder, error) {
				return &clob.OpenOrder{ID: id, Status: "live"}, nil
			},
			wantAccepted: true,
		},
		{
			name: "order not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExchange{
				postFn: func(order.SignedOrder) (clob.OrderResponse, error) {
					time.Sleep(100 * time.Millisecond)
					return clob.OrderResponse{}, context.DeadlineExceeded
				},
				getFn: tt.getFn,
			}
			c := newTestCoordinator(ex)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			res, err := c.Submit(ctx, testOrder(1))
			if ex.posts != 1 || ex.lookups != 1 {
				t.Errorf("posts = %d, lookups = %d, want 1 and 1", ex.posts, ex.lookups)
			}
			if tt.wantAccepted {
				if err != nil || !res.Accepted() {
					t.Fatalf("Submit() = %+v, %v, want the order found on the exchange", res, err)
				}
				return
			}
			if !errors.Is(err, ErrOutcomeUnknown) {
				t.Fatalf("Submit() error = %v, want ErrOutcomeUnknown", err)
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("cause lost: %v", err)
			}
		})
	}
}

func TestSubmit_AuthFailureIsNotReconciled(t *testing.T) {
	ex := &fakeExchange{
		postFn: func(order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{}, &httpclient.StatusError{StatusCode: http.StatusUnauthorized}
		},
	}
	c := newTestCoordinator(ex)

	_, err := c.Submit(context.Background(), testOrder(1))
	if err == nil || errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("Submit() error = %v, want a plain failure", err)
	}
	if !httpclient.IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("status error lost: %v", err)
	}
	if ex.posts != 1 || ex.lookups != 0 {
		t.Errorf("posts = %d, lookups = %d, want 1 and 0", ex.posts, ex.lookups)
	}
}

func TestSubmit_DuplicateLooksUpExisting(t *testing.T) {
	ex := &fakeExchange{
		postFn: func(order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{ErrorMsg: "INVALID_ORDER_DUPLICATED"}, nil
		},
		getFn: func(id string) (*clob.OpenOrder, error) {
			return &clob.OpenOrder{ID: id, Status: "live"}, nil
		},
	}
	c := newTestCoordinator(ex)

	res, err := c.Submit(context.Background(), testOrder(3))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Accepted() || res.Record.Status != StatusLive {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmitBatch_PerOrderResults(t *testing.T) {
	orders := testOrders(3)
	ex := &fakeExchange{
		batchFn: func(orders []order.SignedOrder) ([]clob.OrderResponse, error) {
			return []clob.OrderResponse{
				{Success: true, OrderID: orders[0].ID(), Status: "live"},
				{Success: true, OrderID: orders[1].ID(), Status: "matched"},
				{ErrorMsg: "order crosses book: invalid tick size"},
			}, nil
		},
	}
	c := newTestCoordinator(ex)

	results, err := c.SubmitBatch(context.Background(), orders)
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Accepted() || !results[1].Accepted() {
		t.Errorf("first two orders should be accepted: %+v %+v", results[0], results[1])
	}
	if results[1].Record.Status != StatusMatched {
		t.Errorf("results[1].Status = %s", results[1].Record.Status)
	}
	rej := results[2].Rejection
	if rej == nil || rej.Code != RejectInvalidTickSize || rej.OrderHash != orders[2].ID() {
		t.Errorf("results[2] = %+v", results[2])
	}
}

func TestSubmitBatch_Chunks(t *testing.T) {
	orders := testOrders(20)
	ex := &fakeExchange{}
	c := newTestCoordinator(ex)

	results, err := c.SubmitBatch(context.Background(), orders)
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if !slices.Equal(ex.batches, []int{15, 5}) {
		t.Errorf("batches = %v, want [15 5]", ex.batches)
	}
	for i, r := range results {
		if !r.Accepted() || r.Record.OrderID != orders[i].ID() {
			t.Fatalf("results[%d] = %+v, out of order or rejected", i, r)
		}
	}
}

func TestSubmitBatch_TransportFailureReconcilesEachOrder(t *testing.T) {
	orders := testOrders(2)
	ex := &fakeExchange{
		batchFn: func([]order.SignedOrder) ([]clob.OrderResponse, error) {
			return nil, unavailable
		},
		getFn: func(id string) (*clob.OpenOrder, error) {
			if id == orders[0].ID() {
				return &clob.OpenOrder{ID: id, Status: "live"}, nil
			}
			return nil, clob.ErrNotFound
		},
		postFn: func(o order.SignedOrder) (clob.OrderResponse, error) {
			return clob.OrderResponse{Success: true, OrderID: o.ID(), Status: "live"}, nil
		},
	}
	c := newTestCoordinator(ex)

	results, err := c.SubmitBatch(context.Background(), orders)
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if !results[0].Accepted() || !results[1].Accepted() {
		t.Fatalf("results = %+v", results)
	}
	if ex.posts != 1 {
		t.Errorf("posts = %d, want 1: only the missing order is posted again", ex.posts)
	}
}

func TestSubmitBatch_FailedChunkKeepsPositions(t *testing.T) {
	orders := testOrders(20)
	chunks := 0
	ex := &fakeExchange{
		batchFn: func(chunk []order.SignedOrder) ([]clob.OrderResponse, error) {
			chunks++
			if chunks == 2 {
				return nil, &httpclient.StatusError{StatusCode: http.StatusUnauthorized}
			}
			resps := make([]clob.OrderResponse, len(chunk))
			for i, o := range chunk {
				resps[i] = clob.OrderResponse{Success: true, OrderID: o.ID(), Status: "live"}
			}
			return resps, nil
		},
	}
	c := newTestCoordinator(ex)

	results, err := c.SubmitBatch(context.Background(), orders)
	if !httpclient.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("SubmitBatch() error = %v, want the 401", err)
	}
	if len(results) != len(orders) {
		t.Fatalf("got %d results for %d orders", len(results), len(orders))
	}
	for i, r := range results[:15] {
		if !r.Accepted() || r.Record.OrderID != orders[i].ID() {
			t.Errorf("results[%d] = %+v, want accepted", i, r)
		}
	}
	for i, r := range results[15:] {
		if r.Accepted() || r.Err == nil || errors.Is(r.Err, ErrOutcomeUnknown) {
			t.Errorf("results[%d] = %+v, want a plain failure", 15+i, r)
		}
	}
}

func TestSubmitBatch_ShortAnswerSettlesEachOrder(t *testing.T) {
	orders := testOrders(3)
	ex := &fakeExchange{
		batchFn: func(chunk []order.SignedOrder) ([]clob.OrderResponse, error) {
			return []clob.OrderResponse{{Success: true, OrderID: chunk[0].ID(), Status: "live"}}, nil
		},
		getFn: func(id string) (*clob.OpenOrder, error) {
			if id == orders[1].ID() {
				return &clob.OpenOrder{ID: id, Status: "matched"}, nil
			}
			return nil, clob.ErrNotFound
		},
	}
	c := newTestCoordinator(ex)

	results, err := c.SubmitBatch(context.Background(), orders)
	if err == nil {
		t.Fatal("SubmitBatch() error = nil, want the response count mismatch")
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[1].Accepted() || results[1].Record.Status != StatusMatched {
		t.Errorf("results[1] = %+v, want the order found on the exchange", results[1])
	}
	for _, i := range []int{0, 2} {
		if !errors.Is(results[i].Err, ErrOutcomeUnknown) {
			t.Errorf("results[%d].Err = %v, want ErrOutcomeUnknown", i, results[i].Err)
		}
	}
	if ex.posts != 0 {
		t.Errorf("posts = %d, want 0", ex.posts)
	}
}

func TestSubmitBatch_CallerDeadlineSettlesChunk(t *testing.T) {
	orders := testOrders(20)
	ex := &fakeExchange{
		batchFn: func([]order.SignedOrder) ([]clob.OrderResponse, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, context.DeadlineExceeded
		},
		getFn: func(id string) (*clob.OpenOrder, error) {
			if id == orders[0].ID() {
				return &clob.OpenOrder{ID: id, Status: "live"}, nil
			}
			return nil, clob.ErrNotFound
		},
	}
	c := newTestCoordinator(ex)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results, err := c.SubmitBatch(ctx, orders)
	if err == nil {
		t.Fatal("SubmitBatch() error = nil")
	}
	if len(results) != 20 || len(ex.batches) != 1 {
		t.Fatalf("results = %d, batches = %v, want 20 results from one batch", len(results), ex.batches)
	}
	if !results[0].Accepted() {
		t.Errorf("results[0] = %+v, want accepted", results[0])
	}
	for i := 1; i < 15; i++ {
		if !errors.Is(results[i].Err, ErrOutcomeUnknown) {
			t.Errorf("results[%d].Err = %v, want ErrOutcomeUnknown", i, results[i].Err)
		}
	}
	for i := 15; i < 20; i++ {
		if results[i].Err == nil || errors.Is(results[i].Err, ErrOutcomeUnknown) {
			t.Errorf("results[%d].Err = %v, want a plain failure for an unsent order", i, results[i].Err)
		}
	}
	if ex.lookups != 15 {
		t.Errorf("lookups = %d, want 15", ex.lookups)
	}
}

func TestCancel(t *testing.T) {
	const id = "0xabc"
	tests := []struct {
		name    string
		resp    clob.CancelResponse
		err     error
		wantErr error
	}{
		{
			name: "cancelled",
			resp: clob.CancelResponse{Canceled: []string{id}},
		},
		{
			name:    "unknown order",
			resp:    clob.CancelResponse{NotCanceled: map[string]string{id: "Order not found"}},
			wantErr: ErrOrderNotFound,
		},
		{
			name:    "already matched",
			resp:    clob.CancelResponse{NotCanceled: map[string]string{id: "order is already matched"}},
			wantErr: ErrCancelRefused,
		},
		{
			name:    "missing from both lists",
			resp:    clob.CancelResponse{},
			wantErr: ErrOrderNotFound,
		},
		{
			name:    "not found status",
			err:     fmt.Errorf("couldn't cancel: %w", clob.ErrNotFound),
			wantErr: ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			c := newTestCoordinator(&fakeExchange{cancelResp: tt.resp, cancelErr: tt.err}, WithRecorder(rec))

			_, err := c.Cancel(context.Background(), id)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("Cancel() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (len(rec.updated) != 1 || rec.updated[0].Status != string(StatusCancelled)) {
				t.Errorf("recorded = %+v", rec.updated)
			}
		})
	}
}

func TestCancelMany_InputOrder(t *testing.T) {
	ex := &fakeExchange{cancelResp: clob.CancelResponse{
		Canceled:    []string{"c", "a"},
		NotCanceled: map[string]string{"b": "order is already matched"},
	}}
	c := newTestCoordinator(ex)

	results, err := c.CancelMany(context.Background(), []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("CancelMany() error = %v", err)
	}
	want := []error{nil, ErrCancelRefused, nil, ErrOrderNotFound}
	for i, r := range results {
		if r.OrderID != []string{"a", "b", "c", "d"}[i] {
			t.Errorf("results[%d].OrderID = %s", i, r.OrderID)
		}
		if !errors.Is(r.Err, want[i]) || (want[i] == nil && r.Err != nil) {
			t.Errorf("results[%d].Err = %v, want %v", i, r.Err, want[i])
		}
	}
}

func TestCancelAll(t *testing.T) {
	ex := &fakeExchange{cancelResp: clob.CancelResponse{Canceled: []string{"a", "b"}}}
	c := newTestCoordinator(ex)

	ack, err := c.CancelAll(context.Background())
	if err != nil {
		t.Fatalf("CancelAll() error = %v", err)
	}
	if len(ack.Canceled) != 2 {
		t.Errorf("ack = %+v", ack)
	}
}

func TestStatus(t *testing.T) {
	ex := &fakeExchange{getFn: func(id string) (*clob.OpenOrder, error) {
		if id == "0xknown" {
			return &clob.OpenOrder{ID: id, Status: "CANCELED", SizeMatched: 2_000_000}, nil
		}
		return nil, clob.ErrNotFound
	}}
	c := newTestCoordinator(ex)

	rec, err := c.Status(context.Background(), "0xknown")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if rec.Status != StatusCancelled || rec.SizeMatched != 2_000_000 {
		t.Errorf("record = %+v", rec)
	}

	if _, err := c.Status(context.Background(), "0xmissing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Status() error = %v, want ErrOrderNotFound", err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"live", StatusLive, true},
		{"unmatched", StatusLive, true},
		{"delayed", StatusLive, true},
		{"MATCHED", StatusMatched, true},
		{"CANCELED", StatusCancelled, true},
		{"ORDER_STATUS_CANCELED_MARKET_RESOLVED", StatusCancelled, true},
		{"expired", StatusExpired, true},
		{"bogus", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseStatus(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassifyRejection(t *testing.T) {
	tests := []struct {
		msg  string
		want RejectCode
	}{
		{"not enough balance / allowance", RejectInsufficientBalance},
		{"invalid signature", RejectInvalidSignature},
		{"invalid nonce", RejectInvalidNonce},
		{"INVALID_ORDER_MIN_TICK_SIZE", RejectInvalidTickSize},
		{"Size (1) lower than the minimum: 5", RejectMinSize},
		{"INVALID_ORDER_EXPIRATION", RejectInvalidExpiration},
		{"INVALID_ORDER_DUPLICATED", RejectDuplicated},
		{"order couldn't be fully filled or killed", RejectNotFilled},
		{"something else", RejectUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyRejection(tt.msg); got != tt.want {
			t.Errorf("ClassifyRejection(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}
