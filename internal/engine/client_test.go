package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/daszybak/polytrader/internal/engine/orderbook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitForBook polls until the engine has applied enough updates for cond to hold.
func waitForBook(t *testing.T, c *Client, tokenID string, cond func(orderbook.Book) bool) orderbook.Book {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		book, err := c.Book(context.Background(), tokenID)
		if err == nil && cond(book) {
			return book
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("book for %s never reached expected state", tokenID)
	return orderbook.Book{}
}

func TestClientBookNotFound(t *testing.T) {
	c := New(testLogger())
	_, err := c.Book(context.Background(), "unknown")
	if !errors.Is(err, orderbook.ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestClientAppliesUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(testLogger())
	go c.Start(ctx)

	c.Send(Update{TokenID: "tok", Book: &orderbook.Book{
		Asks: []orderbook.Level{{Price: 400_000, Size: 30_000_000}, {Price: 420_000, Size: 40_000_000}},
		Bids: []orderbook.Level{{Price: 380_000, Size: 10_000_000}},
	}})
	c.Send(Update{TokenID: "tok", Side: orderbook.Asks, Price: 400_000, Size: -10_000_000, IsDelta: true})
	c.Send(Update{TokenID: "tok", Side: orderbook.Bids, Price: 390_000, Size: 5_000_000})

	book := waitForBook(t, c, "tok", func(b orderbook.Book) bool {
		return len(b.Bids) == 2 && len(b.Asks) == 2 && b.Asks[0].Size == 20_000_000
	})
	if book.Bids[0].Price != 390_000 {
		t.Errorf("best bid = %d, want 390000", book.Bids[0].Price)
	}

	// A new book event replaces every level.
	c.Send(Update{TokenID: "tok", Book: &orderbook.Book{
		Asks: []orderbook.Level{{Price: 500_000, Size: 1_000_000}},
	}})
	waitForBook(t, c, "tok", func(b orderbook.Book) bool {
		return len(b.Bids) == 0 && len(b.Asks) == 1 && b.Asks[0].Price == 500_000
	})

	snaps := c.TakeSnapshots(1)
	if len(snaps) != 1 || snaps[0].TokenID != "tok" || len(snaps[0].Asks) != 1 {
		t.Errorf("snapshots = %+v", snaps)
	}
}
