package md

import (
	"math"
	"sync"

	"github.com/tidwall/btree"

	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

// Book is a per-venue full-depth limit order book. Both sides keep every
// visible level in a price-ordered btree; readers ask for top-N on read.
// One writer (the feed consumer) mutates under the write lock, many readers
// share the read lock. A cursor holds the read lock for its whole lifetime,
// so cursors must stay short-lived.
type Book struct {
	venue  string
	symbol string

	mu      sync.RWMutex
	bids    *btree.Map[float64, float64]
	asks    *btree.Map[float64, float64]
	lastSeq uint64 // 0 => unknown; otherwise last applied venue seq

	metrics *metrics.Metrics
}

func NewBook(venue, symbol string, m *metrics.Metrics) *Book {
	return &Book{
		venue:   venue,
		symbol:  symbol,
		bids:    btree.NewMap[float64, float64](32),
		asks:    btree.NewMap[float64, float64](32),
		metrics: m,
	}
}

func (b *Book) Venue() string  { return b.venue }
func (b *Book) Symbol() string { return b.symbol }

// Apply applies a single event under the write lock.
func (b *Book) Apply(ev BookEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyLocked(ev)
}

// ApplyMany applies a whole parsed batch under one write lock acquire, so a
// concurrent snapshot never observes a half-applied frame.
func (b *Book) ApplyMany(evs []BookEvent) {
	if len(evs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range evs {
		b.applyLocked(ev)
	}
}

// Clear resets both sides and the sequence watermark.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetSidesLocked()
	b.lastSeq = 0
}

func (b *Book) resetSidesLocked() {
	b.bids = btree.NewMap[float64, float64](32)
	b.asks = btree.NewMap[float64, float64](32)
}

func (b *Book) applyLocked(ev BookEvent) {
	switch {
	case ev.Snapshot != nil:
		b.applySnapshotLocked(ev.Snapshot)
	case ev.Delta != nil:
		b.applyDeltaLocked(ev.Delta)
	}
}

func (b *Book) applySnapshotLocked(snap *BookSnapshot) {
	b.resetSidesLocked()

	var maxSeq uint64
	for i := range snap.Levels {
		lvl := &snap.Levels[i]
		if lvl.Seq > maxSeq {
			maxSeq = lvl.Seq
		}
		if lvl.Op == Delete || !validSize(lvl.Size) {
			continue
		}
		if !validPrice(lvl.Price) {
			b.metrics.IncBookReject()
			continue
		}
		if lvl.Side == Bid {
			b.bids.Set(lvl.Price, lvl.Size)
		} else {
			b.asks.Set(lvl.Price, lvl.Size)
		}
	}
	if maxSeq != 0 {
		b.lastSeq = maxSeq
	}
}

func (b *Book) applyDeltaLocked(d *BookDelta) {
	// Venues with monotonic sequences: drop replays and out-of-order deltas.
	if d.Seq != 0 && b.lastSeq != 0 && d.Seq <= b.lastSeq {
		b.metrics.IncStaleDrop()
		return
	}
	if !validPrice(d.Price) {
		b.metrics.IncBookReject()
		return
	}

	side := b.asks
	if d.Side == Bid {
		side = b.bids
	}
	if d.Op == Delete || !validSize(d.Size) {
		side.Delete(d.Price)
	} else {
		side.Set(d.Price, d.Size)
	}
	if d.Seq != 0 {
		b.lastSeq = d.Seq
	}
}

// TopBids returns up to n best bids, highest price first.
func (b *Book) TopBids(n int) []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PriceLevel, 0, minInt(n, b.bids.Len()))
	b.bids.Reverse(func(price, size float64) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, PriceLevel{Price: price, Size: size})
		return true
	})
	return out
}

// TopAsks returns up to n best asks, lowest price first.
func (b *Book) TopAsks(n int) []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PriceLevel, 0, minInt(n, b.asks.Len()))
	b.asks.Scan(func(price, size float64) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, PriceLevel{Price: price, Size: size})
		return true
	})
	return out
}

func (b *Book) BestBid() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, size, ok := b.bids.Max()
	return PriceLevel{Price: price, Size: size}, ok
}

func (b *Book) BestAsk() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, size, ok := b.asks.Min()
	return PriceLevel{Price: price, Size: size}, ok
}

func (b *Book) BidLevels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len()
}

func (b *Book) AskLevels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Len()
}

// LastSeq exposes the sequence watermark (0 = unknown).
func (b *Book) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

// BidCursor returns a best-to-worst cursor over the bid side. The cursor
// holds the book's read lock until Close; writers stall while it lives.
func (b *Book) BidCursor() *LevelCursor {
	b.mu.RLock()
	c := &LevelCursor{book: b, desc: true, iter: b.bids.Iter()}
	c.ok = c.iter.Last()
	return c
}

// AskCursor returns a best-to-worst cursor over the ask side.
func (b *Book) AskCursor() *LevelCursor {
	b.mu.RLock()
	c := &LevelCursor{book: b, iter: b.asks.Iter()}
	c.ok = c.iter.First()
	return c
}

// LevelCursor iterates one book side best-first while pinning the book
// against writers. Always Close it; Close is idempotent.
type LevelCursor struct {
	book   *Book
	iter   btree.MapIter[float64, float64]
	desc   bool
	ok     bool
	closed bool
}

func (c *LevelCursor) Valid() bool    { return c.ok }
func (c *LevelCursor) Price() float64 { return c.iter.Key() }
func (c *LevelCursor) Size() float64  { return c.iter.Value() }

// Next advances toward worse prices.
func (c *LevelCursor) Next() {
	if !c.ok {
		return
	}
	if c.desc {
		c.ok = c.iter.Prev()
	} else {
		c.ok = c.iter.Next()
	}
}

func (c *LevelCursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.ok = false
	c.book.mu.RUnlock()
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

func validSize(s float64) bool {
	return s > 0 && !math.IsInf(s, 0) && !math.IsNaN(s)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
