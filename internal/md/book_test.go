package md

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delta(side BookSide, price, size float64, seq uint64) BookEvent {
	return DeltaEvent(&BookDelta{
		Venue: "coinbase", Symbol: "BTC-USD",
		Side: side, Price: price, Size: size, Op: Upsert, Seq: seq,
	})
}

func deleteDelta(side BookSide, price float64, seq uint64) BookEvent {
	return DeltaEvent(&BookDelta{
		Venue: "coinbase", Symbol: "BTC-USD",
		Side: side, Price: price, Op: Delete, Seq: seq,
	})
}

func snapshot(levels ...BookDelta) BookEvent {
	return SnapshotEvent(&BookSnapshot{
		Venue: "coinbase", Symbol: "BTC-USD", Levels: levels,
	})
}

func TestBookApplyDeltaUpsertAndDelete(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)

	b.Apply(delta(Bid, 100, 2, 0))
	b.Apply(delta(Bid, 99, 1, 0))
	b.Apply(delta(Ask, 101, 3, 0))

	assert.Equal(t, 2, b.BidLevels())
	assert.Equal(t, 1, b.AskLevels())

	best, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, PriceLevel{Price: 100, Size: 2}, best)

	// absolute overwrite, not accumulation
	b.Apply(delta(Bid, 100, 5, 0))
	best, _ = b.BestBid()
	assert.Equal(t, 5.0, best.Size)

	b.Apply(deleteDelta(Bid, 100, 0))
	best, ok = b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 99.0, best.Price)

	// zero size behaves exactly like Delete
	b.Apply(delta(Ask, 101, 0, 0))
	_, ok = b.BestAsk()
	assert.False(t, ok)
}

func TestBookRejectsInvalidLevels(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)

	b.Apply(delta(Bid, 0, 1, 0))
	b.Apply(delta(Bid, -5, 1, 0))
	b.Apply(delta(Bid, math.NaN(), 1, 0))
	b.Apply(delta(Bid, math.Inf(1), 1, 0))
	assert.Equal(t, 0, b.BidLevels())

	// invalid size at a valid price erases, never inserts
	b.Apply(delta(Ask, 100, math.NaN(), 0))
	b.Apply(delta(Ask, 100, math.Inf(1), 0))
	b.Apply(delta(Ask, 100, -1, 0))
	assert.Equal(t, 0, b.AskLevels())
}

func TestBookSequenceGapDrop(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)
	b.Apply(delta(Bid, 100, 2, 10))
	require.Equal(t, uint64(10), b.LastSeq())

	// seq 8 is older than the watermark: book unchanged
	b.Apply(delta(Bid, 100, 7, 8))
	best, _ := b.BestBid()
	assert.Equal(t, 2.0, best.Size)
	assert.Equal(t, uint64(10), b.LastSeq())

	// equal seq is dropped too
	b.Apply(delta(Bid, 100, 7, 10))
	best, _ = b.BestBid()
	assert.Equal(t, 2.0, best.Size)

	b.Apply(delta(Bid, 100, 7, 11))
	best, _ = b.BestBid()
	assert.Equal(t, 7.0, best.Size)
	assert.Equal(t, uint64(11), b.LastSeq())
}

func TestBookOutOfOrderConverges(t *testing.T) {
	d1 := delta(Bid, 100, 1, 5)
	d2 := delta(Bid, 100, 9, 6)

	forward := NewBook("coinbase", "BTC-USD", nil)
	forward.Apply(d1)
	forward.Apply(d2)

	reversed := NewBook("coinbase", "BTC-USD", nil)
	reversed.Apply(d2)
	reversed.Apply(d1)

	only2 := NewBook("coinbase", "BTC-USD", nil)
	only2.Apply(d2)

	for _, b := range []*Book{forward, reversed, only2} {
		best, ok := b.BestBid()
		require.True(t, ok)
		assert.Equal(t, 9.0, best.Size)
		assert.Equal(t, uint64(6), b.LastSeq())
	}
}

func TestBookSnapshotReplacesAndIsIdempotent(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)
	b.Apply(delta(Bid, 50, 1, 0))
	b.Apply(delta(Ask, 200, 1, 0))

	snap := snapshot(
		BookDelta{Side: Bid, Price: 100, Size: 2, Op: Upsert, Seq: 3},
		BookDelta{Side: Bid, Price: 99, Size: 1, Op: Upsert, Seq: 4},
		BookDelta{Side: Ask, Price: 101, Size: 5, Op: Upsert, Seq: 5},
		BookDelta{Side: Ask, Price: 0, Size: 5, Op: Upsert},   // invalid price skipped
		BookDelta{Side: Ask, Price: 102, Size: 0, Op: Upsert}, // zero size skipped
		BookDelta{Side: Ask, Price: 103, Size: 1, Op: Delete}, // delete skipped
	)
	b.Apply(snap)

	assert.Equal(t, []PriceLevel{{100, 2}, {99, 1}}, b.TopBids(10))
	assert.Equal(t, []PriceLevel{{101, 5}}, b.TopAsks(10))
	assert.Equal(t, uint64(5), b.LastSeq(), "watermark is the max seq over snapshot levels")

	b.Apply(snap)
	assert.Equal(t, []PriceLevel{{100, 2}, {99, 1}}, b.TopBids(10))
	assert.Equal(t, []PriceLevel{{101, 5}}, b.TopAsks(10))
	assert.Equal(t, uint64(5), b.LastSeq())
}

func TestBookTopOrderingAndCap(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)
	for _, px := range []float64{101, 105, 103, 102, 104} {
		b.Apply(delta(Ask, px, 1, 0))
		b.Apply(delta(Bid, px-10, 1, 0))
	}

	asks := b.TopAsks(3)
	require.Len(t, asks, 3)
	assert.Equal(t, []float64{101, 102, 103}, []float64{asks[0].Price, asks[1].Price, asks[2].Price})

	bids := b.TopBids(3)
	require.Len(t, bids, 3)
	assert.Equal(t, []float64{95, 94, 93}, []float64{bids[0].Price, bids[1].Price, bids[2].Price})

	assert.Len(t, b.TopAsks(100), 5)

	seen := map[float64]bool{}
	for _, lvl := range b.TopAsks(100) {
		assert.False(t, seen[lvl.Price], "duplicate price %v", lvl.Price)
		seen[lvl.Price] = true
	}
}

func TestBookApplyManySingleBatch(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)
	b.ApplyMany([]BookEvent{
		snapshot(BookDelta{Side: Bid, Price: 100, Size: 1, Op: Upsert}),
		delta(Bid, 100, 3, 0),
		delta(Ask, 101, 2, 0),
		deleteDelta(Ask, 101, 0),
	})
	assert.Equal(t, []PriceLevel{{100, 3}}, b.TopBids(10))
	assert.Empty(t, b.TopAsks(10))
}

func TestBookClear(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)
	b.Apply(delta(Bid, 100, 1, 7))
	b.Clear()
	assert.Equal(t, 0, b.BidLevels())
	assert.Equal(t, 0, b.AskLevels())
	assert.Equal(t, uint64(0), b.LastSeq())

	// watermark reset: old sequences apply again
	b.Apply(delta(Bid, 100, 1, 3))
	assert.Equal(t, 1, b.BidLevels())
}

func TestBookCursorsBestToWorst(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)
	for _, px := range []float64{101, 103, 102} {
		b.Apply(delta(Ask, px, px/100, 0))
	}
	for _, px := range []float64{99, 97, 98} {
		b.Apply(delta(Bid, px, px/100, 0))
	}

	ac := b.AskCursor()
	var askPrices []float64
	for ac.Valid() {
		askPrices = append(askPrices, ac.Price())
		ac.Next()
	}
	ac.Close()
	assert.Equal(t, []float64{101, 102, 103}, askPrices)

	bc := b.BidCursor()
	var bidPrices []float64
	for bc.Valid() {
		bidPrices = append(bidPrices, bc.Price())
		bc.Next()
	}
	bc.Close()
	assert.Equal(t, []float64{99, 98, 97}, bidPrices)

	// writers proceed again once the cursors are closed
	b.Apply(delta(Bid, 100, 1, 0))
	best, _ := b.BestBid()
	assert.Equal(t, 100.0, best.Price)
}

func TestBookCursorEmptySide(t *testing.T) {
	b := NewBook("coinbase", "BTC-USD", nil)
	c := b.AskCursor()
	assert.False(t, c.Valid())
	c.Close()
	c.Close() // idempotent
}
