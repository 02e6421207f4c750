// Package md holds the normalized market-data model: book events emitted by
// the venue parsers, the per-venue order book they are applied to, and the
// immutable top-N snapshots the rest of the system reads.
package md

import "time"

// BookSide labels the two sides of a book.
type BookSide uint8

const (
	Bid BookSide = iota
	Ask
)

func (s BookSide) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// BookOp says what a delta does at its price key.
type BookOp uint8

const (
	Upsert BookOp = iota
	Delete
)

// BookDelta is one normalized level change. Size is absolute, not relative;
// a zero size means the same thing as Delete.
type BookDelta struct {
	Venue  string
	Symbol string // canonical, e.g. "BTC-USD"
	Side   BookSide
	Price  float64
	Size   float64
	Op     BookOp
	Seq    uint64 // venue sequence if available, 0 if not
	TsNs   int64
}

// BookSnapshot replaces both sides of a book. Levels are Upsert deltas
// applied in order.
type BookSnapshot struct {
	Venue  string
	Symbol string
	Levels []BookDelta
	TsNs   int64
}

// BookEvent is either a *BookSnapshot or a *BookDelta.
type BookEvent struct {
	Snapshot *BookSnapshot
	Delta    *BookDelta
}

// SnapshotEvent wraps a snapshot as a BookEvent.
func SnapshotEvent(s *BookSnapshot) BookEvent { return BookEvent{Snapshot: s} }

// DeltaEvent wraps a delta as a BookEvent.
func DeltaEvent(d *BookDelta) BookEvent { return BookEvent{Delta: d} }

// PriceLevel is one (price, size) row of a published ladder.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

var processStart = time.Now()

// MonotonicNanos is the pipeline clock: nanoseconds on the monotonic clock
// since process start. Used for event and snapshot timestamps so staleness
// math is immune to wall-clock steps.
func MonotonicNanos() int64 {
	return int64(time.Since(processStart))
}

// WallMillis is the wall clock in milliseconds for UI-facing timestamps.
func WallMillis() int64 {
	return time.Now().UnixMilli()
}
