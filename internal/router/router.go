// Package router computes venue-split execution plans from the live
// per-venue books and records accepted orders.
package router

import (
	"container/heap"

	"github.com/michael-ngx/crypto-router/internal/md"
)

// BookSource is the slice of a venue feed the router consumes: identity
// plus best-first cursors into the live book.
type BookSource interface {
	Venue() string
	BidCursor() *md.LevelCursor
	AskCursor() *md.LevelCursor
}

// Slice is one venue leg of a plan: planned amount and the leg's average
// execution price across the levels it consumes.
type Slice struct {
	Venue    string  `json:"venue"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// Decision is the outcome of a routing pass.
type Decision struct {
	FullyRoutable          bool    `json:"fully_routable"`
	RequestedQty           float64 `json:"requested_qty"`
	RoutableQty            float64 `json:"routable_qty"`
	IndicativeAveragePrice float64 `json:"indicative_average_price"`
	Slices                 []Slice `json:"slices"`
	Message                string  `json:"message"`
}

const eps = 1e-12

type heapNode struct {
	venueIdx int
	price    float64
	size     float64
}

// levelHeap orders venue tops best-price-first: lowest ask for buys,
// highest bid for sells. Price ties go to the larger resting size, which
// favors the deeper leg and cuts down on hops.
type levelHeap struct {
	nodes []heapNode
	buy   bool
}

func (h *levelHeap) Len() int { return len(h.nodes) }

func (h *levelHeap) Less(i, j int) bool {
	a, b := h.nodes[i], h.nodes[j]
	if a.price != b.price {
		if h.buy {
			return a.price < b.price
		}
		return a.price > b.price
	}
	return a.size > b.size
}

func (h *levelHeap) Swap(i, j int) { h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i] }

func (h *levelHeap) Push(x any) { h.nodes = append(h.nodes, x.(heapNode)) }

func (h *levelHeap) Pop() any {
	n := len(h.nodes)
	node := h.nodes[n-1]
	h.nodes = h.nodes[:n-1]
	return node
}

// RouteOrderFromBooks computes the best venue split for side/quantity
// across the given feeds, optionally bounded by a limit price.
// O(K log V): V venues, K levels consumed until fill. Cursors hold shared
// book locks for the duration, so this must stay short-lived.
func RouteOrderFromBooks(feeds []BookSource, side string, quantity float64, limitPrice *float64) Decision {
	out := Decision{RequestedQty: quantity, Slices: []Slice{}}

	if quantity <= 0 {
		out.Message = "invalid quantity"
		return out
	}
	isBuy := side == "buy"
	if !isBuy && side != "sell" {
		out.Message = "invalid side"
		return out
	}

	type venueCursor struct {
		venue  string
		cursor *md.LevelCursor
	}
	var cursors []venueCursor
	defer func() {
		for _, vc := range cursors {
			vc.cursor.Close()
		}
	}()

	for _, f := range feeds {
		if f == nil {
			continue
		}
		var c *md.LevelCursor
		if isBuy {
			c = f.AskCursor()
		} else {
			c = f.BidCursor()
		}
		if !c.Valid() {
			c.Close()
			continue
		}
		cursors = append(cursors, venueCursor{venue: f.Venue(), cursor: c})
	}

	if len(cursors) == 0 {
		out.Message = "no liquidity available"
		return out
	}

	h := &levelHeap{buy: isBuy, nodes: make([]heapNode, 0, len(cursors))}
	for i, vc := range cursors {
		h.nodes = append(h.nodes, heapNode{venueIdx: i, price: vc.cursor.Price(), size: vc.cursor.Size()})
	}
	heap.Init(h)

	remaining := quantity
	totalNotional := 0.0

	venueQty := make([]float64, len(cursors))
	venueNotional := make([]float64, len(cursors))
	touched := make([]int, 0, len(cursors)) // first-touch order

	for remaining > eps && h.Len() > 0 {
		lvl := heap.Pop(h).(heapNode)

		if limitPrice != nil {
			if isBuy && lvl.price > *limitPrice {
				break
			}
			if !isBuy && lvl.price < *limitPrice {
				break
			}
		}

		take := remaining
		if lvl.size < take {
			take = lvl.size
		}
		if take <= eps {
			continue
		}

		if venueQty[lvl.venueIdx] <= eps {
			touched = append(touched, lvl.venueIdx)
		}
		venueQty[lvl.venueIdx] += take
		venueNotional[lvl.venueIdx] += take * lvl.price

		remaining -= take
		totalNotional += take * lvl.price

		src := cursors[lvl.venueIdx].cursor
		src.Next()
		if src.Valid() {
			heap.Push(h, heapNode{venueIdx: lvl.venueIdx, price: src.Price(), size: src.Size()})
		}
	}

	out.RoutableQty = quantity - remaining
	if out.RoutableQty > eps {
		out.IndicativeAveragePrice = totalNotional / out.RoutableQty
	}
	out.FullyRoutable = remaining <= eps

	for _, idx := range touched {
		q := venueQty[idx]
		if q <= eps {
			continue
		}
		out.Slices = append(out.Slices, Slice{
			Venue:    cursors[idx].venue,
			Quantity: q,
			Price:    venueNotional[idx] / q,
		})
	}

	switch {
	case out.RoutableQty <= eps:
		if limitPrice != nil {
			out.Message = "no liquidity matched the limit price"
		} else {
			out.Message = "no liquidity available"
		}
	case out.FullyRoutable:
		out.Message = "fully routable from current books"
	default:
		if limitPrice != nil {
			out.Message = "partially routable: limit-constrained liquidity"
		} else {
			out.Message = "partially routable: insufficient liquidity"
		}
	}
	return out
}
