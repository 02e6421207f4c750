package kraken

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/md"
	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

// Venue is the identifier this driver stamps on every event.
const Venue = "kraken"

var (
	bookMarker      = []byte(`"channel":"book"`)
	subscribeMarker = []byte(`"method":"subscribe"`)
)

type bookLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

type bookData struct {
	Symbol string      `json:"symbol"` // venue spelling, "BTC/USD"
	Bids   []bookLevel `json:"bids"`
	Asks   []bookLevel `json:"asks"`
}

type bookFrame struct {
	Channel string     `json:"channel"`
	Type    string     `json:"type"` // "snapshot" | "update"
	Data    []bookData `json:"data"`
}

// Parser normalizes Kraken v2 book frames into book events. Subscription
// acks, heartbeats and status messages yield nothing.
type Parser struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewParser(log *zap.Logger, m *metrics.Metrics) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("kraken-parser"), metrics: m}
}

// Parse emits one BookSnapshot per snapshot datum and one BookDelta per
// update level, bids before asks, preserving the published order within
// each side.
func (p *Parser) Parse(raw []byte) []md.BookEvent {
	// Fast reject: not a book payload, or the subscribe ack which also
	// carries the channel name.
	if !bytes.Contains(raw, bookMarker) || bytes.Contains(raw, subscribeMarker) {
		return nil
	}

	var frame bookFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		p.metrics.IncParseSkip()
		p.log.Debug("unparseable frame", zap.Error(err))
		return nil
	}
	if frame.Channel != "book" {
		return nil
	}

	nowNs := md.MonotonicNanos()
	var out []md.BookEvent

	for _, data := range frame.Data {
		canonical := md.ToCanonical(Venue, data.Symbol)

		switch frame.Type {
		case "snapshot":
			snap := &md.BookSnapshot{Venue: Venue, Symbol: canonical, TsNs: nowNs}
			appendLevels(&snap.Levels, canonical, data.Bids, md.Bid, nowNs)
			appendLevels(&snap.Levels, canonical, data.Asks, md.Ask, nowNs)
			out = append(out, md.SnapshotEvent(snap))
		case "update":
			for _, lvl := range data.Bids {
				d := level(canonical, lvl, md.Bid, nowNs)
				out = append(out, md.DeltaEvent(&d))
			}
			for _, lvl := range data.Asks {
				d := level(canonical, lvl, md.Ask, nowNs)
				out = append(out, md.DeltaEvent(&d))
			}
		}
	}
	return out
}

func appendLevels(dst *[]md.BookDelta, canonical string, levels []bookLevel, side md.BookSide, nowNs int64) {
	for _, lvl := range levels {
		*dst = append(*dst, level(canonical, lvl, side, nowNs))
	}
}

func level(canonical string, lvl bookLevel, side md.BookSide, nowNs int64) md.BookDelta {
	op := md.Upsert
	if lvl.Qty == 0 {
		op = md.Delete
	}
	return md.BookDelta{
		Venue:  Venue,
		Symbol: canonical,
		Side:   side,
		Price:  lvl.Price,
		Size:   lvl.Qty,
		Op:     op,
		TsNs:   nowNs,
	}
}
