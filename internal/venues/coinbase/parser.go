package coinbase

import (
	"bytes"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/md"
	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

// Venue is the identifier this driver stamps on every event.
const Venue = "coinbase"

var l2Marker = []byte(`"channel":"l2_data"`)

type l2Update struct {
	Side        string `json:"side"` // "bid" | "offer"
	PriceLevel  string `json:"price_level"`
	NewQuantity string `json:"new_quantity"`
}

type l2Event struct {
	Type      string     `json:"type"` // "snapshot" | "update"
	ProductID string     `json:"product_id"`
	Updates   []l2Update `json:"updates"`
}

type l2Frame struct {
	Channel string    `json:"channel"`
	Events  []l2Event `json:"events"`
}

// Parser normalizes Advanced Trade l2_data frames into book events.
// Subscription acks, heartbeats and other channels yield nothing.
type Parser struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewParser(log *zap.Logger, m *metrics.Metrics) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("coinbase-parser"), metrics: m}
}

// Parse emits one BookSnapshot per snapshot event and one BookDelta per
// update row, in the order Coinbase published them. A malformed level is
// skipped without failing the batch.
func (p *Parser) Parse(raw []byte) []md.BookEvent {
	if !bytes.Contains(raw, l2Marker) {
		return nil
	}

	var frame l2Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		p.metrics.IncParseSkip()
		p.log.Debug("unparseable frame", zap.Error(err))
		return nil
	}
	if frame.Channel != "l2_data" {
		return nil
	}

	nowNs := md.MonotonicNanos()
	var out []md.BookEvent

	for _, ev := range frame.Events {
		canonical := md.ToCanonical(Venue, ev.ProductID)

		switch ev.Type {
		case "snapshot":
			snap := &md.BookSnapshot{Venue: Venue, Symbol: canonical, TsNs: nowNs}
			for _, u := range ev.Updates {
				d, ok := p.level(canonical, u, nowNs)
				if !ok {
					continue
				}
				snap.Levels = append(snap.Levels, d)
			}
			out = append(out, md.SnapshotEvent(snap))
		case "update":
			for _, u := range ev.Updates {
				d, ok := p.level(canonical, u, nowNs)
				if !ok {
					continue
				}
				out = append(out, md.DeltaEvent(&d))
			}
		}
	}
	return out
}

func (p *Parser) level(canonical string, u l2Update, nowNs int64) (md.BookDelta, bool) {
	price, err := strconv.ParseFloat(u.PriceLevel, 64)
	if err != nil {
		p.metrics.IncParseSkip()
		return md.BookDelta{}, false
	}
	size, err := strconv.ParseFloat(u.NewQuantity, 64)
	if err != nil {
		p.metrics.IncParseSkip()
		return md.BookDelta{}, false
	}

	side := md.Ask
	if u.Side == "bid" {
		side = md.Bid
	}
	op := md.Upsert
	if size == 0 {
		op = md.Delete
	}
	return md.BookDelta{
		Venue:  Venue,
		Symbol: canonical,
		Side:   side,
		Price:  price,
		Size:   size,
		Op:     op,
		TsNs:   nowNs,
	}, true
}
