// Package venues assembles the concrete venue drivers into the runtime
// capability set the feed manager consumes. The registry is a pure lookup
// table built at start-up; adding a venue means adding a builder here.
package venues

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/feed"
	"github.com/michael-ngx/crypto-router/internal/md"
	"github.com/michael-ngx/crypto-router/internal/venues/coinbase"
	"github.com/michael-ngx/crypto-router/internal/venues/kraken"
	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

// Builder constructs one venue's runtime binding.
type Builder func(log *zap.Logger, m *metrics.Metrics) feed.VenueRuntime

func registry() map[string]Builder {
	return map[string]Builder{
		coinbase.Venue: buildCoinbase,
		kraken.Venue:   buildKraken,
	}
}

// Names lists the venues the registry knows.
func Names() []string {
	return []string{coinbase.Venue, kraken.Venue}
}

// Runtime builds the named venue's runtime. Venue names compare
// case-insensitively.
func Runtime(name string, log *zap.Logger, m *metrics.Metrics) (feed.VenueRuntime, error) {
	b, ok := registry()[strings.ToLower(name)]
	if !ok {
		return feed.VenueRuntime{}, fmt.Errorf("unknown venue %q", name)
	}
	return b(log, m), nil
}

// Runtimes builds every registered venue.
func Runtimes(log *zap.Logger, m *metrics.Metrics) []feed.VenueRuntime {
	out := make([]feed.VenueRuntime, 0, 2)
	for _, name := range Names() {
		rt, _ := Runtime(name, log, m)
		out = append(out, rt)
	}
	return out
}

func buildCoinbase(log *zap.Logger, m *metrics.Metrics) feed.VenueRuntime {
	api := coinbase.NewAPI(log)
	return feed.VenueRuntime{
		Name: coinbase.Venue,
		API:  api,
		MakeFeed: func(canonical string) (*feed.VenueFeed, error) {
			return feed.NewVenueFeed(feed.VenueFeedConfig{
				Venue:     coinbase.Venue,
				Canonical: canonical,
				Dial: func(venueSymbol string, onMessage func([]byte)) feed.Connector {
					return coinbase.NewWS(venueSymbol, onMessage, log)
				},
				Parser:       coinbase.NewParser(log, m),
				Snapshot:     api.BookSnapshot,
				Backpressure: feed.DropOldest,
				Reconnect:    true,
				Logger:       log,
				Metrics:      m,
			})
		},
		ToVenueSymbol: func(canonical string) string {
			return md.ToVenueSymbol(coinbase.Venue, canonical)
		},
	}
}

func buildKraken(log *zap.Logger, m *metrics.Metrics) feed.VenueRuntime {
	api := kraken.NewAPI(log)
	return feed.VenueRuntime{
		Name: kraken.Venue,
		API:  api,
		MakeFeed: func(canonical string) (*feed.VenueFeed, error) {
			return feed.NewVenueFeed(feed.VenueFeedConfig{
				Venue:     kraken.Venue,
				Canonical: canonical,
				Dial: func(venueSymbol string, onMessage func([]byte)) feed.Connector {
					return kraken.NewWS(venueSymbol, onMessage, log)
				},
				Parser:       kraken.NewParser(log, m),
				Snapshot:     api.BookSnapshot,
				Backpressure: feed.DropOldest,
				Reconnect:    true,
				Logger:       log,
				Metrics:      m,
			})
		},
		ToVenueSymbol: func(canonical string) string {
			return md.ToVenueSymbol(kraken.Venue, canonical)
		},
	}
}
