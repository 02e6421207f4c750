package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-ngx/crypto-router/internal/md"
)

type fakeAPI struct {
	name  string
	pairs map[string]bool
}

func (a *fakeAPI) Name() string { return a.name }

func (a *fakeAPI) SupportsPair(_ context.Context, canonical string) bool {
	return a.pairs[canonical]
}

func fakeRuntime(name string, pairs ...string) VenueRuntime {
	supported := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		supported[p] = true
	}
	return VenueRuntime{
		Name: name,
		API:  &fakeAPI{name: name, pairs: supported},
		MakeFeed: func(canonical string) (*VenueFeed, error) {
			return NewVenueFeed(VenueFeedConfig{
				Venue:     name,
				Canonical: canonical,
				Dial:      (&stubVenue{}).dial,
				Parser:    lineParser{},
			})
		},
		ToVenueSymbol: func(canonical string) string { return md.ToVenueSymbol(name, canonical) },
	}
}

func newTestManager(t *testing.T, opts ManagerOptions) *Manager {
	t.Helper()
	m := NewManager(
		[]VenueRuntime{
			fakeRuntime("coinbase", "BTC-USD", "ETH-USD"),
			fakeRuntime("kraken", "BTC-USD"),
		},
		[]string{"BTC-USD", "ETH-USD", "DOGE-USD"},
		opts,
		nil,
	)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerSupportedPairs(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, m.ListSupportedPairs(),
		"DOGE-USD has no supporting venue")
}

func TestManagerGetOrSubscribe(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})

	assert.Nil(t, m.GetOrSubscribe("DOGE-USD"))
	assert.Nil(t, m.GetOrSubscribe("XRP-USD"))

	ui := m.GetOrSubscribe("BTC-USD")
	require.NotNil(t, ui)
	assert.Same(t, ui, m.GetOrSubscribe("BTC-USD"), "existing entry is reused")

	// both supporting venues were subscribed
	inputs := m.AcquireRoutingInputs("BTC-USD")
	require.NotNil(t, inputs)
	assert.Len(t, inputs.Feeds, 2)

	// only one venue supports ETH-USD
	require.NotNil(t, m.GetOrSubscribe("ETH-USD"))
	inputs = m.AcquireRoutingInputs("ETH-USD")
	require.NotNil(t, inputs)
	assert.Len(t, inputs.Feeds, 1)
	assert.Equal(t, "coinbase", inputs.Feeds[0].Venue())
}

func TestManagerRoutingInputsNeedActiveEntry(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	assert.Nil(t, m.AcquireRoutingInputs("BTC-USD"), "no entry before subscription")
	require.NotNil(t, m.GetOrSubscribe("BTC-USD"))
	assert.NotNil(t, m.AcquireRoutingInputs("BTC-USD"))
}

func TestManagerUnsupportedHotPairIgnored(t *testing.T) {
	m := newTestManager(t, ManagerOptions{HotPairs: []string{"BTC-USD", "DOGE-USD"}})
	m.StartHot()

	assert.NotNil(t, m.AcquireRoutingInputs("BTC-USD"))
	assert.Nil(t, m.AcquireRoutingInputs("DOGE-USD"))
}

func TestManagerSweepRemovesIdleNonPinned(t *testing.T) {
	m := newTestManager(t, ManagerOptions{
		HotPairs: []string{"BTC-USD"},
		// keep the background sweeper effectively out of the way
		IdleTimeout:   time.Hour,
		SweepInterval: time.Hour,
	})
	m.StartHot()
	require.NotNil(t, m.GetOrSubscribe("ETH-USD"))

	// a sweep far in the future removes the idle non-pinned pair only
	m.sweepOnce(time.Now().Add(2 * time.Hour))

	assert.NotNil(t, m.AcquireRoutingInputs("BTC-USD"), "pinned pair survives")
	assert.Nil(t, m.AcquireRoutingInputs("ETH-USD"), "idle pair was swept")

	// a swept pair resubscribes from scratch on next access
	require.NotNil(t, m.GetOrSubscribe("ETH-USD"))
	assert.NotNil(t, m.AcquireRoutingInputs("ETH-USD"))
}

func TestManagerAccessDefersSweep(t *testing.T) {
	m := newTestManager(t, ManagerOptions{IdleTimeout: time.Hour, SweepInterval: time.Hour})
	require.NotNil(t, m.GetOrSubscribe("ETH-USD"))

	// recent access keeps the pair alive through a sweep
	m.sweepOnce(time.Now().Add(30 * time.Minute))
	assert.NotNil(t, m.AcquireRoutingInputs("ETH-USD"))
}

func TestManagerPrewarmAllPinsEverySupportedPair(t *testing.T) {
	m := newTestManager(t, ManagerOptions{
		PrewarmAll:    true,
		IdleTimeout:   time.Hour,
		SweepInterval: time.Hour,
	})
	m.StartHot()

	assert.NotNil(t, m.AcquireRoutingInputs("BTC-USD"))
	assert.NotNil(t, m.AcquireRoutingInputs("ETH-USD"))

	m.sweepOnce(time.Now().Add(2 * time.Hour))
	assert.NotNil(t, m.AcquireRoutingInputs("BTC-USD"))
	assert.NotNil(t, m.AcquireRoutingInputs("ETH-USD"))
}

func TestManagerStartAllSupported(t *testing.T) {
	m := newTestManager(t, ManagerOptions{IdleTimeout: time.Hour, SweepInterval: time.Hour})
	m.StartAllSupported()

	assert.NotNil(t, m.AcquireRoutingInputs("BTC-USD"))
	assert.NotNil(t, m.AcquireRoutingInputs("ETH-USD"))

	// StartAllSupported pins, so nothing is sweepable
	m.sweepOnce(time.Now().Add(2 * time.Hour))
	assert.NotNil(t, m.AcquireRoutingInputs("BTC-USD"))
}

func TestManagerShutdownIsIdempotent(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	require.NotNil(t, m.GetOrSubscribe("BTC-USD"))
	m.Shutdown()
	m.Shutdown()
	assert.Nil(t, m.AcquireRoutingInputs("BTC-USD"))
}
