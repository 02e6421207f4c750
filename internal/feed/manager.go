package feed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// VenueAPI is the venue-side control surface the manager needs: a name and
// a pair-support check (backed by the venue's REST listing).
type VenueAPI interface {
	Name() string
	SupportsPair(ctx context.Context, canonical string) bool
}

// VenueRuntime binds one venue into the manager: its API for support
// checks and a factory producing a pipeline per canonical pair.
type VenueRuntime struct {
	Name          string
	API           VenueAPI
	MakeFeed      func(canonical string) (*VenueFeed, error)
	ToVenueSymbol func(canonical string) string
}

const (
	DefaultIdleTimeout   = 3 * time.Minute
	DefaultSweepInterval = 15 * time.Second
)

// ManagerOptions tunes the pair lifecycle.
type ManagerOptions struct {
	IdleTimeout   time.Duration // non-pinned pairs idle longer than this are swept
	SweepInterval time.Duration
	HotPairs      []string // pinned at subscription, never swept
	PrewarmAll    bool     // pin every supported pair
}

type entry struct {
	symbol     string
	ui         *UIMasterFeed
	feeds      []*VenueFeed
	lastAccess time.Time
	pinned     bool
}

// RoutingInputs is what the order router consumes: the live venue feeds of
// one pair.
type RoutingInputs struct {
	Feeds []*VenueFeed
}

// Manager owns pair subscriptions across all venues: on-demand subscribe,
// hot-pair pinning and an idle sweeper for cold pairs.
type Manager struct {
	venues         []VenueRuntime
	canonicalPairs []string
	opts           ManagerOptions

	supportIndex   map[string][]int // pair -> indices into venues
	supportedPairs []string
	hotPairs       map[string]struct{}

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	log *zap.Logger
}

func NewManager(venues []VenueRuntime, canonicalPairs []string, opts ManagerOptions, log *zap.Logger) *Manager {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Manager{
		venues:         venues,
		canonicalPairs: canonicalPairs,
		opts:           opts,
		supportIndex:   make(map[string][]int),
		hotPairs:       make(map[string]struct{}),
		entries:        make(map[string]*entry),
		stopCh:         make(chan struct{}),
		log:            log.Named("feed"),
	}
	m.buildSupportIndex()

	for _, pair := range opts.HotPairs {
		if _, ok := m.supportIndex[pair]; ok {
			m.hotPairs[pair] = struct{}{}
		} else {
			m.log.Warn("requested hot pair is not supported and will be ignored",
				zap.String("pair", pair))
		}
	}
	if opts.PrewarmAll {
		for _, pair := range m.supportedPairs {
			m.hotPairs[pair] = struct{}{}
		}
	}

	if opts.IdleTimeout > 0 && opts.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m
}

func (m *Manager) buildSupportIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, pair := range m.canonicalPairs {
		var supported []int
		for i, v := range m.venues {
			if v.API == nil || v.MakeFeed == nil {
				continue
			}
			if v.API.SupportsPair(ctx, pair) {
				supported = append(supported, i)
			}
		}
		if len(supported) > 0 {
			m.supportIndex[pair] = supported
			m.supportedPairs = append(m.supportedPairs, pair)
		}
	}
}

// ListSupportedPairs returns the canonical pairs at least one venue
// supports.
func (m *Manager) ListSupportedPairs() []string {
	out := make([]string, len(m.supportedPairs))
	copy(out, m.supportedPairs)
	return out
}

// GetOrSubscribe returns the pair's consolidated feed, subscribing every
// supporting venue on first access. Returns nil for unsupported pairs and
// when no venue feed could be started.
func (m *Manager) GetOrSubscribe(symbol string) *UIMasterFeed {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[symbol]; ok {
		e.lastAccess = now
		if _, hot := m.hotPairs[symbol]; hot {
			e.pinned = true
		}
		return e.ui
	}

	venueIdx, ok := m.supportIndex[symbol]
	if !ok || len(venueIdx) == 0 {
		return nil
	}

	_, hot := m.hotPairs[symbol]
	e := &entry{
		symbol:     symbol,
		ui:         NewUIMasterFeed(symbol),
		lastAccess: now,
		pinned:     hot,
	}

	for _, idx := range venueIdx {
		v := m.venues[idx]
		f, err := v.MakeFeed(symbol)
		if err != nil {
			m.log.Error("venue failed to create feed; skipping",
				zap.String("venue", v.Name), zap.String("pair", symbol), zap.Error(err))
			continue
		}
		venueSymbol := symbol
		if v.ToVenueSymbol != nil {
			venueSymbol = v.ToVenueSymbol(symbol)
		}
		if err := f.Start(venueSymbol, 443); err != nil {
			m.log.Error("venue feed failed to start; skipping",
				zap.String("venue", v.Name), zap.String("pair", symbol), zap.Error(err))
			continue
		}
		if err := e.ui.AddFeed(f); err != nil {
			m.log.Error("venue feed rejected by master feed",
				zap.String("venue", v.Name), zap.String("pair", symbol), zap.Error(err))
			f.Stop()
			continue
		}
		e.feeds = append(e.feeds, f)
	}

	if len(e.feeds) == 0 {
		return nil
	}

	if e.pinned {
		m.log.Info("pre-warmed pair subscribed", zap.String("pair", symbol))
	} else {
		m.log.Info("on-demand pair subscribed", zap.String("pair", symbol))
	}
	m.entries[symbol] = e
	return e.ui
}

// StartHot subscribes every hot pair.
func (m *Manager) StartHot() {
	m.mu.Lock()
	hot := make([]string, 0, len(m.hotPairs))
	for pair := range m.hotPairs {
		hot = append(hot, pair)
	}
	m.mu.Unlock()

	sort.Strings(hot)
	for _, pair := range hot {
		m.GetOrSubscribe(pair)
	}
}

// StartAllSupported pins and subscribes every supported pair.
func (m *Manager) StartAllSupported() {
	all := m.ListSupportedPairs()
	sort.Strings(all)

	m.mu.Lock()
	for _, pair := range all {
		m.hotPairs[pair] = struct{}{}
	}
	m.mu.Unlock()

	for _, pair := range all {
		m.GetOrSubscribe(pair)
	}
}

// AcquireRoutingInputs hands the router the live venue feeds for a pair,
// or nil when the pair is unsupported or has no active entry.
func (m *Manager) AcquireRoutingInputs(symbol string) *RoutingInputs {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[symbol]
	if !ok {
		return nil
	}
	e.lastAccess = time.Now()
	feeds := make([]*VenueFeed, len(e.feeds))
	copy(feeds, e.feeds)
	return &RoutingInputs{Feeds: feeds}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
		m.sweepOnce(time.Now())
	}
}

// sweepOnce removes idle non-pinned entries. Classification happens under
// the mutex; feed teardown happens outside it so request handlers never
// wait on a WS close.
func (m *Manager) sweepOnce(now time.Time) {
	var toStop []*entry

	m.mu.Lock()
	for symbol, e := range m.entries {
		if e.pinned {
			continue
		}
		idle := now.Sub(e.lastAccess)
		if idle <= m.opts.IdleTimeout {
			continue
		}
		m.log.Info("idle pair scheduled for shutdown",
			zap.String("pair", symbol), zap.Duration("idle", idle))
		toStop = append(toStop, e)
		delete(m.entries, symbol)
	}
	m.mu.Unlock()

	for _, e := range toStop {
		for _, f := range e.feeds {
			f.Stop()
		}
		m.log.Info("idle pair stopped", zap.String("pair", e.symbol))
	}
}

// Shutdown stops the sweeper and every feed. Safe to call multiple times.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	var toStop []*entry
	m.mu.Lock()
	for _, e := range m.entries {
		toStop = append(toStop, e)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range toStop {
		for _, f := range e.feeds {
			f.Stop()
		}
	}
}

// NormalizePair uppercases a user-supplied symbol into canonical form.
func NormalizePair(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
