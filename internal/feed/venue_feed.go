// Package feed owns the per-venue ingestion pipelines, the per-pair
// consolidated view and the pair lifecycle manager.
package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/md"
	"github.com/michael-ngx/crypto-router/internal/md/ring"
	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

// Connector is a venue WebSocket client. Start blocks in the read loop and
// returns nil on an orderly close; Stop is idempotent and unblocks Start.
type Connector interface {
	Start(port int) error
	Stop()
}

// Parser turns one raw frame into an ordered batch of book events.
// Frames that are not book-channel messages yield an empty batch.
type Parser interface {
	Parse(raw []byte) []md.BookEvent
}

// SnapshotFunc fetches a full book snapshot out-of-band (REST), used to
// recover after a SignalResync backpressure event.
type SnapshotFunc func(ctx context.Context, canonical string) (*md.BookSnapshot, error)

// Backpressure picks what happens when the ring between the WS reader and
// the consumer is full.
type Backpressure int

const (
	// DropNewest discards the incoming frame.
	DropNewest Backpressure = iota
	// DropOldest evicts one queued frame, then pushes the new one.
	DropOldest
	// SignalResync discards the frame and raises the resync flag; the
	// consumer recovers by pulling a REST snapshot.
	SignalResync
)

func (b Backpressure) String() string {
	switch b {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	case SignalResync:
		return "resync"
	}
	return "unknown"
}

// MaxTopDepth bounds the published depth of every venue feed.
const MaxTopDepth = 50

const (
	defaultQueuePow2 = 4096
	idlePopSleep     = 100 * time.Microsecond
	reconnectMin     = time.Second
	reconnectMax     = 30 * time.Second
)

// VenueFeedConfig wires one venue's pipeline.
type VenueFeedConfig struct {
	Venue     string
	Canonical string

	// Dial builds a fresh connector whose read loop hands every raw frame
	// to onMessage. The callback only enqueues; all real work happens on
	// the consumer goroutine.
	Dial func(venueSymbol string, onMessage func([]byte)) Connector

	Parser   Parser
	Snapshot SnapshotFunc // optional

	Backpressure Backpressure
	TopDepth     int    // defaults to MaxTopDepth, clamped to it
	QueuePow2    uint64 // defaults to 4096

	// Reconnect re-dials with exponential backoff after a WS failure.
	// Disable for tests that drive the pipeline directly.
	Reconnect bool

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// VenueFeed runs one venue×symbol pipeline: a WS goroutine producing raw
// frames into an SPSC ring, and a consumer goroutine that parses them,
// applies the batch to the Book and publishes an immutable TopSnapshot.
type VenueFeed struct {
	venue     string
	canonical string
	bp        Backpressure
	topDepth  int

	dial       func(string, func([]byte)) Connector
	parser     Parser
	snapshotFn SnapshotFunc
	reconnect  bool

	queue *ring.Ring
	book  *md.Book
	top   atomic.Pointer[md.TopSnapshot]

	running    atomic.Bool
	needResync atomic.Bool
	stopOnce   sync.Once
	stopCh     chan struct{}
	wg         sync.WaitGroup

	connMu sync.Mutex
	conn   Connector

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewVenueFeed(cfg VenueFeedConfig) (*VenueFeed, error) {
	if cfg.Venue == "" || cfg.Canonical == "" {
		return nil, fmt.Errorf("venue feed needs venue and canonical symbol")
	}
	if cfg.Dial == nil || cfg.Parser == nil {
		return nil, fmt.Errorf("venue feed %s/%s needs a dialer and a parser", cfg.Venue, cfg.Canonical)
	}
	if cfg.TopDepth <= 0 || cfg.TopDepth > MaxTopDepth {
		cfg.TopDepth = MaxTopDepth
	}
	if cfg.QueuePow2 == 0 {
		cfg.QueuePow2 = defaultQueuePow2
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	q, err := ring.New(cfg.QueuePow2)
	if err != nil {
		return nil, err
	}
	return &VenueFeed{
		venue:      cfg.Venue,
		canonical:  cfg.Canonical,
		bp:         cfg.Backpressure,
		topDepth:   cfg.TopDepth,
		dial:       cfg.Dial,
		parser:     cfg.Parser,
		snapshotFn: cfg.Snapshot,
		reconnect:  cfg.Reconnect,
		queue:      q,
		book:       md.NewBook(cfg.Venue, cfg.Canonical, cfg.Metrics),
		stopCh:     make(chan struct{}),
		log: cfg.Logger.With(
			zap.String("venue", cfg.Venue),
			zap.String("symbol", cfg.Canonical),
		),
		metrics: cfg.Metrics,
	}, nil
}

func (f *VenueFeed) Venue() string     { return f.venue }
func (f *VenueFeed) Canonical() string { return f.canonical }
func (f *VenueFeed) Book() *md.Book    { return f.book }

// LoadTop returns the currently published snapshot, or nil before Start.
// Lock-free; the pointer swaps atomically on every publish.
func (f *VenueFeed) LoadTop() *md.TopSnapshot { return f.top.Load() }

// BidCursor borrows the book under a shared lock for the router's merge.
func (f *VenueFeed) BidCursor() *md.LevelCursor { return f.book.BidCursor() }

// AskCursor borrows the book under a shared lock for the router's merge.
func (f *VenueFeed) AskCursor() *md.LevelCursor { return f.book.AskCursor() }

// Start launches the WS and consumer goroutines. venueSymbol must already
// be in the venue's own spelling (md.ToVenueSymbol).
func (f *VenueFeed) Start(venueSymbol string, port int) error {
	if !f.running.CompareAndSwap(false, true) {
		return fmt.Errorf("feed %s/%s already started", f.venue, f.canonical)
	}

	f.wg.Add(2)
	go f.wsLoop(venueSymbol, port)
	go f.consumeLoop()
	return nil
}

// Stop signals both goroutines, closes the socket and joins. Safe to call
// more than once.
func (f *VenueFeed) Stop() {
	f.running.Store(false)
	f.stopOnce.Do(func() { close(f.stopCh) })

	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn != nil {
		conn.Stop()
	}
	f.wg.Wait()
}

// enqueue is the WS thread's callback: push the frame, or apply the
// backpressure policy on a full ring.
func (f *VenueFeed) enqueue(frame []byte) {
	if f.queue.TryPush(frame) {
		return
	}
	switch f.bp {
	case DropNewest:
		f.metrics.IncBackpressureDrop(DropNewest.String())
	case DropOldest:
		f.queue.TryPop()
		f.queue.TryPush(frame)
		f.metrics.IncBackpressureDrop(DropOldest.String())
	case SignalResync:
		f.needResync.Store(true)
		f.metrics.IncResyncSignal()
	}
}

func (f *VenueFeed) wsLoop(venueSymbol string, port int) {
	defer f.wg.Done()

	backoff := reconnectMin
	for f.running.Load() {
		conn := f.dial(venueSymbol, f.enqueue)

		f.connMu.Lock()
		f.conn = conn
		f.connMu.Unlock()
		if !f.running.Load() {
			conn.Stop()
			return
		}

		err := conn.Start(port)
		if !f.running.Load() {
			return
		}
		if err != nil {
			f.metrics.IncWSFailure(f.venue)
			f.log.Error("websocket terminated", zap.Error(err))
		} else {
			f.log.Info("websocket closed by remote")
			backoff = reconnectMin
		}
		if !f.reconnect {
			return
		}

		select {
		case <-f.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (f *VenueFeed) consumeLoop() {
	defer f.wg.Done()

	f.publishTop() // readers see an empty snapshot before the first frame

	for f.running.Load() {
		if f.needResync.Load() {
			f.resyncFromRest()
		}
		frame, ok := f.queue.TryPop()
		if !ok {
			time.Sleep(idlePopSleep)
			continue
		}
		f.process(frame)
	}

	// drain whatever the WS thread managed to enqueue before the stop
	for {
		frame, ok := f.queue.TryPop()
		if !ok {
			break
		}
		f.process(frame)
	}
}

func (f *VenueFeed) process(frame []byte) {
	evs := f.parser.Parse(frame)
	if len(evs) == 0 {
		return
	}
	f.book.ApplyMany(evs)
	f.publishTop()
}

// resyncFromRest replaces the book from a REST snapshot after the ring
// overflowed under the SignalResync policy. The flag clears after one
// attempt either way; a failed fetch just waits for the next overflow.
func (f *VenueFeed) resyncFromRest() {
	defer f.needResync.Store(false)
	if f.snapshotFn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := f.snapshotFn(ctx, f.canonical)
	if err != nil {
		f.log.Warn("rest resync failed", zap.Error(err))
		return
	}
	f.book.Apply(md.SnapshotEvent(snap))
	f.publishTop()
	f.log.Info("book resynced from rest snapshot")
}

func (f *VenueFeed) publishTop() {
	snap := &md.TopSnapshot{
		Venue:  f.venue,
		Symbol: f.canonical,
		TsNs:   md.MonotonicNanos(),
		TsMs:   md.WallMillis(),
		Bids:   f.book.TopBids(f.topDepth),
		Asks:   f.book.TopAsks(f.topDepth),
	}
	f.top.Store(snap)
}
