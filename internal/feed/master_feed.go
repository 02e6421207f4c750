package feed

import (
	"fmt"
	"sort"
	"sync"

	"github.com/michael-ngx/crypto-router/internal/md"
)

// StalenessCutoffNs is how old a venue's published snapshot may be before
// consolidation treats that venue as dead.
const StalenessCutoffNs = int64(5e9)

// UILadderLevel is one consolidated ladder row. Venue attribution is
// preserved: equal prices from different venues stay separate rows.
type UILadderLevel struct {
	Venue string  `json:"venue"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// UIConsolidated is the cross-venue view handed to HTTP readers.
type UIConsolidated struct {
	Symbol        string `json:"symbol"`
	LastUpdatedMs int64  `json:"last_updated_ms"`
	// IsCold means every contributing venue snapshot was stale or absent.
	IsCold bool `json:"is_cold"`

	Bids []UILadderLevel `json:"bids"`
	Asks []UILadderLevel `json:"asks"`

	PerVenue map[string]*md.TopSnapshot `json:"per_venue"`
}

// UIMasterFeed collects the venue feeds of one canonical pair and merges
// their published snapshots into a consolidated ladder.
type UIMasterFeed struct {
	canonical string

	mu    sync.Mutex // protects feeds
	feeds []*VenueFeed
}

func NewUIMasterFeed(canonical string) *UIMasterFeed {
	return &UIMasterFeed{canonical: canonical}
}

func (u *UIMasterFeed) Canonical() string { return u.canonical }

// AddFeed registers a venue feed; its canonical symbol must match.
func (u *UIMasterFeed) AddFeed(f *VenueFeed) error {
	if f == nil {
		return fmt.Errorf("nil venue feed")
	}
	if f.Canonical() != u.canonical {
		return fmt.Errorf("feed symbol %s does not match %s", f.Canonical(), u.canonical)
	}
	u.mu.Lock()
	u.feeds = append(u.feeds, f)
	u.mu.Unlock()
	return nil
}

// SnapshotConsolidated builds the consolidated ladder of up to depth rows
// per side. Snapshots older than the staleness cutoff are excluded; when
// nothing live remains the result is cold and empty.
func (u *UIMasterFeed) SnapshotConsolidated(depth int) UIConsolidated {
	out := UIConsolidated{Symbol: u.canonical}

	u.mu.Lock()
	snaps := make([]*md.TopSnapshot, 0, len(u.feeds))
	for _, f := range u.feeds {
		snaps = append(snaps, f.LoadTop())
	}
	u.mu.Unlock()

	now := md.MonotonicNanos()
	live := snaps[:0]
	for _, sp := range snaps {
		if sp == nil || sp.TsNs <= 0 || now-sp.TsNs > StalenessCutoffNs {
			continue
		}
		live = append(live, sp)
		if sp.TsMs > out.LastUpdatedMs {
			out.LastUpdatedMs = sp.TsMs
		}
	}

	if len(live) == 0 {
		out.IsCold = true
		out.Bids = []UILadderLevel{}
		out.Asks = []UILadderLevel{}
		out.PerVenue = map[string]*md.TopSnapshot{}
		return out
	}

	allBids := make([]UILadderLevel, 0, len(live)*depth)
	allAsks := make([]UILadderLevel, 0, len(live)*depth)
	out.PerVenue = make(map[string]*md.TopSnapshot, len(live))
	for _, sp := range live {
		out.PerVenue[sp.Venue] = sp
		for _, lvl := range sp.Bids {
			allBids = append(allBids, UILadderLevel{Venue: sp.Venue, Price: lvl.Price, Size: lvl.Size})
		}
		for _, lvl := range sp.Asks {
			allAsks = append(allAsks, UILadderLevel{Venue: sp.Venue, Price: lvl.Price, Size: lvl.Size})
		}
	}

	// Bids: highest price first; asks: lowest first. Price ties go to the
	// larger resting size.
	sort.Slice(allBids, func(i, j int) bool {
		if allBids[i].Price != allBids[j].Price {
			return allBids[i].Price > allBids[j].Price
		}
		return allBids[i].Size > allBids[j].Size
	})
	sort.Slice(allAsks, func(i, j int) bool {
		if allAsks[i].Price != allAsks[j].Price {
			return allAsks[i].Price < allAsks[j].Price
		}
		return allAsks[i].Size > allAsks[j].Size
	})

	if len(allBids) > depth {
		allBids = allBids[:depth]
	}
	if len(allAsks) > depth {
		allAsks = allAsks[:depth]
	}
	out.Bids = allBids
	out.Asks = allAsks
	return out
}
