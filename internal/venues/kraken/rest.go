package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/md"
)

const restBase = "https://api.kraken.com"

// API is the Kraken public REST client used for pair-support checks and
// out-of-band depth snapshots (resync).
type API struct {
	base string
	http *http.Client
	log  *zap.Logger

	mu sync.Mutex
	// canonical pair -> REST pair key (e.g. "BTC-USD" -> "XXBTZUSD")
	pairKeys map[string]string
}

func NewAPI(log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		base: restBase,
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log.Named("kraken-api"),
	}
}

// NewAPIWithBase points the client at a test server.
func NewAPIWithBase(base string, log *zap.Logger) *API {
	a := NewAPI(log)
	a.base = base
	return a
}

func (a *API) Name() string { return Venue }

// SupportsPair checks the canonical pair against the asset-pair listing.
// Kraken spells BTC as XBT in older listings, so both spellings of the
// websocket name are accepted. If the listing cannot be fetched the check
// is optimistic: the WS subscription decides for real.
func (a *API) SupportsPair(ctx context.Context, canonical string) bool {
	keys, err := a.loadPairKeys(ctx)
	if err != nil {
		a.log.Warn("asset pair listing unavailable, assuming pair supported",
			zap.String("pair", canonical), zap.Error(err))
		return true
	}
	_, ok := keys[canonical]
	return ok
}

type assetPair struct {
	WSName  string `json:"wsname"`
	Altname string `json:"altname"`
}

type assetPairsResponse struct {
	Error  []string             `json:"error"`
	Result map[string]assetPair `json:"result"`
}

func (a *API) loadPairKeys(ctx context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pairKeys != nil {
		return a.pairKeys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/0/public/AssetPairs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset pairs: http %d", resp.StatusCode)
	}

	var body assetPairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Error) > 0 {
		return nil, fmt.Errorf("asset pairs: %s", strings.Join(body.Error, "; "))
	}

	keys := make(map[string]string, len(body.Result))
	for restKey, pair := range body.Result {
		if pair.WSName == "" {
			continue
		}
		canonical := md.ToCanonical(Venue, pair.WSName)
		keys[canonical] = restKey
		// Older listings publish XBT/USD where the v2 socket says BTC/USD.
		keys[strings.ReplaceAll(canonical, "XBT", "BTC")] = restKey
	}
	a.pairKeys = keys
	return keys, nil
}

type depthLevelRaw [3]json.RawMessage // [price, volume, timestamp]

type depthResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Bids []depthLevelRaw `json:"bids"`
		Asks []depthLevelRaw `json:"asks"`
	} `json:"result"`
}

// BookSnapshot fetches the public Depth endpoint and converts it into a
// snapshot event, used to recover after a ring overflow.
func (a *API) BookSnapshot(ctx context.Context, canonical string) (*md.BookSnapshot, error) {
	pairKey := canonical
	if keys, err := a.loadPairKeys(ctx); err == nil {
		if k, ok := keys[canonical]; ok {
			pairKey = k
		}
	} else {
		pairKey = strings.ReplaceAll(md.ToVenueSymbol(Venue, canonical), "/", "")
	}

	url := fmt.Sprintf("%s/0/public/Depth?pair=%s&count=500", a.base, pairKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("depth %s: %w", canonical, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("depth %s: http %d", canonical, resp.StatusCode)
	}

	var body depthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("depth %s: %w", canonical, err)
	}
	if len(body.Error) > 0 {
		return nil, fmt.Errorf("depth %s: %s", canonical, strings.Join(body.Error, "; "))
	}

	nowNs := md.MonotonicNanos()
	snap := &md.BookSnapshot{Venue: Venue, Symbol: canonical, TsNs: nowNs}
	for _, side := range body.Result {
		appendDepth(&snap.Levels, canonical, side.Bids, md.Bid, nowNs)
		appendDepth(&snap.Levels, canonical, side.Asks, md.Ask, nowNs)
	}
	return snap, nil
}

func appendDepth(dst *[]md.BookDelta, canonical string, rows []depthLevelRaw, side md.BookSide, nowNs int64) {
	for _, row := range rows {
		price, ok1 := depthNumber(row[0])
		size, ok2 := depthNumber(row[1])
		if !ok1 || !ok2 || size == 0 {
			continue
		}
		*dst = append(*dst, md.BookDelta{
			Venue:  Venue,
			Symbol: canonical,
			Side:   side,
			Price:  price,
			Size:   size,
			Op:     md.Upsert,
			TsNs:   nowNs,
		})
	}
}

// depthNumber accepts Depth's numbers whether they arrive as JSON strings
// or bare numbers.
func depthNumber(raw json.RawMessage) (float64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	return 0, false
}
