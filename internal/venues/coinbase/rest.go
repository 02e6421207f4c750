package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/md"
)

const restBase = "https://api.exchange.coinbase.com"

// API is the Coinbase Exchange REST client used for pair-support checks
// and out-of-band book snapshots (resync).
type API struct {
	base string
	http *http.Client
	log  *zap.Logger

	mu       sync.Mutex
	products map[string]struct{} // online trading pairs, canonical ids
}

func NewAPI(log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		base: restBase,
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log.Named("coinbase-api"),
	}
}

// NewAPIWithBase points the client at a test server.
func NewAPIWithBase(base string, log *zap.Logger) *API {
	a := NewAPI(log)
	a.base = base
	return a
}

func (a *API) Name() string { return Venue }

// SupportsPair checks the canonical pair against the product listing.
// Coinbase product ids equal canonical symbols. If the listing cannot be
// fetched the check is optimistic: the WS subscription decides for real.
func (a *API) SupportsPair(ctx context.Context, canonical string) bool {
	products, err := a.loadProducts(ctx)
	if err != nil {
		a.log.Warn("product listing unavailable, assuming pair supported",
			zap.String("pair", canonical), zap.Error(err))
		return true
	}
	_, ok := products[canonical]
	return ok
}

type product struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a *API) loadProducts(ctx context.Context) (map[string]struct{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.products != nil {
		return a.products, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/products", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("products: http %d", resp.StatusCode)
	}

	var list []product
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	products := make(map[string]struct{}, len(list))
	for _, pr := range list {
		if pr.Status == "" || pr.Status == "online" {
			products[pr.ID] = struct{}{}
		}
	}
	a.products = products
	return products, nil
}

type bookResponse struct {
	Sequence uint64              `json:"sequence"`
	Bids     [][]json.RawMessage `json:"bids"` // [price, size, num_orders]
	Asks     [][]json.RawMessage `json:"asks"`
}

// BookSnapshot fetches the level-2 REST book and converts it into a
// snapshot event, used to recover after a ring overflow.
func (a *API) BookSnapshot(ctx context.Context, canonical string) (*md.BookSnapshot, error) {
	url := fmt.Sprintf("%s/products/%s/book?level=2", a.base, canonical)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("book snapshot %s: %w", canonical, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("book snapshot %s: http %d", canonical, resp.StatusCode)
	}

	var book bookResponse
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("book snapshot %s: %w", canonical, err)
	}

	nowNs := md.MonotonicNanos()
	snap := &md.BookSnapshot{Venue: Venue, Symbol: canonical, TsNs: nowNs}
	appendSide := func(rows [][]json.RawMessage, side md.BookSide) {
		for _, row := range rows {
			if len(row) < 2 {
				continue
			}
			price, ok1 := parseRestNumber(row[0])
			size, ok2 := parseRestNumber(row[1])
			if !ok1 || !ok2 || size == 0 {
				continue
			}
			snap.Levels = append(snap.Levels, md.BookDelta{
				Venue:  Venue,
				Symbol: canonical,
				Side:   side,
				Price:  price,
				Size:   size,
				Op:     md.Upsert,
				Seq:    book.Sequence,
				TsNs:   nowNs,
			})
		}
	}
	appendSide(book.Bids, md.Bid)
	appendSide(book.Asks, md.Ask)
	return snap, nil
}

// parseRestNumber accepts the REST book's numbers whether they arrive as
// JSON strings or bare numbers.
func parseRestNumber(raw json.RawMessage) (float64, bool) {
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
