package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-ngx/crypto-router/internal/md"
)

func restServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[
			{"id":"BTC-USD","status":"online"},
			{"id":"ETH-USD","status":"online"},
			{"id":"OLD-USD","status":"delisted"}
		]`))
	})
	mux.HandleFunc("/products/BTC-USD/book", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"sequence": 42,
			"bids": [["100.5","2","1"],["99","1","3"]],
			"asks": [["101","3","2"],["bad","x","1"]]
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPISupportsPair(t *testing.T) {
	api := NewAPIWithBase(restServer(t).URL, nil)
	ctx := context.Background()

	assert.True(t, api.SupportsPair(ctx, "BTC-USD"))
	assert.True(t, api.SupportsPair(ctx, "ETH-USD"))
	assert.False(t, api.SupportsPair(ctx, "DOGE-USD"))
	assert.False(t, api.SupportsPair(ctx, "OLD-USD"), "delisted products are not supported")
}

func TestAPISupportsPairOptimisticOnFetchFailure(t *testing.T) {
	api := NewAPIWithBase("http://127.0.0.1:1", nil)
	assert.True(t, api.SupportsPair(context.Background(), "BTC-USD"))
}

func TestAPIBookSnapshot(t *testing.T) {
	api := NewAPIWithBase(restServer(t).URL, nil)

	snap, err := api.BookSnapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, Venue, snap.Venue)
	assert.Equal(t, "BTC-USD", snap.Symbol)

	// the malformed ask row is skipped, the rest survive with the sequence
	require.Len(t, snap.Levels, 3)
	assert.Equal(t, md.Bid, snap.Levels[0].Side)
	assert.Equal(t, 100.5, snap.Levels[0].Price)
	assert.Equal(t, uint64(42), snap.Levels[0].Seq)
	assert.Equal(t, md.Ask, snap.Levels[2].Side)

	book := md.NewBook(Venue, "BTC-USD", nil)
	book.Apply(md.SnapshotEvent(snap))
	assert.Equal(t, 2, book.BidLevels())
	assert.Equal(t, 1, book.AskLevels())
	assert.Equal(t, uint64(42), book.LastSeq())
}
