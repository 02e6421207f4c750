package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	order := &Order{
		ID:                "11111111-1111-1111-1111-111111111111",
		UserID:            "u1",
		Symbol:            "BTC-USD",
		Side:              "buy",
		OrderType:         "market",
		QuantityRequested: decimal.NewFromInt(4),
		QuantityPlanned:   decimal.NewFromInt(4),
		PricePlannedAvg:   decimal.NewFromFloat(100.5),
		FullyRoutable:     true,
		Status:            "open",
	}
	legs := []OrderLeg{
		{Venue: "coinbase", Status: "planned", QuantityPlanned: decimal.NewFromInt(3)},
		{Venue: "kraken", Status: "planned", QuantityPlanned: decimal.NewFromInt(1)},
	}
	require.NoError(t, s.CreateOrderWithLegs(ctx, order, legs))
	assert.Error(t, s.CreateOrderWithLegs(ctx, order, nil), "duplicate id rejected")

	got, gotLegs, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", got.Symbol)
	require.Len(t, gotLegs, 2)
	assert.Equal(t, order.ID, gotLegs[0].OrderID)
	assert.NotZero(t, gotLegs[0].ID)

	_, _, err = s.GetOrder(ctx, "missing")
	assert.Error(t, err)

	orders, err := s.ListOrders(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	orders, err = s.ListOrders(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, orders)
}
