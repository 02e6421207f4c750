// Package storage persists routed orders and their venue legs.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is one accepted order-entry request together with its indicative
// routing outcome. Orders stay open until exchange execution reports
// arrive; planned figures come from the latest local snapshots.
type Order struct {
	ID                string           `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            string           `gorm:"index" json:"user_id"`
	Symbol            string           `json:"symbol"`
	Side              string           `json:"side"`
	OrderType         string           `json:"order_type"`
	QuantityRequested decimal.Decimal  `gorm:"type:numeric" json:"quantity_requested"`
	LimitPrice        *decimal.Decimal `gorm:"type:numeric" json:"limit_price,omitempty"`
	QuantityPlanned   decimal.Decimal  `gorm:"type:numeric" json:"quantity_planned"`
	PricePlannedAvg   decimal.Decimal  `gorm:"type:numeric" json:"price_planned_avg"`
	FullyRoutable     bool             `json:"fully_routable"`
	RoutingMessage    string           `json:"routing_message"`
	Status            string           `json:"status"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	LastUpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"last_updated_at"`
}

func (Order) TableName() string { return "orders" }

// OrderLeg is the per-venue component of an order's routing plan.
type OrderLeg struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	OrderID         string           `gorm:"type:uuid;index" json:"order_id"`
	Venue           string           `json:"venue"`
	Status          string           `json:"status"`
	QuantityPlanned decimal.Decimal  `gorm:"type:numeric" json:"quantity_planned"`
	LimitPrice      *decimal.Decimal `gorm:"type:numeric" json:"limit_price,omitempty"`
	PricePlanned    decimal.Decimal  `gorm:"type:numeric" json:"price_planned"`
	QuantityFilled  decimal.Decimal  `gorm:"type:numeric" json:"quantity_filled"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	LastUpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"last_updated_at"`
}

func (OrderLeg) TableName() string { return "order_legs" }

// Store is the order persistence surface the router service needs.
type Store interface {
	// CreateOrderWithLegs writes the order and its legs atomically.
	CreateOrderWithLegs(ctx context.Context, order *Order, legs []OrderLeg) error
	GetOrder(ctx context.Context, id string) (*Order, []OrderLeg, error)
	ListOrders(ctx context.Context, userID string) ([]Order, error)
}
