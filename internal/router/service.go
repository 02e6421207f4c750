package router

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michael-ngx/crypto-router/internal/feed"
	"github.com/michael-ngx/crypto-router/internal/storage"
	"github.com/michael-ngx/crypto-router/pkg/metrics"
)

// OrderRequest is a validated order-entry request. Side and type arrive
// lowercase from the HTTP layer.
type OrderRequest struct {
	UserID     string   `json:"user_id" validate:"required"`
	Symbol     string   `json:"symbol" validate:"required"`
	Side       string   `json:"side" validate:"required,oneof=buy sell"`
	Type       string   `json:"type" validate:"required,oneof=market limit"`
	Quantity   float64  `json:"quantity" validate:"required,gt=0"`
	LimitPrice *float64 `json:"limit_price,omitempty" validate:"omitempty,gt=0"`
}

// OrderResult is the accepted order plus its routing plan.
type OrderResult struct {
	OrderID string   `json:"order_id"`
	Status  string   `json:"status"`
	Routing Decision `json:"routing"`
}

// ErrorCode classifies create-order failures for the HTTP layer.
type ErrorCode string

const (
	CodeInvalidRequest        ErrorCode = "invalid_request"
	CodeDatabaseNotConfigured ErrorCode = "database_not_configured"
	CodeSymbolNotSupported    ErrorCode = "symbol_not_supported"
	CodeMarketNoLiquidity     ErrorCode = "market_no_liquidity"
	CodeInvalidRoutingPlan    ErrorCode = "invalid_routing_plan"
	CodeDatabaseFailure       ErrorCode = "database_failure"
)

// Error is the structured failure CreateOrder hands back to the caller.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Service turns order-entry requests into persisted orders with a routing
// plan over the live books.
type Service struct {
	feeds    *feed.Manager
	store    storage.Store // nil => persistence not configured
	validate *validator.Validate
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewService(feeds *feed.Manager, store storage.Store, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		feeds:    feeds,
		store:    store,
		validate: validator.New(),
		log:      log.Named("router"),
		metrics:  m,
	}
}

// CreateOrder routes the request over the live books and persists the
// order with one leg per touched venue. Orders with no immediately
// routable size are rejected; accepted orders stay open until execution
// reports arrive.
func (s *Service) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, *Error) {
	if err := s.validate.Struct(req); err != nil {
		s.metrics.IncRouterOrder("rejected")
		return nil, &Error{Code: CodeInvalidRequest, Message: err.Error()}
	}
	if s.store == nil {
		s.metrics.IncRouterOrder("rejected")
		return nil, &Error{Code: CodeDatabaseNotConfigured, Message: "database not configured"}
	}

	inputs := s.feeds.AcquireRoutingInputs(req.Symbol)
	if inputs == nil {
		s.metrics.IncRouterOrder("rejected")
		return nil, &Error{Code: CodeSymbolNotSupported, Message: "symbol not supported"}
	}

	sources := make([]BookSource, len(inputs.Feeds))
	for i, f := range inputs.Feeds {
		sources[i] = f
	}
	routing := RouteOrderFromBooks(sources, req.Side, req.Quantity, req.LimitPrice)

	// Require at least some immediately routable size; this guards order
	// entry when the whole side is empty across venues.
	if routing.RoutableQty <= eps {
		s.metrics.IncRouterOrder("rejected")
		return nil, &Error{
			Code:    CodeMarketNoLiquidity,
			Message: "order rejected: no liquidity on the book side across venues",
		}
	}
	if len(routing.Slices) == 0 {
		s.metrics.IncRouterOrder("rejected")
		return nil, &Error{
			Code:    CodeInvalidRoutingPlan,
			Message: "invalid routing plan: routable quantity has no legs",
		}
	}
	for _, slice := range routing.Slices {
		if slice.Quantity <= eps || slice.Price <= eps {
			s.metrics.IncRouterOrder("rejected")
			return nil, &Error{
				Code:    CodeInvalidRoutingPlan,
				Message: "invalid routing plan: leg quantity/price must be positive",
			}
		}
	}

	const status = "open"
	order := &storage.Order{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		OrderType:         req.Type,
		QuantityRequested: decimal.NewFromFloat(req.Quantity),
		QuantityPlanned:   decimal.NewFromFloat(routing.RoutableQty),
		PricePlannedAvg:   decimal.NewFromFloat(routing.IndicativeAveragePrice),
		FullyRoutable:     routing.FullyRoutable,
		RoutingMessage:    routing.Message,
		Status:            status,
	}
	if req.LimitPrice != nil {
		lp := decimal.NewFromFloat(*req.LimitPrice)
		order.LimitPrice = &lp
	}

	legs := make([]storage.OrderLeg, 0, len(routing.Slices))
	for _, slice := range routing.Slices {
		leg := storage.OrderLeg{
			Venue:           slice.Venue,
			Status:          "planned",
			QuantityPlanned: decimal.NewFromFloat(slice.Quantity),
			PricePlanned:    decimal.NewFromFloat(slice.Price),
			QuantityFilled:  decimal.Zero,
		}
		leg.LimitPrice = order.LimitPrice
		legs = append(legs, leg)
	}

	if err := s.store.CreateOrderWithLegs(ctx, order, legs); err != nil {
		s.metrics.IncRouterOrder("rejected")
		s.log.Error("failed to persist order", zap.Error(err))
		return nil, &Error{Code: CodeDatabaseFailure, Message: err.Error()}
	}

	s.metrics.IncRouterOrder("routed")
	s.log.Info("order routed",
		zap.String("order_id", order.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.Float64("requested", req.Quantity),
		zap.Float64("routable", routing.RoutableQty),
		zap.Int("legs", len(routing.Slices)),
	)
	return &OrderResult{OrderID: order.ID, Status: status, Routing: routing}, nil
}
