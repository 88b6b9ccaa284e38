package domain

import (
	"context"
	"time"
)

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopMarket OrderType = "stop_market"
)

// OrderRequest describes one order to be submitted to the venue.
type OrderRequest struct {
	Symbol        string
	Side          Side // direction of exposure; reduce-only orders flip it
	Type          OrderType
	Quantity      float64
	Price         float64 // limit price, unused for market orders
	StopPrice     float64 // trigger for stop orders
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResult is the normalized response to an order submission. Fill prices
// may legitimately be zero here (a market fill the venue has not yet priced);
// entry-price resolution handles that.
type OrderResult struct {
	OrderID        string
	Accepted       bool
	AvgFillPrice   float64
	FilledQuantity float64
	QuotedPrice    float64   // the order's own quoted price, if any
	FillPrices     []float64 // individual fill-line prices, possibly empty
	Message        string
}

// PositionSnapshot is the canonical typed view of a venue position record,
// produced by the gateway's normalization layer regardless of whether the
// venue returned a single object or a list-of-one, or numeric fields as text.
type PositionSnapshot struct {
	Symbol        string
	Amount        float64 // signed venue position amount; 0 = flat
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	FetchedAt     time.Time
}

// Flat reports whether the venue considers the position closed.
func (s PositionSnapshot) Flat() bool {
	return s.Amount == 0
}

// AccountBalance is the normalized venue balance response.
type AccountBalance struct {
	Asset     string
	Total     float64
	Available float64
}

// SymbolInfo carries the venue's trading constraints for one symbol.
type SymbolInfo struct {
	Symbol      string
	StepSize    float64 // quantity increment
	TickSize    float64 // price increment
	MinNotional float64 // minimum order value in quote currency
}

// ExchangeGateway is the narrow contract the engine consumes from the venue.
// Every call may fail, time out, or return malformed data; callers never let
// an ambiguous response reach a trusted calculation.
type ExchangeGateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetPosition(ctx context.Context, symbol string) (PositionSnapshot, error)
	GetBalance(ctx context.Context) (AccountBalance, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceFeed returns the latest tradable price for a symbol and, for market
// fills, a resolved execution price.
type PriceFeed interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
	FillPrice(ctx context.Context, symbol string, side Side) (float64, error)
}
