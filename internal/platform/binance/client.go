// Package binance implements domain.ExchangeGateway against the Binance
// USDT-margined futures REST API.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// ClientConfig holds connection parameters for the futures gateway.
type ClientConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // override for testnet or proxies; empty = production
	Testnet   bool

	CallTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Gateway is the live exchange adapter. All venue responses pass through the
// normalization layer in normalize.go before reaching callers: numeric fields
// arrive as strings and position queries may return a list of one.
type Gateway struct {
	client  *futures.Client
	retry   RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Gateway from the given configuration.
func New(cfg ClientConfig, logger *slog.Logger) *Gateway {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Gateway{
		client:  client,
		retry:   RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
		timeout: timeout,
		logger:  logger.With(slog.String("component", "binance_gateway")),
	}
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

// SetLeverage sets the account leverage for a symbol. Called once per symbol
// at startup before any order is placed.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.retry.Do(ctx, "change_leverage", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		_, err := g.client.NewChangeLeverageService().
			Symbol(symbol).
			Leverage(leverage).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: change leverage %s: %w", symbol, err)
		}
		return nil
	})
}

// SubmitOrder submits one order. Market responses frequently report a zero
// average price before fills are priced, so when the response carries filled
// quantity with no average the gateway fetches the individual fill lines.
func (g *Gateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(orderSide(req.Side, req.ReduceOnly)).
		Quantity(formatQuantity(req.Quantity))

	switch req.Type {
	case domain.OrderTypeStopMarket:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(strconv.FormatFloat(req.StopPrice, 'f', -1, 64))
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	var resp *futures.CreateOrderResponse
	err := g.retry.Do(ctx, "submit_order", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		resp, err = svc.Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: create order %s: %w", req.Symbol, err)
		}
		return nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	result, err := normalizeOrderResponse(resp)
	if err != nil {
		return domain.OrderResult{}, err
	}

	if result.Accepted && result.AvgFillPrice == 0 && result.FilledQuantity > 0 {
		prices, err := g.fillLines(ctx, req.Symbol, resp.OrderID)
		if err != nil {
			g.logger.Warn("fill line lookup failed",
				slog.String("symbol", req.Symbol),
				slog.Int64("order_id", resp.OrderID),
				slog.String("error", err.Error()))
		} else {
			result.FillPrices = prices
		}
	}

	g.logger.Info("order submitted",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Bool("reduce_only", req.ReduceOnly),
		slog.String("order_id", result.OrderID),
		slog.Float64("avg_fill", result.AvgFillPrice))

	return result, nil
}

// fillLines retrieves the per-trade prices for an order.
func (g *Gateway) fillLines(ctx context.Context, symbol string, orderID int64) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	trades, err := g.client.NewListAccountTradeService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: list account trades: %w", err)
	}

	prices := make([]float64, 0, len(trades))
	for _, t := range trades {
		p, err := parseVenueFloat("trade price", t.Price)
		if err != nil {
			return nil, err
		}
		if p > 0 {
			prices = append(prices, p)
		}
	}
	return prices, nil
}

// GetPosition fetches and normalizes the venue's position record for symbol.
// A flat position is a valid snapshot with Amount zero, not an error.
func (g *Gateway) GetPosition(ctx context.Context, symbol string) (domain.PositionSnapshot, error) {
	var risks []*futures.PositionRisk
	err := g.retry.Do(ctx, "get_position", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		risks, err = g.client.NewGetPositionRiskService().
			Symbol(symbol).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: position risk %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return domain.PositionSnapshot{}, err
	}

	return normalizePositionRisk(symbol, risks)
}

// GetBalance returns the USDT futures wallet balance.
func (g *Gateway) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	var balances []*futures.Balance
	err := g.retry.Do(ctx, "get_balance", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		balances, err = g.client.NewGetBalanceService().Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: get balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AccountBalance{}, err
	}

	return normalizeBalances(balances, "USDT")
}

// GetSymbolInfo fetches the venue trading constraints for symbol.
func (g *Gateway) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	var info *futures.ExchangeInfo
	err := g.retry.Do(ctx, "exchange_info", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		info, err = g.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: exchange info: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.SymbolInfo{}, err
	}

	return normalizeSymbolInfo(symbol, info)
}

// LastPrice returns the latest ticker price for symbol.
func (g *Gateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*futures.SymbolPrice
	err := g.retry.Do(ctx, "last_price", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		prices, err = g.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return fmt.Errorf("binance: list prices %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		v, err := parseVenueFloat("ticker price", p.Price)
		if err != nil {
			return 0, err
		}
		if v <= 0 {
			return 0, fmt.Errorf("binance: ticker price %s: %w", symbol, domain.ErrNoPrice)
		}
		return v, nil
	}
	return 0, fmt.Errorf("binance: ticker price %s: %w", symbol, domain.ErrNoPrice)
}

// orderSide maps exposure direction to the venue order side. Opening a short
// sells; closing it (reduce-only) buys.
func orderSide(side domain.Side, reduceOnly bool) futures.SideType {
	long := side == domain.SideLong
	if reduceOnly {
		long = !long
	}
	if long {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

// formatQuantity renders a quantity without scientific notation. The sizer
// has already rounded to the symbol step, so the plain representation is
// venue-acceptable.
func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
