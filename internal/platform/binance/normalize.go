package binance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// The venue reports numeric fields as JSON strings and wraps single-symbol
// position queries in a list. Everything in this file converts those raw
// shapes into canonical domain types; a response that cannot be converted is
// reported as domain.ErrAmbiguousRead rather than silently zeroed, so callers
// never feed a misread into P&L or exit-rule math.

// parseVenueFloat converts a venue string field to float64. An empty string
// is treated as zero (the venue omits some fields on flat positions); any
// other unparseable value is an ambiguous read.
func parseVenueFloat(field, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse %s %q: %w", field, raw, domain.ErrAmbiguousRead)
	}
	return v, nil
}

// normalizeOrderResponse converts a create-order response into the canonical
// order result. A zero average price is preserved as-is; entry-price
// resolution downstream decides what to do with it.
func normalizeOrderResponse(resp *futures.CreateOrderResponse) (domain.OrderResult, error) {
	if resp == nil {
		return domain.OrderResult{}, fmt.Errorf("binance: empty order response: %w", domain.ErrAmbiguousRead)
	}

	avg, err := parseVenueFloat("avg price", resp.AvgPrice)
	if err != nil {
		return domain.OrderResult{}, err
	}
	filled, err := parseVenueFloat("executed quantity", resp.ExecutedQuantity)
	if err != nil {
		return domain.OrderResult{}, err
	}
	quoted, err := parseVenueFloat("order price", resp.Price)
	if err != nil {
		return domain.OrderResult{}, err
	}

	accepted := resp.Status != futures.OrderStatusTypeRejected &&
		resp.Status != futures.OrderStatusTypeExpired

	return domain.OrderResult{
		OrderID:        strconv.FormatInt(resp.OrderID, 10),
		Accepted:       accepted,
		AvgFillPrice:   avg,
		FilledQuantity: filled,
		QuotedPrice:    quoted,
		Message:        string(resp.Status),
	}, nil
}

// normalizePositionRisk collapses the venue's list-of-positions response into
// one snapshot for the requested symbol. An empty list means flat, not error.
func normalizePositionRisk(symbol string, risks []*futures.PositionRisk) (domain.PositionSnapshot, error) {
	snap := domain.PositionSnapshot{
		Symbol:    symbol,
		FetchedAt: time.Now().UTC(),
	}

	var match *futures.PositionRisk
	for _, r := range risks {
		if r != nil && r.Symbol == symbol {
			match = r
			break
		}
	}
	if match == nil {
		return snap, nil
	}

	var err error
	if snap.Amount, err = parseVenueFloat("position amount", match.PositionAmt); err != nil {
		return domain.PositionSnapshot{}, err
	}
	if snap.EntryPrice, err = parseVenueFloat("entry price", match.EntryPrice); err != nil {
		return domain.PositionSnapshot{}, err
	}
	if snap.MarkPrice, err = parseVenueFloat("mark price", match.MarkPrice); err != nil {
		return domain.PositionSnapshot{}, err
	}
	if snap.UnrealizedPnL, err = parseVenueFloat("unrealized pnl", match.UnRealizedProfit); err != nil {
		return domain.PositionSnapshot{}, err
	}

	return snap, nil
}

// normalizeBalances extracts the balance entry for one asset.
func normalizeBalances(balances []*futures.Balance, asset string) (domain.AccountBalance, error) {
	for _, b := range balances {
		if b == nil || b.Asset != asset {
			continue
		}
		total, err := parseVenueFloat("balance", b.Balance)
		if err != nil {
			return domain.AccountBalance{}, err
		}
		available, err := parseVenueFloat("available balance", b.AvailableBalance)
		if err != nil {
			return domain.AccountBalance{}, err
		}
		return domain.AccountBalance{
			Asset:     asset,
			Total:     total,
			Available: available,
		}, nil
	}
	return domain.AccountBalance{}, fmt.Errorf("binance: no %s balance entry: %w", asset, domain.ErrAmbiguousRead)
}

// normalizeSymbolInfo extracts step size, tick size, and minimum notional for
// one symbol from the full exchange-info response.
func normalizeSymbolInfo(symbol string, info *futures.ExchangeInfo) (domain.SymbolInfo, error) {
	if info == nil {
		return domain.SymbolInfo{}, fmt.Errorf("binance: empty exchange info: %w", domain.ErrAmbiguousRead)
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}

		out := domain.SymbolInfo{Symbol: symbol}

		if f := s.LotSizeFilter(); f != nil {
			step, err := parseVenueFloat("step size", f.StepSize)
			if err != nil {
				return domain.SymbolInfo{}, err
			}
			out.StepSize = step
		}
		if f := s.PriceFilter(); f != nil {
			tick, err := parseVenueFloat("tick size", f.TickSize)
			if err != nil {
				return domain.SymbolInfo{}, err
			}
			out.TickSize = tick
		}
		if f := s.MinNotionalFilter(); f != nil {
			minNotional, err := parseVenueFloat("min notional", f.Notional)
			if err != nil {
				return domain.SymbolInfo{}, err
			}
			out.MinNotional = minNotional
		}

		if out.StepSize <= 0 || out.TickSize <= 0 {
			return domain.SymbolInfo{}, fmt.Errorf("binance: symbol %s missing filters: %w", symbol, domain.ErrAmbiguousRead)
		}
		return out, nil
	}

	return domain.SymbolInfo{}, fmt.Errorf("binance: symbol %s: %w", symbol, domain.ErrNotFound)
}
