package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trade-settlement-engine/config"

	"github.com/shopspring/decimal"
)

// ErrUnknownPair is returned when a source has no price for a pair.
var ErrUnknownPair = errors.New("unknown currency pair")

// Static serves fixed prices keyed "CUR/FIAT". It backs local runs and acts
// as the last resort behind live sources.
type Static struct {
	prices map[string]decimal.Decimal
}

// NewStatic builds a static source from engine.reference_prices.
func NewStatic(raw map[string]string) *Static {
	return &Static{prices: config.DecimalMap(raw)}
}

func pairKey(currency, fiatCurrency string) string {
	return strings.ToUpper(currency) + "/" + strings.ToUpper(fiatCurrency)
}

// ReferencePrice implements ports.PriceSource.
func (s *Static) ReferencePrice(_ context.Context, currency, fiatCurrency string) (decimal.Decimal, error) {
	p, ok := s.prices[pairKey(currency, fiatCurrency)]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", pairKey(currency, fiatCurrency), ErrUnknownPair)
	}
	return p, nil
}

// Pairs returns the number of configured pairs.
func (s *Static) Pairs() int {
	return len(s.prices)
}
