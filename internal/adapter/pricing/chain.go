package pricing

import (
	"context"
	"errors"
	"fmt"

	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Chain asks each source in order and returns the first price found. A
// failure from an earlier source is logged and the next one is tried.
type Chain struct {
	sources []namedSource
	log     zerolog.Logger
}

type namedSource struct {
	name   string
	source ports.PriceSource
}

// NewChain creates an empty chain; add sources with Then.
func NewChain(log zerolog.Logger) *Chain {
	return &Chain{log: logger.Component(log, "pricing")}
}

// Then appends a source. Nil sources are skipped so optional backends can be
// wired unconditionally.
func (c *Chain) Then(name string, source ports.PriceSource) *Chain {
	if source != nil {
		c.sources = append(c.sources, namedSource{name: name, source: source})
	}
	return c
}

// ReferencePrice implements ports.PriceSource.
func (c *Chain) ReferencePrice(ctx context.Context, currency, fiatCurrency string) (decimal.Decimal, error) {
	var errs []error
	for i, s := range c.sources {
		price, err := s.source.ReferencePrice(ctx, currency, fiatCurrency)
		if err == nil {
			if i > 0 {
				c.log.Warn().
					Str("source", s.name).
					Str("pair", pairKey(currency, fiatCurrency)).
					Msg("using fallback price source")
			}
			return price, nil
		}
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}
	if len(errs) == 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", pairKey(currency, fiatCurrency), ErrUnknownPair)
	}
	return decimal.Zero, errors.Join(errs...)
}
