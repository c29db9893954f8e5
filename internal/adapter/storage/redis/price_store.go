package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrPriceNotFound is returned when no price has been published for a pair.
var ErrPriceNotFound = errors.New("price not found")

// ErrPriceStale is returned when the stored price is older than the store's max age.
var ErrPriceStale = errors.New("price is stale")

// PriceStore keeps the latest reference price per pair in a Redis hash
// (price:{CUR}:{FIAT} -> {price, updated_at}). A feeder writes with SetPrice;
// the quote engine reads through ReferencePrice.
type PriceStore struct {
	client goredis.UniversalClient
	maxAge time.Duration
	now    func() time.Time
}

// NewPriceStore creates a Redis-backed price source. maxAge of zero disables
// the staleness check.
func NewPriceStore(client goredis.UniversalClient, maxAge time.Duration) *PriceStore {
	return &PriceStore{client: client, maxAge: maxAge, now: time.Now}
}

func priceKey(currency, fiatCurrency string) string {
	return "price:" + strings.ToUpper(currency) + ":" + strings.ToUpper(fiatCurrency)
}

// SetPrice publishes a reference price for a pair.
func (s *PriceStore) SetPrice(ctx context.Context, currency, fiatCurrency string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("redis price set: price must be positive, got %s", price)
	}
	err := s.client.HSet(ctx, priceKey(currency, fiatCurrency),
		"price", price.String(),
		"updated_at", s.now().Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis price set: %w", err)
	}
	return nil
}

// ReferencePrice implements ports.PriceSource.
func (s *PriceStore) ReferencePrice(ctx context.Context, currency, fiatCurrency string) (decimal.Decimal, error) {
	key := priceKey(currency, fiatCurrency)
	vals, err := s.client.HMGet(ctx, key, "price", "updated_at").Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis price get: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok || raw == "" {
		return decimal.Zero, fmt.Errorf("%s: %w", key, ErrPriceNotFound)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis price parse %s: %w", key, err)
	}

	if s.maxAge > 0 {
		ts, _ := vals[1].(string)
		updated, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || s.now().Sub(time.Unix(updated, 0)) > s.maxAge {
			return decimal.Zero, fmt.Errorf("%s: %w", key, ErrPriceStale)
		}
	}
	return price, nil
}
