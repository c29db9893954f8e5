package service

import (
	"fmt"
	"strings"
	"time"

	"trade-settlement-engine/config"
	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settings carries the tunable rules shared by the settlement services.
type Settings struct {
	SellSpread         decimal.Decimal
	BuySpread          decimal.Decimal
	QuoteTTL           time.Duration
	InstantQuoteTTL    time.Duration
	MinQuoteAmounts    map[string]decimal.Decimal
	AutoCancelAfter    time.Duration
	AutoReleaseAfter   time.Duration // zero disables auto-release
	MaxConflictRetries int
	BatchSize          int
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		SellSpread:      decimal.RequireFromString("0.975"),
		BuySpread:       decimal.RequireFromString("1.025"),
		QuoteTTL:        15 * time.Minute,
		InstantQuoteTTL: 60 * time.Second,
		MinQuoteAmounts: map[string]decimal.Decimal{
			"BTC":  decimal.RequireFromString("0.0001"),
			"ETH":  decimal.RequireFromString("0.001"),
			"USDT": decimal.NewFromInt(1),
		},
		AutoCancelAfter:    30 * time.Minute,
		MaxConflictRetries: 3,
		BatchSize:          100,
	}
}

// SettingsFromConfig builds Settings, keeping defaults for unset values.
func SettingsFromConfig(cfg config.EngineConfig) Settings {
	s := DefaultSettings()
	s.SellSpread = config.Decimal(cfg.SellSpread, s.SellSpread)
	s.BuySpread = config.Decimal(cfg.BuySpread, s.BuySpread)
	if cfg.QuoteTTL > 0 {
		s.QuoteTTL = cfg.QuoteTTL
	}
	if cfg.InstantQuoteTTL > 0 {
		s.InstantQuoteTTL = cfg.InstantQuoteTTL
	}
	if len(cfg.MinQuoteAmounts) > 0 {
		s.MinQuoteAmounts = config.DecimalMap(cfg.MinQuoteAmounts)
	}
	if cfg.AutoCancelAfter > 0 {
		s.AutoCancelAfter = cfg.AutoCancelAfter
	}
	s.AutoReleaseAfter = cfg.AutoReleaseAfter
	if cfg.MaxConflictRetries > 0 {
		s.MaxConflictRetries = cfg.MaxConflictRetries
	}
	return s
}

// spread returns the multiplier applied to the reference price for side.
func (s Settings) spread(side domain.QuoteSide) decimal.Decimal {
	if side == domain.QuoteSideBuy {
		return s.BuySpread
	}
	return s.SellSpread
}

// FeeSchedule holds the platform's fee rates. It only computes amounts;
// charging goes through the Ledger inside the caller's transaction.
type FeeSchedule struct {
	PlatformAccountID  uuid.UUID
	QuoteFeePercent    decimal.Decimal
	TradeFeePercent    decimal.Decimal
	WithdrawFeePercent decimal.Decimal
	DepositFeePercent  decimal.Decimal
	DefaultDisputeFee  decimal.Decimal
	DisputeFees        map[string]decimal.Decimal
	BoostCurrency      string
	BoostPrices        map[domain.BoostTier]decimal.Decimal
}

// DefaultFeeSchedule returns the production fee defaults for platformID.
func DefaultFeeSchedule(platformID uuid.UUID) *FeeSchedule {
	return &FeeSchedule{
		PlatformAccountID:  platformID,
		QuoteFeePercent:    decimal.NewFromInt(1),
		TradeFeePercent:    decimal.RequireFromString("0.5"),
		WithdrawFeePercent: decimal.RequireFromString("0.5"),
		DepositFeePercent:  decimal.Zero,
		DefaultDisputeFee:  decimal.NewFromInt(5),
		DisputeFees:        map[string]decimal.Decimal{},
		BoostCurrency:      "GBP",
		BoostPrices: map[domain.BoostTier]decimal.Decimal{
			domain.BoostTier1h:  decimal.RequireFromString("1.99"),
			domain.BoostTier6h:  decimal.RequireFromString("4.99"),
			domain.BoostTier24h: decimal.RequireFromString("9.99"),
		},
	}
}

// FeeScheduleFromConfig builds a FeeSchedule from engine configuration.
func FeeScheduleFromConfig(cfg config.EngineConfig) (*FeeSchedule, error) {
	platformID, err := uuid.Parse(cfg.PlatformAccountID)
	if err != nil {
		return nil, fmt.Errorf("parsing platform account id: %w", err)
	}
	f := DefaultFeeSchedule(platformID)
	f.QuoteFeePercent = config.Decimal(cfg.QuoteFeePercent, f.QuoteFeePercent)
	f.TradeFeePercent = config.Decimal(cfg.TradeFeePercent, f.TradeFeePercent)
	f.WithdrawFeePercent = config.Decimal(cfg.WithdrawFeePercent, f.WithdrawFeePercent)
	f.DepositFeePercent = config.Decimal(cfg.DepositFeePercent, f.DepositFeePercent)
	f.DefaultDisputeFee = config.Decimal(cfg.DisputeFee, f.DefaultDisputeFee)
	f.DisputeFees = config.DecimalMap(cfg.DisputeFees)
	if cfg.BoostCurrency != "" {
		f.BoostCurrency = strings.ToUpper(cfg.BoostCurrency)
	}
	for tier, price := range config.DecimalMap(cfg.BoostPrices) {
		f.BoostPrices[domain.BoostTier(strings.ToLower(tier))] = price
	}
	return f, nil
}

// TradeFee is the escrow release fee, in the trade's crypto currency.
func (f *FeeSchedule) TradeFee(amount decimal.Decimal, currency string) decimal.Decimal {
	return domain.Round(domain.Percent(amount, f.TradeFeePercent), currency)
}

// WithdrawalFee is charged on top of a withdrawal.
func (f *FeeSchedule) WithdrawalFee(amount decimal.Decimal, currency string) decimal.Decimal {
	return domain.Round(domain.Percent(amount, f.WithdrawFeePercent), currency)
}

// DepositFee is withheld from a deposit.
func (f *FeeSchedule) DepositFee(amount decimal.Decimal, currency string) decimal.Decimal {
	return domain.Round(domain.Percent(amount, f.DepositFeePercent), currency)
}

// DisputeFee is the flat fee charged to the losing party, in fiat.
func (f *FeeSchedule) DisputeFee(fiatCurrency string) decimal.Decimal {
	if fee, ok := f.DisputeFees[strings.ToUpper(fiatCurrency)]; ok {
		return fee
	}
	return f.DefaultDisputeFee
}

// BoostCost returns the price of a boost tier and the currency it is paid in.
func (f *FeeSchedule) BoostCost(tier domain.BoostTier) (decimal.Decimal, string, bool) {
	price, ok := f.BoostPrices[tier]
	if !ok || tier.Duration() == 0 {
		return decimal.Zero, "", false
	}
	return price, f.BoostCurrency, true
}
