package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	fiatScale   int32 = 2
	cryptoScale int32 = 8
)

var fiatCurrencies = map[string]bool{
	"GBP": true,
	"EUR": true,
	"USD": true,
	"NGN": true,
	"KES": true,
	"GHS": true,
	"ZAR": true,
}

// IsFiat reports whether currency is a supported fiat code.
func IsFiat(currency string) bool {
	return fiatCurrencies[strings.ToUpper(currency)]
}

// Scale returns the number of decimal places balances in currency are kept at.
func Scale(currency string) int32 {
	if IsFiat(currency) {
		return fiatScale
	}
	return cryptoScale
}

// Round rounds amount half away from zero to the precision of currency.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Scale(currency))
}

// Percent returns amount * pct / 100.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(decimal.NewFromInt(100))
}
