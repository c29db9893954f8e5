package dto

import (
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"

	"trade-settlement-engine/pkg/apperror"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	safeStringRe    = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)
	currencyCodeRe  = regexp.MustCompile(`^[A-Za-z]{3,5}$`)
	walletAddressRe = regexp.MustCompile(`^[a-zA-Z0-9]{20,128}$`)
	decimalStringRe = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("currency_code", validateCurrencyCode)
		_ = v.RegisterValidation("wallet_address", validateWalletAddress)
		_ = v.RegisterValidation("decimal_str", validateDecimalString)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, and dot.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validateCurrencyCode accepts 3-5 letter tickers such as GBP, BTC or USDT.
func validateCurrencyCode(fl validator.FieldLevel) bool {
	return currencyCodeRe.MatchString(fl.Field().String())
}

func validateWalletAddress(fl validator.FieldLevel) bool {
	return walletAddressRe.MatchString(fl.Field().String())
}

// validateDecimalString accepts plain decimal notation only. Sign checks are
// left to the services so that non-positive amounts surface as LED_002.
func validateDecimalString(fl validator.FieldLevel) bool {
	return decimalStringRe.MatchString(fl.Field().String())
}

// ParseAmount converts a validated decimal string.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperror.Validation(fmt.Sprintf("%s must be a decimal number", field))
	}
	return d, nil
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string and []string) of a struct pointer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			if elem := f.Elem(); elem.Kind() == reflect.String {
				elem.SetString(sanitize(elem.String()))
			}
		case reflect.Slice:
			if f.Type().Elem().Kind() != reflect.String {
				continue
			}
			for j := 0; j < f.Len(); j++ {
				f.Index(j).SetString(sanitize(f.Index(j).String()))
			}
		case reflect.Struct:
			sanitizeFields(f)
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
