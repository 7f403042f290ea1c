// Package instrument handles symbol parsing and validation and the
// asset-class, currency and sector vocabulary used by exposure reporting.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Supported asset classes.
const (
	ClassEquity    = "equity"
	ClassCrypto    = "crypto"
	ClassFX        = "fx"
	ClassCommodity = "commodity"
)

var validClasses = map[string]bool{
	ClassEquity:    true,
	ClassCrypto:    true,
	ClassFX:        true,
	ClassCommodity: true,
}

// sectors maps asset classes to the coarse sector buckets used by the
// sector exposure view. Unknown classes fall into SectorOther.
var sectors = map[string]string{
	ClassEquity:    "Technology",
	ClassCrypto:    "Digital Assets",
	ClassFX:        "Foreign Exchange",
	ClassCommodity: "Commodities",
}

// SectorOther is the bucket for asset classes without a sector mapping.
const SectorOther = "Other"

// symbolRegex matches plain tickers (AAPL, BRK.B) and pairs (EUR/USD, BTC/USDT).
var symbolRegex = regexp.MustCompile(`^([A-Z0-9.]{1,12})(?:/([A-Z]{3,5}))?$`)

// currencyRegex matches ISO-4217 style codes and stablecoin quotes.
var currencyRegex = regexp.MustCompile(`^[A-Z]{3,5}$`)

var (
	ErrInvalidSymbol     = errors.New("instrument: invalid symbol")
	ErrInvalidAssetClass = errors.New("instrument: unsupported asset class")
	ErrInvalidCurrency   = errors.New("instrument: invalid currency code")
)

// Symbol is a parsed instrument symbol.
type Symbol struct {
	Raw   string `json:"raw"`
	Base  string `json:"base"`
	Quote string `json:"quote,omitempty"` // empty for plain tickers
}

// IsPair reports whether the symbol is a BASE/QUOTE pair.
func (s Symbol) IsPair() bool { return s.Quote != "" }

// ParseSymbol parses and validates a symbol. Input is upper-cased and
// trimmed first.
func ParseSymbol(raw string) (Symbol, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(norm)
	if matches == nil {
		return Symbol{}, fmt.Errorf("%w: %q (expected TICKER or BASE/QUOTE)", ErrInvalidSymbol, raw)
	}
	return Symbol{Raw: norm, Base: matches[1], Quote: matches[2]}, nil
}

// CryptoPair returns the exchange pair for a crypto symbol, quoting bare
// tickers against USDT (BTC → BTC/USDT).
func CryptoPair(raw string) (string, error) {
	s, err := ParseSymbol(raw)
	if err != nil {
		return "", err
	}
	if s.IsPair() {
		return s.Raw, nil
	}
	return s.Base + "/USDT", nil
}

// ValidateAssetClass checks an asset class against the supported set.
func ValidateAssetClass(class string) error {
	if !validClasses[class] {
		return fmt.Errorf("%w: %s", ErrInvalidAssetClass, class)
	}
	return nil
}

// ValidateCurrency checks a currency code's shape.
func ValidateCurrency(code string) error {
	if !currencyRegex.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return nil
}

// SectorFor maps an asset class to its sector bucket.
func SectorFor(assetClass string) string {
	if s, ok := sectors[assetClass]; ok {
		return s
	}
	return SectorOther
}
