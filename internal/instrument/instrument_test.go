package instrument

import (
	"errors"
	"testing"
)

func TestParseSymbol_Ticker(t *testing.T) {
	s, err := ParseSymbol(" aapl ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Raw != "AAPL" || s.Base != "AAPL" {
		t.Errorf("expected AAPL, got %+v", s)
	}
	if s.IsPair() {
		t.Error("plain ticker should not be a pair")
	}
}

func TestParseSymbol_Pair(t *testing.T) {
	s, err := ParseSymbol("EUR/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Base != "EUR" || s.Quote != "USD" {
		t.Errorf("expected EUR/USD, got %+v", s)
	}
	if !s.IsPair() {
		t.Error("EUR/USD should be a pair")
	}
}

func TestParseSymbol_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"EUR/",
		"/USD",
		"EUR/USD/JPY",
		"THIS-IS-NOT-A-TICKER",
		"ABCDEFGHIJKLMN", // too long
	}
	for _, raw := range tests {
		_, err := ParseSymbol(raw)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("expected ErrInvalidSymbol for %q, got %v", raw, err)
		}
	}
}

func TestCryptoPair(t *testing.T) {
	cases := map[string]string{
		"BTC":      "BTC/USDT",
		"eth":      "ETH/USDT",
		"SOL/USDC": "SOL/USDC",
	}
	for in, want := range cases {
		got, err := CryptoPair(in)
		if err != nil {
			t.Errorf("unexpected error for %s: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("CryptoPair(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateAssetClass(t *testing.T) {
	for _, class := range []string{ClassEquity, ClassCrypto, ClassFX, ClassCommodity} {
		if err := ValidateAssetClass(class); err != nil {
			t.Errorf("unexpected error for %s: %v", class, err)
		}
	}
	if err := ValidateAssetClass("bond"); !errors.Is(err, ErrInvalidAssetClass) {
		t.Errorf("expected ErrInvalidAssetClass, got %v", err)
	}
}

func TestValidateCurrency(t *testing.T) {
	if err := ValidateCurrency("USD"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateCurrency("usd"); !errors.Is(err, ErrInvalidCurrency) {
		t.Errorf("expected ErrInvalidCurrency for lowercase, got %v", err)
	}
}

func TestSectorFor(t *testing.T) {
	if got := SectorFor(ClassCrypto); got != "Digital Assets" {
		t.Errorf("expected Digital Assets, got %s", got)
	}
	if got := SectorFor("bond"); got != SectorOther {
		t.Errorf("expected %s for unmapped class, got %s", SectorOther, got)
	}
}
