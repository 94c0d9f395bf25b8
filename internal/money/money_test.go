package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", value, err)
	}
	return d
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10.005", "10.01"},
		{"10.004", "10.00"},
		{"10.995", "11.00"},
		{"0.125", "0.13"},
	}
	for _, tc := range cases {
		got := Round(dec(t, tc.in))
		if !got.Equal(dec(t, tc.want)) {
			t.Fatalf("Round(%s) = %s, want %s", tc.in, got.String(), tc.want)
		}
	}
}

func TestWithinToleranceBoundary(t *testing.T) {
	if !WithinTolerance(dec(t, "100.00"), dec(t, "100.00")) {
		t.Fatalf("equal amounts must be within tolerance")
	}
	if !WithinTolerance(dec(t, "100.005"), dec(t, "100.00")) {
		t.Fatalf("half-cent drift must be within tolerance")
	}
	// Exactly one cent of drift is already out of tolerance.
	if WithinTolerance(dec(t, "100.01"), dec(t, "100.00")) {
		t.Fatalf("one-cent drift must be out of tolerance")
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount(dec(t, "12.34")); err != nil {
		t.Fatalf("valid amount rejected: %v", err)
	}
	if err := ValidateAmount(dec(t, "-0.01")); err == nil {
		t.Fatalf("negative amount accepted")
	}
	if err := ValidateAmount(dec(t, "1.234")); err == nil {
		t.Fatalf("over-scaled amount accepted")
	}
}

func TestValidateQuantityGranularity(t *testing.T) {
	if err := ValidateQuantity(dec(t, "3"), true); err != nil {
		t.Fatalf("integer quantity rejected for discrete unit: %v", err)
	}
	if err := ValidateQuantity(dec(t, "2.5"), true); err == nil {
		t.Fatalf("fractional quantity accepted for discrete unit")
	}
	if err := ValidateQuantity(dec(t, "0.125"), false); err != nil {
		t.Fatalf("3-decimal quantity rejected for weighed unit: %v", err)
	}
	if err := ValidateQuantity(dec(t, "0.1255"), false); err == nil {
		t.Fatalf("4-decimal quantity accepted for weighed unit")
	}
	if err := ValidateQuantity(dec(t, "0"), false); err == nil {
		t.Fatalf("zero quantity accepted")
	}
}
