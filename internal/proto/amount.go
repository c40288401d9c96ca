package proto

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amounts travel as decimal strings so heterogeneous nodes never disagree on
// a float rounding. Internally they are int64 minor units with seven decimal
// places, matching the ledger's native precision.
const (
	AmountDecimals = 7
	AmountScale    = int64(10_000_000)
)

func ParseAmount(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if s[0] == '-' || s[0] == '+' {
		return 0, fmt.Errorf("amount must be unsigned: %q", s)
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" {
			return 0, fmt.Errorf("bad amount: %q", s)
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > AmountDecimals {
		return 0, fmt.Errorf("too many decimal places: %q", s)
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad amount: %q", s)
		}
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount: %q", s)
	}
	if whole > math.MaxInt64/AmountScale {
		return 0, fmt.Errorf("amount overflow: %q", s)
	}
	var frac int64
	if fracPart != "" {
		padded := fracPart + strings.Repeat("0", AmountDecimals-len(fracPart))
		frac, err = strconv.ParseInt(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad amount: %q", s)
		}
	}
	v := whole * AmountScale
	if v > math.MaxInt64-frac {
		return 0, fmt.Errorf("amount overflow: %q", s)
	}
	return v + frac, nil
}

func FormatAmount(v int64) string {
	if v < 0 {
		// Negative values never appear on the wire, but keep rendering sane.
		return "-" + FormatAmount(-v)
	}
	whole := v / AmountScale
	frac := v % AmountScale
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%07d", frac), "0")
	return strconv.FormatInt(whole, 10) + "." + fracStr
}
