package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MistPerSui is the number of smallest units (MIST) in one SUI.
const MistPerSui = 1_000_000_000

const priceDecimals = 9

// ParsePrice converts a decimal SUI amount such as "1.25" into MIST.
// Negative values, non-numeric input and more than nine fractional digits are rejected.
func ParsePrice(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("price is required")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("price must not be negative")
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && (!hasDot || frac == "") {
		return 0, fmt.Errorf("price %q is not a number", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > priceDecimals {
		return 0, fmt.Errorf("price %q has more than %d decimal places", s, priceDecimals)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("price %q is not a number", s)
	}

	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil || w > math.MaxUint64/MistPerSui {
		return 0, fmt.Errorf("price %q is out of range", s)
	}
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac+strings.Repeat("0", priceDecimals-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("price %q is not a number", s)
		}
	}
	total := w*MistPerSui + f
	if total < w*MistPerSui {
		return 0, fmt.Errorf("price %q is out of range", s)
	}
	return total, nil
}

// FormatPrice renders a MIST amount as a decimal SUI string without trailing zeros.
func FormatPrice(mist uint64) string {
	whole := mist / MistPerSui
	frac := mist % MistPerSui
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := fmt.Sprintf("%09d", frac)
	return strconv.FormatUint(whole, 10) + "." + strings.TrimRight(fs, "0")
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
