package shopifyclient

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid money amount")

// ToCents converts a decimal money string ("19.99", "-5", "0.005") into
// integer minor units. The value is parsed exactly, without going through a
// float, and rounded half away from zero at the third decimal. An empty
// string is zero.
func ToCents(amount string) (int64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, nil
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	var units int64
	if whole != "" {
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil || n > math.MaxInt64/100-1 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
		}
		units = n * 100
	}

	// первые две цифры дроби это центы, третья решает округление
	padded := frac + "000"
	units += int64(padded[0]-'0')*10 + int64(padded[1]-'0')
	if padded[2] >= '5' {
		units++
	}

	if negative {
		units = -units
	}
	return units, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
