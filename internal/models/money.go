package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is a currency amount in centavos. All arithmetic stays in integers.
type Money int64

func Cents(c int64) Money {
	return Money(c)
}

func (m Money) Cents() int64 {
	return int64(m)
}

// Times returns m multiplied by a line quantity
func (m Money) Times(quantity int) Money {
	return m * Money(quantity)
}

// String renders the amount with exactly two decimals, e.g. "22.00"
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney parses a decimal amount with at most two fraction digits
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && !hasDot {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", s)
	}
	if hasDot && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	if units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}

	total := units*100 + cents
	if neg {
		total = -total
	}
	return Money(total), nil
}

// MarshalJSON writes the amount as a JSON number with two decimals
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		return nil
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// TaxIncluded extracts the tax already contained in a gross amount.
// rateBP is in basis points (1300 = 13%). Rounds half up.
func TaxIncluded(gross Money, rateBP int64) Money {
	if rateBP <= 0 || gross <= 0 {
		return 0
	}
	return Money(divRound(int64(gross)*rateBP, 10000+rateBP))
}

// TaxOn computes tax to add on top of a net amount. Rounds half up.
func TaxOn(net Money, rateBP int64) Money {
	if rateBP <= 0 || net <= 0 {
		return 0
	}
	return Money(divRound(int64(net)*rateBP, 10000))
}

func divRound(num, den int64) int64 {
	return (2*num + den) / (2 * den)
}
