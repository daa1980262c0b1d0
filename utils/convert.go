// Package utils
package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseRate parses a decimal rate and checks it lies in [min, max], with the
// upper bound excluded when openMax is set.
func ParseRate(data string, min, max decimal.Decimal, openMax bool) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(data)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.LessThan(min) || rate.GreaterThan(max) || (openMax && rate.Equal(max)) {
		return decimal.Zero, fmt.Errorf("rate %s out of range", rate)
	}
	return rate, nil
}
