package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable indicates no rate could be obtained for a pair.
var ErrRateUnavailable = errors.New("fx rate unavailable")

// Provider returns the rate converting one unit of from into to.
type Provider interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// StaticRates serves fixed rates keyed "FROM/TO". Identity pairs always
// resolve to one.
type StaticRates map[string]decimal.Decimal

// Rate implements Provider.
func (s StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := s[pairKey(from, to)]; ok {
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, from, to)
}

func pairKey(from, to string) string {
	return from + "/" + to
}
