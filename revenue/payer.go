package revenue

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is one transfer request handed to a Payer.
type Payment struct {
	PayoutID    string
	UserID      string
	PoolID      string
	Destination string
	Amount      decimal.Decimal
}

// Payer moves funds to a destination and returns the transfer reference.
type Payer interface {
	Pay(ctx context.Context, payment Payment) (string, error)
}

type PayerFunc func(ctx context.Context, payment Payment) (string, error)

func (f PayerFunc) Pay(ctx context.Context, payment Payment) (string, error) {
	return f(ctx, payment)
}

// SimulatedPayer settles instantly with a random transaction hash.
type SimulatedPayer struct{}

func (SimulatedPayer) Pay(ctx context.Context, _ Payment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.New()
	return "0x" + strings.ReplaceAll(id.String(), "-", ""), nil
}
