package events

import (
	"context"
	"errors"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

// Multi hands every event to each publisher in turn. A failing publisher does
// not stop the ones after it.
type Multi []ledger.Publisher

// Publish implements ledger.Publisher.
func (m Multi) Publish(ctx context.Context, ev models.TradeEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
