package notify

import (
	"context"
	"errors"

	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
)

// Multi fans a message out to every notifier. It fails if any of them fails,
// so the outbox row is retried; downstream consumers dedupe on EventID.
type Multi []receiptdomain.Notifier

func (m Multi) NotifyReceiptReady(ctx context.Context, msg receiptdomain.ReadyMessage) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyReceiptReady(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
