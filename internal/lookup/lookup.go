// Package lookup is the settlement lookup collaborator: given an order
// id it fetches the settlement records the webhook has (or has not yet)
// written. The engine only ever reads through this interface.
package lookup

import (
	"context"
	"fmt"

	"github.com/yourorg/settlement-reconciler/internal/settlement"
)

// Client fetches settlement records for an order. An empty slice with a
// nil error means the settlement is not yet visible; errors mean the
// lookup call itself failed and may be retried.
type Client interface {
	FindByOrder(ctx context.Context, orderID string) ([]settlement.Record, error)
}

// TransportError marks a lookup failure caused by the transport or the
// collaborator itself (network error, 5xx, open circuit) rather than by
// the settlement's state.
type TransportError struct {
	StatusCode int // zero when the request never completed
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("lookup: transport error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("lookup: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
