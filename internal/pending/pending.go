// Package pending stores the short-lived "pending payment" marker
// written at payment-initiation time. One gateway omits the
// application's own order identifiers from its return redirect; the
// orchestrator falls back to this marker to resolve them. Markers are
// consumed on read.
package pending

import (
	"context"
	"time"
)

// Marker is the session-scoped record of an initiated payment.
type Marker struct {
	OrderID   string    `json:"orderId"`
	OrderCode string    `json:"orderCode"`
	Gateway   string    `json:"gateway"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the pending-payment marker store. Get removes the marker it
// returns; a marker is read at most once.
type Store interface {
	Put(ctx context.Context, sessionID string, m Marker, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (Marker, bool, error)
}
