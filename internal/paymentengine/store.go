package paymentengine

import "context"

// Store persists PaymentSession rows.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	ListByStatus(ctx context.Context, status Status) ([]*Session, error)
}
