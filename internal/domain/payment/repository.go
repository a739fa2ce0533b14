package payment

import (
	"context"
	"time"
)

// Repository persists payment requests. Implementations must make Claim
// atomic with respect to other Claims on the same Target.Key().
type Repository interface {
	// Claim stores r unless another active request holds the same target,
	// in which case it returns *DuplicateRequestError.
	Claim(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*Request, error)
	FindActive(ctx context.Context, target Target) (*Request, error)
	// Update replaces the stored request. A stored terminal state is never
	// overwritten with a different state; that returns ErrConflict.
	Update(ctx context.Context, r *Request) error
	ListByMember(ctx context.Context, memberID string, limit int) ([]*Request, error)
	ListByState(ctx context.Context, states ...State) ([]*Request, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
