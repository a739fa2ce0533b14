package payment

import (
	"context"

	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/shopspring/decimal"
)

type IDGenerator interface {
	NewID() string
}

// InitiateRequest asks the gateway to prompt a payer.
type InitiateRequest struct {
	Target      dompay.Target
	Amount      decimal.Decimal
	PhoneNumber string
	Reference   string
	Description string
}

// InitiateResponse is the gateway's synchronous acceptance.
type InitiateResponse struct {
	CorrelationID     string
	MerchantRequestID string
	Instructions      []string
}

// Gateway is an outbound port for the mobile-money push gateway.
// An Initiate error means the payer was never prompted. A QueryStatus error
// is transient and never terminal.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	QueryStatus(ctx context.Context, correlationID string) (dompay.Outcome, error)
}

// Reconciler applies a confirmed payment to the member ledger. Apply must be
// idempotent per correlation id.
type Reconciler interface {
	Apply(ctx context.Context, r *dompay.Request) error
}

// Eligibility rejects targets that cannot accept a payment, such as a loan
// that is already settled.
type Eligibility interface {
	CheckTarget(ctx context.Context, target dompay.Target) error
}

// LoopContextFunc decorates the context a background poll loop runs with.
type LoopContextFunc func(ctx context.Context, attrs map[string]string) context.Context
