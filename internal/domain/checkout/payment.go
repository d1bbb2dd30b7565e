package checkout

import (
	"context"

	"siphon/internal/core/id"
	"siphon/internal/core/types"
)

// AuthorizationRequest is sent to the payment provider.
// OrderID doubles as the provider-side idempotency reference, so a repeated
// authorization attempt for the same order returns the same handle instead
// of minting a second charge.
type AuthorizationRequest struct {
	OrderID     id.ID
	OrderNumber string
	Contact     string
	Amount      types.Money
}

// Authorizer abstracts the external payment SaaS. Implementations must map
// timeouts and 5xx responses to apperror.NewUpstreamUnavailable so the
// caller knows the attempt is retryable.
type Authorizer interface {
	// Authorize reserves the amount and returns an opaque payment handle.
	Authorize(ctx context.Context, req AuthorizationRequest) (handle string, err error)
}
