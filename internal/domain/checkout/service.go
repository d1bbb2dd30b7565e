package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"siphon/internal/core/apperror"
	corectx "siphon/internal/core/context"
	"siphon/internal/core/id"
	"siphon/internal/core/tx"
	"siphon/internal/domain/ledger"
	"siphon/pkg/logger"
)

// Service runs the checkout flow: order creation behind the idempotency
// guard, payment authorization, and the web_sale ledger debits that fire
// exactly once when the payment is authorized.
type Service struct {
	repo       Repository
	ledger     *ledger.Service
	authorizer Authorizer
	tokens     *TokenCache
	txManager  tx.Manager

	// dupWindow is the trailing window for the contact+total duplicate guard
	// on keyless attempts. Seconds, not minutes: it only needs to absorb
	// rapid double submits, and a long window would swallow a deliberate
	// repeat purchase.
	dupWindow time.Duration
}

// NewService creates a checkout service.
func NewService(
	repo Repository,
	ledgerSvc *ledger.Service,
	authorizer Authorizer,
	tokens *TokenCache,
	txManager tx.Manager,
	dupWindow time.Duration,
) *Service {
	if dupWindow <= 0 {
		dupWindow = 10 * time.Second
	}
	return &Service{
		repo:       repo,
		ledger:     ledgerSvc,
		authorizer: authorizer,
		tokens:     tokens,
		txManager:  txManager,
		dupWindow:  dupWindow,
	}
}

// Checkout processes one storefront attempt. Replays of the same idempotency
// key resolve to the identical result triple without a second order, payment
// authorization, or set of stock movements.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(ctx); err != nil {
		return Result{}, err
	}

	if req.IdempotencyKey != "" {
		if cached, ok := s.tokens.Get(req.IdempotencyKey); ok {
			logger.Debug(ctx, "checkout replay served from token cache",
				"order_id", cached.OrderID)
			return cached, nil
		}

		existing, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			return s.resume(ctx, existing)
		case !apperror.IsNotFound(err):
			return Result{}, fmt.Errorf("lookup idempotency key: %w", err)
		}
		// A fresh, unused token is a deliberate new purchase; the trailing
		// window guard only covers attempts that carry no token at all.
	} else {
		recent, err := s.repo.FindRecentByContact(ctx, req.CustomerContact, req.Total, s.dupWindow)
		switch {
		case err == nil:
			logger.Warn(ctx, "duplicate checkout suspected within trailing window",
				"order_id", recent.ID,
				"contact", req.CustomerContact,
			)
			return s.resume(ctx, recent)
		case !apperror.IsNotFound(err):
			return Result{}, fmt.Errorf("trailing window lookup: %w", err)
		}
	}

	number, err := s.repo.NextOrderNumber(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("issue order number: %w", err)
	}

	order := NewOrder(number, req)
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, ErrKeyTaken) {
			// Lost the race to a concurrent replay; converge on its order.
			winner, lookupErr := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				if apperror.IsNotFound(lookupErr) {
					// The winning insert has not committed yet; tell the
					// client the attempt is in flight rather than minting
					// a second order.
					return Result{}, apperror.NewIdempotencyConflict(req.IdempotencyKey)
				}
				return Result{}, fmt.Errorf("load winning order: %w", lookupErr)
			}
			return s.resume(ctx, winner)
		}
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	logger.Info(ctx, "order created",
		"order_id", order.ID,
		"order_number", order.Number,
	)

	return s.authorizeAndFinalize(ctx, order)
}

// resume finishes an order an earlier attempt already created. A pending
// order means the previous attempt died before or during authorization, so
// authorization is retried against the same order; the provider dedupes on
// the order id. A finalized order replays its result triple.
func (s *Service) resume(ctx context.Context, order *Order) (Result, error) {
	switch order.Status {
	case StatusPending:
		return s.authorizeAndFinalize(ctx, order)
	case StatusCancelled:
		return Result{}, apperror.NewConflict("order was cancelled").
			WithDetail("orderId", order.ID.String())
	default:
		result := Result{
			OrderID:       order.ID,
			OrderNumber:   order.Number,
			PaymentHandle: order.PaymentHandle,
		}
		s.tokens.Put(order.IdempotencyKey, result)
		return result, nil
	}
}

// authorizeAndFinalize calls the payment provider, then in one transaction
// flips the order to payment_authorized and debits sellable stock. The
// guarded status update makes the debits fire at most once even when two
// requests race past authorization.
func (s *Service) authorizeAndFinalize(ctx context.Context, order *Order) (Result, error) {
	handle, err := s.authorizer.Authorize(ctx, AuthorizationRequest{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Contact:     order.CustomerContact,
		Amount:      order.Total,
	})
	if err != nil {
		// The order stays pending and the idempotency key stays usable, so
		// the client can retry once the provider recovers.
		logger.Warn(ctx, "payment authorization failed",
			"order_id", order.ID,
			"error", err,
		)
		return Result{}, err
	}

	finalized := false
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.repo.SetAuthorized(ctx, order.ID, handle)
		if err != nil {
			return fmt.Errorf("set authorized: %w", err)
		}
		if !ok {
			return nil
		}
		finalized = true

		actor := corectx.ActorOrSystem(ctx)
		for _, line := range order.Lines {
			_, err := s.ledger.Append(ctx, ledger.AppendRequest{
				ProductID: line.ProductID,
				Kind:      ledger.KindWebSale,
				Delta:     -line.Quantity,
				Note:      fmt.Sprintf("web order %s", order.Number),
				Actor:     actor,
			})
			if err != nil {
				return fmt.Errorf("debit product %s: %w", line.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if !finalized {
		// Another request finalized first; read its handle back.
		current, err := s.repo.GetByID(ctx, order.ID)
		if err != nil {
			return Result{}, fmt.Errorf("reload finalized order: %w", err)
		}
		if current.Status == StatusPending || current.PaymentHandle == "" {
			return Result{}, apperror.NewConsistency(
				"order finalization raced and neither attempt completed")
		}
		handle = current.PaymentHandle
	} else {
		logger.Info(ctx, "order authorized",
			"order_id", order.ID,
			"order_number", order.Number,
		)
	}

	result := Result{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		PaymentHandle: handle,
	}
	s.tokens.Put(order.IdempotencyKey, result)
	return result, nil
}

// Get returns an order with lines.
func (s *Service) Get(ctx context.Context, orderID id.ID) (*Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

// AdvanceStatus moves an order along its lifecycle.
func (s *Service) AdvanceStatus(ctx context.Context, orderID id.ID, to OrderStatus) error {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !CanTransition(order.Status, to) {
		return apperror.NewConflict(
			fmt.Sprintf("cannot move order from %s to %s", order.Status, to)).
			WithDetail("orderId", orderID.String())
	}

	if err := s.repo.UpdateStatus(ctx, orderID, to); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	logger.Info(ctx, "order status changed",
		"order_id", orderID,
		"from", order.Status,
		"to", to,
	)
	return nil
}

// Cancel cancels an order. When the payment was already authorized, the
// web_sale debits are compensated with positive adjustments so the cans go
// back on the shelf.
func (s *Service) Cancel(ctx context.Context, orderID id.ID) error {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !CanTransition(order.Status, StatusCancelled) {
		return apperror.NewConflict(
			fmt.Sprintf("cannot cancel order in status %s", order.Status)).
			WithDetail("orderId", orderID.String())
	}

	wasAuthorized := order.Status == StatusPaymentAuthorized

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, orderID, StatusCancelled); err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		if !wasAuthorized {
			return nil
		}

		actor := corectx.ActorOrSystem(ctx)
		for _, line := range order.Lines {
			_, err := s.ledger.Append(ctx, ledger.AppendRequest{
				ProductID: line.ProductID,
				Kind:      ledger.KindAdjustment,
				Bucket:    ledger.BucketSellable,
				Delta:     line.Quantity,
				Note:      fmt.Sprintf("cancellation of web order %s", order.Number),
				Actor:     actor,
			})
			if err != nil {
				return fmt.Errorf("restock product %s: %w", line.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "order cancelled",
		"order_id", orderID,
		"restocked", wasAuthorized,
	)
	return nil
}
