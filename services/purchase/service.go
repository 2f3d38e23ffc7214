package purchase

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"filamu/models"
	"filamu/services/payments"
)

// Decision is the classification of a title for purchase purposes.
type Decision struct {
	IsFree         bool          `json:"isFree"`
	AvailableModes []models.Mode `json:"availableModes"`
}

// Allows reports whether the decision offers the given mode.
func (d Decision) Allows(mode models.Mode) bool {
	for _, m := range d.AvailableModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Classify decides whether a title is free to watch and which purchase modes
// it offers. Free titles rent without payment; paid titles rent or sell at
// prices supplied by the gateway, never computed here. Pure function of the
// title data.
func Classify(title models.Title) Decision {
	if title.IsFree() {
		return Decision{
			IsFree:         true,
			AvailableModes: []models.Mode{models.ModeRental},
		}
	}
	return Decision{
		AvailableModes: []models.Mode{models.ModeRental, models.ModeOwnership},
	}
}

type methodRegistry interface {
	FetchMethods(ctx context.Context, accountID string, q payments.MethodQuery) ([]models.PaymentMethod, error)
	ResolveAmount(ctx context.Context, accountID string) (int64, error)
}

type transactionOrchestrator interface {
	Submit(ctx context.Context, sess *payments.Session, intent models.PurchaseIntent, methodID string, amount int64, offered []models.PaymentMethod) (*models.Transaction, error)
}

type entitlementGranter interface {
	Grant(ctx context.Context, accountID, titleID string, mode models.Mode) (*models.Entitlement, error)
}

var _ methodRegistry = (*payments.Registry)(nil)
var _ transactionOrchestrator = (*payments.Orchestrator)(nil)

// Service coordinates a committed purchase from classification to submission:
// free rentals go straight to the entitlement grant, everything else fetches
// the method registry (and resolves the amount when the context requires it)
// before handing off to the orchestrator.
type Service struct {
	registry methodRegistry
	orch     transactionOrchestrator
	grants   entitlementGranter
}

// NewService wires the checkout coordinator.
func NewService(registry methodRegistry, orch transactionOrchestrator, grants entitlementGranter) *Service {
	return &Service{
		registry: registry,
		orch:     orch,
		grants:   grants,
	}
}

// CheckoutRequest is a committed purchase action.
type CheckoutRequest struct {
	Title    models.Title
	Intent   models.PurchaseIntent
	MethodID string
	// Amount in minor units. Zero means "not supplied": the registry
	// resolves it when the source context is server-priced, otherwise the
	// checkout is rejected.
	Amount int64
}

// CheckoutResult is either a direct entitlement (free rental) or a driven
// transaction.
type CheckoutResult struct {
	Entitlement *models.Entitlement `json:"entitlement,omitempty"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

// Checkout runs the purchase decision and drives the outcome. For a free
// title's rental neither the registry nor the orchestrator is touched.
func (s *Service) Checkout(ctx context.Context, sess *payments.Session, req CheckoutRequest) (*CheckoutResult, error) {
	intent := req.Intent

	if intent.Mode != models.ModeTopUp {
		decision := Classify(req.Title)

		if decision.IsFree && intent.Mode == models.ModeRental {
			log.Printf("[purchase] free rental account=%q title=%q", intent.AccountID, intent.TitleID)
			ent, err := s.grants.Grant(ctx, intent.AccountID, intent.TitleID, models.ModeRental)
			if err != nil {
				return nil, err
			}
			return &CheckoutResult{Entitlement: ent}, nil
		}

		if !decision.Allows(intent.Mode) {
			return nil, fmt.Errorf("%w: mode %s not available for title %q", payments.ErrValidation, intent.Mode, intent.TitleID)
		}
	}

	amount, methods, err := s.prepare(ctx, intent, req.Amount)
	if err != nil {
		return nil, err
	}

	tx, err := s.orch.Submit(ctx, sess, intent, req.MethodID, amount, methods)
	if err != nil {
		return &CheckoutResult{Transaction: tx}, err
	}
	return &CheckoutResult{Transaction: tx}, nil
}

// prepare fetches the offered methods and settles on a charge amount. The two
// gate lookups are independent reads and run concurrently; both must succeed
// before any submission is permitted.
func (s *Service) prepare(ctx context.Context, intent models.PurchaseIntent, suppliedAmount int64) (int64, []models.PaymentMethod, error) {
	if suppliedAmount <= 0 && !serverPriced(intent.Source) {
		return 0, nil, fmt.Errorf("%w: amount required for source %s", payments.ErrValidation, intent.Source)
	}

	var (
		amount  = suppliedAmount
		methods []models.PaymentMethod
	)

	p := pool.New().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		fetched, err := s.registry.FetchMethods(ctx, intent.AccountID, payments.MethodQuery{
			Amount:       suppliedAmount,
			PurchaseType: intent.Mode,
			Ref:          intent.TitleRef,
		})
		if err != nil {
			return err
		}
		methods = fetched
		return nil
	})
	if suppliedAmount <= 0 {
		p.Go(func(ctx context.Context) error {
			resolved, err := s.registry.ResolveAmount(ctx, intent.AccountID)
			if err != nil {
				return err
			}
			amount = resolved
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		// Submission is blocked outright; the amount is never defaulted.
		return 0, nil, err
	}

	return amount, methods, nil
}

// serverPriced reports whether the purchase context lets the gate resolve the
// amount. Top-ups started from the collection screen carry a user-entered
// amount instead.
func serverPriced(source models.SourceContext) bool {
	switch source {
	case models.SourceCatalogDetail, models.SourceScreeningRequest:
		return true
	default:
		return false
	}
}

// ValidateAccount rejects malformed account identifiers before any intent is
// built for them.
func ValidateAccount(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: empty account id", payments.ErrInvalidAccount)
	}
	return nil
}
