package collection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"filamu/internal/database"
	"filamu/models"
)

// RentalWindow is how long a rental entitlement grants access. Policy value;
// every rental grant derives its expiry from here.
const RentalWindow = 7 * 24 * time.Hour

// ErrUnknownMode is returned for a grant with a mode the store cannot hold.
var ErrUnknownMode = errors.New("collection: unknown entitlement mode")

// Service is the local collection store: it records entitlements on settled
// purchases and answers what an account currently has access to.
type Service struct {
	repo *database.Repository
	now  func() time.Time
}

// NewService creates the collection service over the entitlement repository.
func NewService(repo *database.Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Grant records access to a title. Rental expiry is the grant time plus the
// rental window; ownership never expires. Granting an already-held
// entitlement extends it in place rather than duplicating it.
func (s *Service) Grant(_ context.Context, accountID, titleID string, mode models.Mode) (*models.Entitlement, error) {
	grantedAt := s.now()

	var expiry *time.Time
	switch mode {
	case models.ModeRental:
		e := grantedAt.Add(RentalWindow)
		expiry = &e
	case models.ModeOwnership:
		expiry = nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	ent, err := s.repo.UpsertEntitlement(accountID, titleID, mode, grantedAt, expiry)
	if err != nil {
		return nil, fmt.Errorf("grant entitlement: %w", err)
	}

	log.Printf("[collection] granted account=%q title=%q mode=%s expiry=%v", accountID, titleID, mode, ent.Expiry)
	return ent, nil
}

// Credit records a settled top-up against the account balance.
func (s *Service) Credit(_ context.Context, accountID string, amount int64, transactionID string) error {
	if err := s.repo.InsertWalletCredit(accountID, amount, transactionID, s.now()); err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	log.Printf("[collection] wallet credited account=%q amount=%d tx=%s", accountID, amount, transactionID)
	return nil
}

// List returns the account's entitlements, newest grant first.
func (s *Service) List(_ context.Context, accountID string) ([]models.Entitlement, error) {
	ents, err := s.repo.ListEntitlements(accountID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	return ents, nil
}

// Active filters the account's entitlements to those still granting access.
func (s *Service) Active(ctx context.Context, accountID string) ([]models.Entitlement, error) {
	ents, err := s.List(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := ents[:0]
	for _, e := range ents {
		if e.Active(now) {
			active = append(active, e)
		}
	}
	return active, nil
}

// Balance returns the account's accumulated wallet credits.
func (s *Service) Balance(_ context.Context, accountID string) (int64, error) {
	balance, err := s.repo.WalletBalance(accountID)
	if err != nil {
		return 0, fmt.Errorf("wallet balance: %w", err)
	}
	return balance, nil
}
