package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"filamu/internal/faults"
	"filamu/models"
)

var (
	// ErrValidation is returned when a submission is rejected locally, before
	// any network attempt.
	ErrValidation = errors.New("payments: invalid transaction")
	// ErrDuplicateSubmission is returned when the (account, intent) pair
	// already has a transaction in flight.
	ErrDuplicateSubmission = errors.New("payments: submission already in flight for this intent")
	// ErrNotPending is returned when resolution is requested for a
	// transaction that is not awaiting confirmation.
	ErrNotPending = errors.New("payments: transaction is not awaiting confirmation")
)

type chargeSubmitter interface {
	Submit(ctx context.Context, charge ChargeRequest) error
}

type pushProvider interface {
	Token(ctx context.Context) (string, error)
	Push(ctx context.Context, token, phone string, amount int64) (*PushAck, error)
	Status(ctx context.Context, token, checkoutRequestID string) (string, error)
}

type entitlementGranter interface {
	Grant(ctx context.Context, accountID, titleID string, mode models.Mode) (*models.Entitlement, error)
}

type walletCreditor interface {
	Credit(ctx context.Context, accountID string, amount int64, transactionID string) error
}

// txRecorder persists transactions through their state transitions. Recording
// is an audit concern: a persistence failure is logged, never allowed to alter
// the payment outcome.
type txRecorder interface {
	InsertTransaction(tx *models.Transaction) error
	UpdateTransactionState(tx *models.Transaction) error
}

var _ chargeSubmitter = (*ChargeClient)(nil)
var _ pushProvider = (*MpesaClient)(nil)

// Orchestrator drives a chosen payment method through its provider protocol
// to a terminal outcome, then grants access or credits the wallet. All state
// transitions are pure of any presentation concern.
type Orchestrator struct {
	charges      chargeSubmitter
	push         pushProvider
	grants       entitlementGranter
	wallet       walletCreditor
	recorder     txRecorder
	pollAttempts uint
	now          func() time.Time
}

// NewOrchestrator wires the orchestrator with its collaborators. recorder may
// be nil when no audit store is configured.
func NewOrchestrator(charges chargeSubmitter, push pushProvider, grants entitlementGranter, wallet walletCreditor, recorder txRecorder, pollAttempts int) *Orchestrator {
	if pollAttempts <= 0 {
		pollAttempts = 1
	}
	return &Orchestrator{
		charges:      charges,
		push:         push,
		grants:       grants,
		wallet:       wallet,
		recorder:     recorder,
		pollAttempts: uint(pollAttempts),
		now:          time.Now,
	}
}

// Submit validates and drives a new transaction for the intent. Validation
// failures produce a FAILED transaction without any network attempt; a
// concurrent duplicate for the same (account, intent) pair is rejected
// without creating a transaction at all. Submissions are never auto-retried:
// a charge may already be in flight upstream.
func (o *Orchestrator) Submit(ctx context.Context, sess *Session, intent models.PurchaseIntent, methodID string, amount int64, offered []models.PaymentMethod) (*models.Transaction, error) {
	tx := &models.Transaction{
		ID:        uuid.NewString(),
		Intent:    intent,
		MethodID:  methodID,
		Amount:    amount,
		State:     models.TxCreated,
		CreatedAt: o.now(),
		UpdatedAt: o.now(),
	}

	method, err := validateSubmission(intent, methodID, amount, offered)
	if err != nil {
		o.fail(tx, err)
		o.record(tx, true)
		return tx, err
	}

	key := intent.Key()
	if !sess.begin(key, tx.ID) {
		log.Printf("[payments] duplicate submission rejected account=%q key=%q", intent.AccountID, key)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubmission, key)
	}

	o.record(tx, true)
	o.transition(tx, models.TxSubmitting)

	log.Printf("[payments] submitting tx=%s method=%s provider=%s amount=%d mode=%s", tx.ID, method.ID, method.Provider, amount, intent.Mode)

	if method.Provider == models.ProviderMobileMoney {
		return o.submitPush(ctx, sess, tx)
	}
	return o.submitCharge(ctx, sess, tx)
}

// submitCharge drives the synchronous request-response protocol.
func (o *Orchestrator) submitCharge(ctx context.Context, sess *Session, tx *models.Transaction) (*models.Transaction, error) {
	err := o.charges.Submit(ctx, ChargeRequest{
		Method:       tx.MethodID,
		Amount:       tx.Amount,
		Ref:          tx.Intent.TitleRef,
		PurchaseType: tx.Intent.Mode,
	})
	if err != nil {
		o.fail(tx, err)
		o.record(tx, false)
		sess.end(tx.Intent.Key())
		return tx, err
	}
	return o.settle(ctx, sess, tx)
}

// submitPush drives the push-and-poll protocol up to the provider's immediate
// acknowledgement. The final debit is resolved later via ResolvePending.
func (o *Orchestrator) submitPush(ctx context.Context, sess *Session, tx *models.Transaction) (*models.Transaction, error) {
	token, err := o.push.Token(ctx)
	if err != nil {
		o.fail(tx, err)
		o.record(tx, false)
		sess.end(tx.Intent.Key())
		return tx, err
	}

	ack, err := o.push.Push(ctx, token, sess.Phone(), tx.Amount)
	if err != nil {
		o.fail(tx, err)
		o.record(tx, false)
		sess.end(tx.Intent.Key())
		return tx, err
	}

	if !ack.Accepted() {
		err := fmt.Errorf("%w: acknowledgement code %q: %s", ErrProviderRejected, ack.ResponseCode, ack.ResponseDesc)
		o.fail(tx, err)
		o.record(tx, false)
		sess.end(tx.Intent.Key())
		return tx, err
	}

	// Prompt delivered; the payer has not paid yet. The in-flight marker
	// stays set until the pending prompt resolves.
	tx.ProviderRef = ack.CheckoutRequestID
	o.transition(tx, models.TxAwaitingConfirmation)
	log.Printf("[payments] push acknowledged tx=%s providerRef=%q", tx.ID, tx.ProviderRef)
	return tx, nil
}

// ResolvePending polls the push provider for the outcome of an acknowledged
// prompt and moves the transaction to its terminal state. The status query is
// read-only, so transport failures are retried a bounded number of times; if
// they persist the transaction stays pending and keeps its marker.
func (o *Orchestrator) ResolvePending(ctx context.Context, sess *Session, tx *models.Transaction) (*models.Transaction, error) {
	if tx.State != models.TxAwaitingConfirmation {
		return tx, fmt.Errorf("%w: state %s", ErrNotPending, tx.State)
	}

	var resultCode string
	err := retry.Do(
		func() error {
			token, err := o.push.Token(ctx)
			if err != nil {
				return err
			}
			code, err := o.push.Status(ctx, token, tx.ProviderRef)
			if err != nil {
				return err
			}
			resultCode = code
			return nil
		},
		retry.Attempts(o.pollAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[payments] status poll attempt %d failed tx=%s: %v", n+1, tx.ID, err)
		}),
	)
	if err != nil {
		// Unknown outcome: never guess. The prompt stays pending.
		return tx, err
	}

	if resultCode != ackAccepted {
		failErr := fmt.Errorf("%w: result code %q", ErrProviderRejected, resultCode)
		o.fail(tx, failErr)
		o.record(tx, false)
		sess.end(tx.Intent.Key())
		return tx, failErr
	}

	return o.settle(ctx, sess, tx)
}

// settle marks the transaction settled, releases the marker, and fulfils the
// intent: entitlement grant for rentals and ownership, wallet credit for
// top-ups.
func (o *Orchestrator) settle(ctx context.Context, sess *Session, tx *models.Transaction) (*models.Transaction, error) {
	o.transition(tx, models.TxSettled)
	sess.end(tx.Intent.Key())
	log.Printf("[payments] settled tx=%s mode=%s amount=%d", tx.ID, tx.Intent.Mode, tx.Amount)

	switch tx.Intent.Mode {
	case models.ModeTopUp:
		if err := o.wallet.Credit(ctx, tx.Intent.AccountID, tx.Amount, tx.ID); err != nil {
			return tx, fmt.Errorf("credit wallet: %w", err)
		}
	default:
		if _, err := o.grants.Grant(ctx, tx.Intent.AccountID, tx.Intent.TitleID, tx.Intent.Mode); err != nil {
			return tx, fmt.Errorf("grant entitlement: %w", err)
		}
	}
	return tx, nil
}

// validateSubmission performs every local check: a failure here must never
// reach the network.
func validateSubmission(intent models.PurchaseIntent, methodID string, amount int64, offered []models.PaymentMethod) (models.PaymentMethod, error) {
	if strings.TrimSpace(intent.AccountID) == "" {
		return models.PaymentMethod{}, fmt.Errorf("%w: missing account id", ErrValidation)
	}
	switch intent.Mode {
	case models.ModeRental, models.ModeOwnership:
		if strings.TrimSpace(intent.TitleID) == "" || strings.TrimSpace(intent.TitleRef) == "" {
			return models.PaymentMethod{}, fmt.Errorf("%w: missing title reference", ErrValidation)
		}
	case models.ModeTopUp:
	default:
		return models.PaymentMethod{}, fmt.Errorf("%w: unknown purchase mode %q", ErrValidation, intent.Mode)
	}
	if amount <= 0 {
		return models.PaymentMethod{}, fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, amount)
	}
	for _, m := range offered {
		if m.ID == methodID {
			return m, nil
		}
	}
	return models.PaymentMethod{}, fmt.Errorf("%w: method %q not offered", ErrValidation, methodID)
}

func (o *Orchestrator) transition(tx *models.Transaction, state models.TransactionState) {
	tx.State = state
	tx.UpdatedAt = o.now()
	o.record(tx, false)
}

func (o *Orchestrator) fail(tx *models.Transaction, err error) {
	tx.State = models.TxFailed
	tx.FailKind = failKind(err)
	tx.FailTail = err.Error()
	tx.UpdatedAt = o.now()
	log.Printf("[payments] failed tx=%s kind=%s: %v", tx.ID, tx.FailKind, err)
}

func (o *Orchestrator) record(tx *models.Transaction, insert bool) {
	if o.recorder == nil {
		return
	}
	var err error
	if insert {
		err = o.recorder.InsertTransaction(tx)
	} else {
		err = o.recorder.UpdateTransactionState(tx)
	}
	if err != nil {
		log.Printf("[payments] WARN: failed to record tx=%s state=%s: %v", tx.ID, tx.State, err)
	}
}

// failKind names the error kind attached to a failed transaction.
func failKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrDuplicateSubmission):
		return "DuplicateSubmission"
	case errors.Is(err, ErrProviderRejected):
		return "ProviderRejected"
	case errors.Is(err, ErrInvalidAccount):
		return "InvalidAccount"
	case errors.Is(err, ErrRegistryUnavailable):
		return "RegistryUnavailable"
	case errors.Is(err, faults.ErrTimeout):
		return "Timeout"
	default:
		return "TransportError"
	}
}
