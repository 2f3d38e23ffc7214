package payments

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"filamu/internal/database"
	"filamu/internal/faults"
	"filamu/models"
)

type stubCharges struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{} // closed when the first submission arrives
	release chan struct{} // submission blocks until closed
}

func (s *stubCharges) Submit(ctx context.Context, charge ChargeRequest) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first && s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.err
}

type stubPush struct {
	tokenErr   error
	tokenCalls int

	ack       *PushAck
	pushErr   error
	pushCalls int

	statusCode  string
	statusErr   error
	statusCalls int
}

func (s *stubPush) Token(ctx context.Context) (string, error) {
	s.tokenCalls++
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return "token-1", nil
}

func (s *stubPush) Push(ctx context.Context, token, phone string, amount int64) (*PushAck, error) {
	s.pushCalls++
	if s.pushErr != nil {
		return nil, s.pushErr
	}
	return s.ack, nil
}

func (s *stubPush) Status(ctx context.Context, token, checkoutRequestID string) (string, error) {
	s.statusCalls++
	if s.statusErr != nil {
		return "", s.statusErr
	}
	return s.statusCode, nil
}

type stubGrants struct {
	mu        sync.Mutex
	calls     int
	lastMode  models.Mode
	lastTitle string
}

func (s *stubGrants) Grant(ctx context.Context, accountID, titleID string, mode models.Mode) (*models.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastMode = mode
	s.lastTitle = titleID
	return &models.Entitlement{AccountID: accountID, TitleID: titleID, Mode: mode}, nil
}

type stubWallet struct {
	calls  int
	amount int64
	txID   string
}

func (s *stubWallet) Credit(ctx context.Context, accountID string, amount int64, transactionID string) error {
	s.calls++
	s.amount = amount
	s.txID = transactionID
	return nil
}

type stubRecorder struct {
	mu      sync.Mutex
	inserts int
	states  []models.TransactionState
}

func (s *stubRecorder) InsertTransaction(tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.states = append(s.states, tx.State)
	return nil
}

func (s *stubRecorder) UpdateTransactionState(tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, tx.State)
	return nil
}

func testIntent() models.PurchaseIntent {
	return models.PurchaseIntent{
		TitleID:   "42",
		TitleRef:  "the-river",
		Mode:      models.ModeRental,
		AccountID: "acct-1",
		Source:    models.SourceCatalogDetail,
	}
}

func offeredMethods() []models.PaymentMethod {
	return []models.PaymentMethod{
		{ID: "visa", Name: "Visa", Provider: models.ProviderCard},
		{ID: "mpesa", Name: "M-PESA", Provider: models.ProviderMobileMoney},
	}
}

func TestSubmitRejectsNonPositiveAmountLocally(t *testing.T) {
	charges := &stubCharges{}
	push := &stubPush{}
	rec := &stubRecorder{}
	o := NewOrchestrator(charges, push, &stubGrants{}, &stubWallet{}, rec, 3)
	sess := NewSession("acct-1", "254700000001")

	tx, err := o.Submit(context.Background(), sess, testIntent(), "visa", 0, offeredMethods())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if tx == nil || tx.State != models.TxFailed {
		t.Fatalf("expected a failed transaction, got %+v", tx)
	}
	if tx.FailKind != "ValidationError" {
		t.Fatalf("expected fail kind ValidationError, got %q", tx.FailKind)
	}
	if charges.calls != 0 || push.tokenCalls != 0 || push.pushCalls != 0 {
		t.Fatalf("validation failure must not reach the network: charges=%d token=%d push=%d", charges.calls, push.tokenCalls, push.pushCalls)
	}
	if rec.inserts != 1 {
		t.Fatalf("expected the failed transaction to be recorded once, got %d inserts", rec.inserts)
	}
}

func TestSubmitRejectsMethodNotOffered(t *testing.T) {
	charges := &stubCharges{}
	o := NewOrchestrator(charges, &stubPush{}, &stubGrants{}, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "")

	tx, err := o.Submit(context.Background(), sess, testIntent(), "paypal", 500, offeredMethods())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if tx.State != models.TxFailed || charges.calls != 0 {
		t.Fatalf("unexpected state=%s charges=%d", tx.State, charges.calls)
	}
}

func TestSubmitRejectsUnknownMode(t *testing.T) {
	o := NewOrchestrator(&stubCharges{}, &stubPush{}, &stubGrants{}, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "")
	intent := testIntent()
	intent.Mode = models.Mode("GIFT")

	_, err := o.Submit(context.Background(), sess, intent, "visa", 500, offeredMethods())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitDuplicateCreatesNoTransaction(t *testing.T) {
	rec := &stubRecorder{}
	o := NewOrchestrator(&stubCharges{}, &stubPush{}, &stubGrants{}, &stubWallet{}, rec, 3)
	sess := NewSession("acct-1", "")
	intent := testIntent()
	sess.begin(intent.Key(), "tx-already-running")

	tx, err := o.Submit(context.Background(), sess, intent, "visa", 500, offeredMethods())
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	if tx != nil {
		t.Fatalf("duplicate submission must not create a transaction, got %+v", tx)
	}
	if rec.inserts != 0 {
		t.Fatalf("expected no recorded transaction, got %d inserts", rec.inserts)
	}
	if id, ok := sess.Pending(intent.Key()); !ok || id != "tx-already-running" {
		t.Fatalf("original marker must survive, got id=%q ok=%v", id, ok)
	}
}

func TestSubmitConcurrentDuplicateAdmitsExactlyOne(t *testing.T) {
	charges := &stubCharges{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	grants := &stubGrants{}
	o := NewOrchestrator(charges, &stubPush{}, grants, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "")

	firstErr := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), sess, testIntent(), "visa", 500, offeredMethods())
		firstErr <- err
	}()

	select {
	case <-charges.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first submission never reached the provider")
	}

	tx, err := o.Submit(context.Background(), sess, testIntent(), "visa", 500, offeredMethods())
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission while first is in flight, got %v", err)
	}
	if tx != nil {
		t.Fatalf("duplicate must not create a transaction, got %+v", tx)
	}

	close(charges.release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if charges.calls != 1 {
		t.Fatalf("expected a single charge submission, got %d", charges.calls)
	}
	if grants.calls != 1 {
		t.Fatalf("expected a single grant, got %d", grants.calls)
	}
}

func TestSubmitSyncChargeSettlesAndGrants(t *testing.T) {
	grants := &stubGrants{}
	rec := &stubRecorder{}
	o := NewOrchestrator(&stubCharges{}, &stubPush{}, grants, &stubWallet{}, rec, 3)
	sess := NewSession("acct-1", "")
	intent := testIntent()

	tx, err := o.Submit(context.Background(), sess, intent, "visa", 500, offeredMethods())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx.State != models.TxSettled {
		t.Fatalf("expected SETTLED, got %s", tx.State)
	}
	if grants.calls != 1 || grants.lastMode != models.ModeRental {
		t.Fatalf("expected one rental grant, got calls=%d mode=%s", grants.calls, grants.lastMode)
	}
	if _, ok := sess.Pending(intent.Key()); ok {
		t.Fatalf("marker must be released after settlement")
	}

	want := []models.TransactionState{models.TxCreated, models.TxSubmitting, models.TxSettled}
	if len(rec.states) != len(want) {
		t.Fatalf("recorded states %v, want %v", rec.states, want)
	}
	for i, s := range want {
		if rec.states[i] != s {
			t.Fatalf("recorded states %v, want %v", rec.states, want)
		}
	}
}

func TestSubmitSyncChargeRejectionFails(t *testing.T) {
	grants := &stubGrants{}
	o := NewOrchestrator(&stubCharges{err: ErrProviderRejected}, &stubPush{}, grants, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "")
	intent := testIntent()

	tx, err := o.Submit(context.Background(), sess, intent, "visa", 500, offeredMethods())
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if tx.State != models.TxFailed || tx.FailKind != "ProviderRejected" {
		t.Fatalf("expected FAILED/ProviderRejected, got state=%s kind=%q", tx.State, tx.FailKind)
	}
	if grants.calls != 0 {
		t.Fatalf("rejected charge must not grant, got %d grants", grants.calls)
	}
	if _, ok := sess.Pending(intent.Key()); ok {
		t.Fatalf("marker must be released on terminal failure")
	}
}

func TestSubmitTopUpCreditsWallet(t *testing.T) {
	grants := &stubGrants{}
	wallet := &stubWallet{}
	o := NewOrchestrator(&stubCharges{}, &stubPush{}, grants, wallet, nil, 3)
	sess := NewSession("acct-1", "")
	intent := models.PurchaseIntent{
		Mode:      models.ModeTopUp,
		AccountID: "acct-1",
		Source:    models.SourceCollection,
	}

	tx, err := o.Submit(context.Background(), sess, intent, "visa", 1000, offeredMethods())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if wallet.calls != 1 || wallet.amount != 1000 || wallet.txID != tx.ID {
		t.Fatalf("expected one wallet credit of 1000 for tx %s, got calls=%d amount=%d tx=%q", tx.ID, wallet.calls, wallet.amount, wallet.txID)
	}
	if grants.calls != 0 {
		t.Fatalf("top-up must not grant an entitlement, got %d grants", grants.calls)
	}
}

func TestSubmitPushAcceptedAwaitsConfirmation(t *testing.T) {
	grants := &stubGrants{}
	push := &stubPush{ack: &PushAck{ResponseCode: "0", CheckoutRequestID: "chk-99"}}
	o := NewOrchestrator(&stubCharges{}, push, grants, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "254700000001")
	intent := testIntent()

	tx, err := o.Submit(context.Background(), sess, intent, "mpesa", 500, offeredMethods())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx.State != models.TxAwaitingConfirmation {
		t.Fatalf("acknowledged push must await confirmation, got %s", tx.State)
	}
	if tx.ProviderRef != "chk-99" {
		t.Fatalf("expected provider ref chk-99, got %q", tx.ProviderRef)
	}
	if grants.calls != 0 {
		t.Fatalf("acknowledgement must not grant, got %d grants", grants.calls)
	}
	if id, ok := sess.Pending(intent.Key()); !ok || id != tx.ID {
		t.Fatalf("marker must stay held while pending, got id=%q ok=%v", id, ok)
	}
}

func TestSubmitPushTokenFailureFailsBeforePush(t *testing.T) {
	push := &stubPush{tokenErr: faults.Wrap("fetch push token", errors.New("connection refused"))}
	o := NewOrchestrator(&stubCharges{}, push, &stubGrants{}, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "254700000001")
	intent := testIntent()

	tx, err := o.Submit(context.Background(), sess, intent, "mpesa", 500, offeredMethods())
	if !errors.Is(err, faults.ErrTransport) {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if tx.State != models.TxFailed || tx.FailKind != "TransportError" {
		t.Fatalf("expected FAILED/TransportError, got state=%s kind=%q", tx.State, tx.FailKind)
	}
	if push.pushCalls != 0 {
		t.Fatalf("push must not be attempted without a token, got %d calls", push.pushCalls)
	}
	if _, ok := sess.Pending(intent.Key()); ok {
		t.Fatalf("marker must be released on terminal failure")
	}
}

func TestSubmitPushDeclinedAckFails(t *testing.T) {
	push := &stubPush{ack: &PushAck{ResponseCode: "1032", ResponseDesc: "request cancelled by user"}}
	o := NewOrchestrator(&stubCharges{}, push, &stubGrants{}, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "254700000001")

	tx, err := o.Submit(context.Background(), sess, testIntent(), "mpesa", 500, offeredMethods())
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if tx.State != models.TxFailed || tx.FailKind != "ProviderRejected" {
		t.Fatalf("expected FAILED/ProviderRejected, got state=%s kind=%q", tx.State, tx.FailKind)
	}
}

func TestResolvePendingSettlesOnSuccess(t *testing.T) {
	grants := &stubGrants{}
	push := &stubPush{ack: &PushAck{ResponseCode: "0", CheckoutRequestID: "chk-7"}, statusCode: "0"}
	o := NewOrchestrator(&stubCharges{}, push, grants, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "254700000001")
	intent := testIntent()

	tx, err := o.Submit(context.Background(), sess, intent, "mpesa", 500, offeredMethods())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	resolved, err := o.ResolvePending(context.Background(), sess, tx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.State != models.TxSettled {
		t.Fatalf("expected SETTLED, got %s", resolved.State)
	}
	if grants.calls != 1 {
		t.Fatalf("expected one grant after settlement, got %d", grants.calls)
	}
	if _, ok := sess.Pending(intent.Key()); ok {
		t.Fatalf("marker must be released after settlement")
	}
}

func TestResolvePendingRejectionFails(t *testing.T) {
	push := &stubPush{ack: &PushAck{ResponseCode: "0", CheckoutRequestID: "chk-7"}, statusCode: "1037"}
	o := NewOrchestrator(&stubCharges{}, push, &stubGrants{}, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "254700000001")
	intent := testIntent()

	tx, _ := o.Submit(context.Background(), sess, intent, "mpesa", 500, offeredMethods())
	resolved, err := o.ResolvePending(context.Background(), sess, tx)
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if resolved.State != models.TxFailed || resolved.FailKind != "ProviderRejected" {
		t.Fatalf("expected FAILED/ProviderRejected, got state=%s kind=%q", resolved.State, resolved.FailKind)
	}
	if _, ok := sess.Pending(intent.Key()); ok {
		t.Fatalf("marker must be released on terminal failure")
	}
}

func TestResolvePendingPollFailureKeepsPending(t *testing.T) {
	push := &stubPush{ack: &PushAck{ResponseCode: "0", CheckoutRequestID: "chk-7"}, statusErr: faults.Wrap("query push status", errors.New("connection reset"))}
	o := NewOrchestrator(&stubCharges{}, push, &stubGrants{}, &stubWallet{}, nil, 2)
	sess := NewSession("acct-1", "254700000001")
	intent := testIntent()

	tx, _ := o.Submit(context.Background(), sess, intent, "mpesa", 500, offeredMethods())
	resolved, err := o.ResolvePending(context.Background(), sess, tx)
	if err == nil {
		t.Fatalf("expected poll failure to surface")
	}
	if resolved.State != models.TxAwaitingConfirmation {
		t.Fatalf("unknown outcome must stay pending, got %s", resolved.State)
	}
	if _, ok := sess.Pending(intent.Key()); !ok {
		t.Fatalf("marker must stay held while outcome is unknown")
	}
	if push.statusCalls != 2 {
		t.Fatalf("expected 2 bounded poll attempts, got %d", push.statusCalls)
	}
}

func TestResolvePendingFromReloadedTransactionGrantsTitle(t *testing.T) {
	db, err := database.NewDB(database.Config{DatabasePath: filepath.Join(t.TempDir(), "collection.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	grants := &stubGrants{}
	push := &stubPush{ack: &PushAck{ResponseCode: "0", CheckoutRequestID: "chk-7"}, statusCode: "0"}
	o := NewOrchestrator(&stubCharges{}, push, grants, &stubWallet{}, db.Repository, 3)
	sess := NewSession("acct-1", "254700000001")

	tx, err := o.Submit(context.Background(), sess, testIntent(), "mpesa", 500, offeredMethods())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A returning client resolves from the persisted record, not the
	// in-memory transaction.
	reloaded, err := db.Repository.GetTransaction(tx.ID)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if reloaded == nil || reloaded.State != models.TxAwaitingConfirmation {
		t.Fatalf("expected a persisted pending transaction, got %+v", reloaded)
	}

	resolved, err := o.ResolvePending(context.Background(), sess, reloaded)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.State != models.TxSettled {
		t.Fatalf("expected SETTLED, got %s", resolved.State)
	}
	if grants.lastTitle != "42" {
		t.Fatalf("settlement must grant the purchased title, got %q", grants.lastTitle)
	}
}

func TestResolvePendingRejectsNonPendingTransaction(t *testing.T) {
	o := NewOrchestrator(&stubCharges{}, &stubPush{}, &stubGrants{}, &stubWallet{}, nil, 3)
	sess := NewSession("acct-1", "")
	tx := &models.Transaction{ID: "tx-1", State: models.TxSettled}

	_, err := o.ResolvePending(context.Background(), sess, tx)
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestFailKindNames(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrValidation, "ValidationError"},
		{ErrProviderRejected, "ProviderRejected"},
		{ErrInvalidAccount, "InvalidAccount"},
		{ErrRegistryUnavailable, "RegistryUnavailable"},
		{faults.ErrTimeout, "Timeout"},
		{errors.New("socket closed"), "TransportError"},
	}
	for _, tc := range cases {
		if got := failKind(tc.err); got != tc.want {
			t.Fatalf("failKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
