package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"filamu/internal/faults"
	"filamu/models"
	catalogsvc "filamu/services/catalog"
	"filamu/services/payments"
	"filamu/services/purchase"
)

type checkoutService interface {
	Checkout(ctx context.Context, sess *payments.Session, req purchase.CheckoutRequest) (*purchase.CheckoutResult, error)
}

type methodLister interface {
	FetchMethods(ctx context.Context, accountID string, q payments.MethodQuery) ([]models.PaymentMethod, error)
}

type pendingResolver interface {
	ResolvePending(ctx context.Context, sess *payments.Session, tx *models.Transaction) (*models.Transaction, error)
}

type transactionLoader interface {
	GetTransaction(id string) (*models.Transaction, error)
}

var _ checkoutService = (*purchase.Service)(nil)
var _ pendingResolver = (*payments.Orchestrator)(nil)

// PurchaseHandler drives purchases from a committed intent to a terminal or
// pending transaction.
type PurchaseHandler struct {
	Catalog      catalogService
	Checkout     checkoutService
	Methods      methodLister
	Resolver     pendingResolver
	Transactions transactionLoader
	Sessions     *SessionStore
}

func NewPurchaseHandler(catalog catalogService, checkout checkoutService, methods methodLister, resolver pendingResolver, transactions transactionLoader, sessions *SessionStore) *PurchaseHandler {
	return &PurchaseHandler{
		Catalog:      catalog,
		Checkout:     checkout,
		Methods:      methods,
		Resolver:     resolver,
		Transactions: transactions,
		Sessions:     sessions,
	}
}

type submitRequest struct {
	AccountID  string               `json:"accountId"`
	Phone      string               `json:"phone,omitempty"`
	Credential string               `json:"credential,omitempty"`
	TitleID    string               `json:"titleId,omitempty"`
	Mode       models.Mode          `json:"mode"`
	Source     models.SourceContext `json:"source"`
	MethodID   string               `json:"methodId,omitempty"`
	Amount     int64                `json:"amount,omitempty"`
}

// Submit accepts a committed purchase action and responds with either an
// entitlement (free rental) or the resulting transaction.
func (h *PurchaseHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := purchase.ValidateAccount(req.AccountID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var title models.Title
	if req.Mode != models.ModeTopUp {
		found, err := h.Catalog.FindTitle(req.TitleID)
		if err != nil {
			if errors.Is(err, catalogsvc.ErrNotFound) || errors.Is(err, catalogsvc.ErrNoSnapshot) {
				http.Error(w, "title not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		title = found
	}

	sess := h.Sessions.Get(req.AccountID, req.Phone, req.Credential)
	intent := models.PurchaseIntent{
		TitleID:   title.ID,
		TitleRef:  title.Ref,
		Mode:      req.Mode,
		AccountID: req.AccountID,
		Source:    req.Source,
	}

	log.Printf("[purchase-handler] submit account=%q mode=%s source=%s title=%q method=%q", req.AccountID, req.Mode, req.Source, req.TitleID, req.MethodID)

	result, err := h.Checkout.Checkout(r.Context(), sess, purchase.CheckoutRequest{
		Title:    title,
		Intent:   intent,
		MethodID: req.MethodID,
		Amount:   req.Amount,
	})
	if err != nil {
		writePaymentError(w, err, result)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListMethods responds with the payment methods offered to an account.
func (h *PurchaseHandler) ListMethods(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if err := purchase.ValidateAccount(accountID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := payments.MethodQuery{
		PurchaseType: models.Mode(r.URL.Query().Get("purchase_type")),
		Ref:          r.URL.Query().Get("ref"),
	}

	methods, err := h.Methods.FetchMethods(r.Context(), accountID, q)
	if err != nil {
		writePaymentError(w, err, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"paymentOptions": methods})
}

// Resolve polls a pending push transaction to its terminal state.
func (h *PurchaseHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["id"]

	tx, err := h.Transactions.GetTransaction(txID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if tx == nil {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}

	sess := h.Sessions.Get(tx.Intent.AccountID, "", "")
	resolved, err := h.Resolver.ResolvePending(r.Context(), sess, tx)
	if err != nil && !errors.Is(err, payments.ErrProviderRejected) {
		writePaymentError(w, err, &purchase.CheckoutResult{Transaction: resolved})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resolved)
}

// Status reports a persisted transaction.
func (h *PurchaseHandler) Status(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["id"]

	tx, err := h.Transactions.GetTransaction(txID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if tx == nil {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

// writePaymentError maps a purchase failure onto a status code. When a failed
// transaction exists it is included so the client sees the attached kind.
func writePaymentError(w http.ResponseWriter, err error, result *purchase.CheckoutResult) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, payments.ErrValidation), errors.Is(err, payments.ErrInvalidAccount):
		status = http.StatusBadRequest
	case errors.Is(err, payments.ErrDuplicateSubmission):
		status = http.StatusConflict
	case errors.Is(err, payments.ErrNotPending):
		status = http.StatusConflict
	case errors.Is(err, faults.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, payments.ErrRegistryUnavailable), errors.Is(err, faults.ErrTransport), errors.Is(err, payments.ErrProviderRejected):
		status = http.StatusBadGateway
	}

	if result != nil && result.Transaction != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error":       err.Error(),
			"transaction": result.Transaction,
		})
		return
	}
	http.Error(w, err.Error(), status)
}
