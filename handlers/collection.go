package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"filamu/models"
	collectionsvc "filamu/services/collection"
	"filamu/services/purchase"
)

type collectionService interface {
	Active(ctx context.Context, accountID string) ([]models.Entitlement, error)
	Balance(ctx context.Context, accountID string) (int64, error)
}

var _ collectionService = (*collectionsvc.Service)(nil)

// CollectionHandler reports what an account currently has access to.
type CollectionHandler struct {
	Service collectionService
}

func NewCollectionHandler(s collectionService) *CollectionHandler {
	return &CollectionHandler{Service: s}
}

// List responds with the account's active entitlements and wallet balance.
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if err := purchase.ValidateAccount(accountID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entitlements, err := h.Service.Active(r.Context(), accountID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	balance, err := h.Service.Balance(r.Context(), accountID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entitlements":  entitlements,
		"walletBalance": balance,
	})
}
