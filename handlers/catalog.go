package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"filamu/models"
	catalogsvc "filamu/services/catalog"
	"filamu/services/purchase"
)

type catalogService interface {
	Refresh(ctx context.Context) error
	Snapshot() []models.Title
	FindTitle(id string) (models.Title, error)
	RelatedTitles(title models.Title) []models.Title
}

var _ catalogService = (*catalogsvc.Service)(nil)

// CatalogHandler serves title browsing and detail lookups.
type CatalogHandler struct {
	Service catalogService
}

func NewCatalogHandler(s catalogService) *CatalogHandler {
	return &CatalogHandler{Service: s}
}

// List responds with the current catalog snapshot, refreshing it when empty.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	titles := h.Service.Snapshot()
	if len(titles) == 0 {
		if err := h.Service.Refresh(r.Context()); err != nil {
			log.Printf("[catalog-handler] refresh failed: %v", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		titles = h.Service.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"content": titles})
}

// Detail responds with a title, its purchase decision, and related titles.
func (h *CatalogHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	title, err := h.Service.FindTitle(id)
	if errors.Is(err, catalogsvc.ErrNoSnapshot) {
		if err := h.Service.Refresh(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		title, err = h.Service.FindTitle(id)
	}
	if err != nil {
		if errors.Is(err, catalogsvc.ErrNotFound) {
			http.Error(w, "title not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	response := struct {
		Title    models.Title      `json:"title"`
		Decision purchase.Decision `json:"decision"`
		Related  []models.Title    `json:"related"`
	}{
		Title:    title,
		Decision: purchase.Classify(title),
		Related:  h.Service.RelatedTitles(title),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
