package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"filamu/services/purchase"
	screeningsvc "filamu/services/screenings"
)

// ScreeningsHandler accepts organization screening requests.
type ScreeningsHandler struct {
	Client   *screeningsvc.Client
	Sessions *SessionStore
}

func NewScreeningsHandler(client *screeningsvc.Client, sessions *SessionStore) *ScreeningsHandler {
	return &ScreeningsHandler{Client: client, Sessions: sessions}
}

type screeningRequest struct {
	AccountID         string `json:"accountId"`
	Credential        string `json:"credential,omitempty"`
	Organisation      string `json:"organisation"`
	ContactName       string `json:"contact_name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	ScreeningLocation string `json:"screening_location"`
	ScreeningDate     string `json:"screening_date"`
	MovieName         string `json:"movie_name"`
	ExpectedAudience  string `json:"expected_audience"`
}

// Submit forwards a screening request to the intake endpoint.
func (h *ScreeningsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req screeningRequest
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

	date, err := time.Parse("2006-01-02", req.ScreeningDate)
	if err != nil {
		http.Error(w, "screening_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	sess := h.Sessions.Get(req.AccountID, req.Phone, req.Credential)

	err = h.Client.Submit(r.Context(), sess, screeningsvc.Request{
		Organisation:      req.Organisation,
		ContactName:       req.ContactName,
		Email:             req.Email,
		Phone:             req.Phone,
		ScreeningLocation: req.ScreeningLocation,
		ScreeningDate:     date,
		MovieName:         req.MovieName,
		ExpectedAudience:  req.ExpectedAudience,
	})
	if err != nil {
		switch {
		case errors.Is(err, screeningsvc.ErrInvalidRequest), errors.Is(err, screeningsvc.ErrMissingCredential):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "submitted"})
}
