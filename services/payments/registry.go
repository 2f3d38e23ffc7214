package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"

	"filamu/internal/faults"
	"filamu/models"
)

var (
	// ErrInvalidAccount is returned when the account id is missing or rejected.
	ErrInvalidAccount = errors.New("payments: invalid account")
	// ErrRegistryUnavailable is returned when the payment gate cannot be reached
	// or answers with a server failure.
	ErrRegistryUnavailable = errors.New("payments: method registry unavailable")
)

// MethodQuery parameterizes a registry fetch.
type MethodQuery struct {
	Amount       int64
	PurchaseType models.Mode
	Ref          string
}

// methodEntry is the wire shape of one registry option.
type methodEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Logo     string `json:"logo"`
	Color    string `json:"color"`
	Provider string `json:"provider"`
}

type gateResponse struct {
	PaymentOptions []methodEntry `json:"paymentOptions"`
	Amount         json.Number   `json:"amount"`
}

// Registry fetches the payment methods offered to an account and resolves
// server-side charge amounts. All its calls are read-only and retried on
// timeout or unavailability.
type Registry struct {
	gatewayURL string
	retries    uint
	httpClient *http.Client
}

// NewRegistry returns a registry client against the payment gateway base URL.
func NewRegistry(gatewayURL string, timeout time.Duration, retries int) *Registry {
	if retries <= 0 {
		retries = 1
	}
	return &Registry{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		retries:    uint(retries),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchMethods returns the ordered payment methods offered to the account for
// the given purchase context.
func (r *Registry) FetchMethods(ctx context.Context, accountID string, q MethodQuery) ([]models.PaymentMethod, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrInvalidAccount)
	}

	params := url.Values{}
	if q.Amount > 0 {
		params.Set("amount", fmt.Sprintf("%d", q.Amount))
	}
	if q.PurchaseType != "" {
		params.Set("purchase_type", string(q.PurchaseType))
	}
	if q.Ref != "" {
		params.Set("ref", q.Ref)
	}

	endpoint := fmt.Sprintf("%s/payment/gate/%s", r.gatewayURL, url.PathEscape(accountID))
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var methods []models.PaymentMethod
	err := r.retryRead(ctx, "fetch methods", func() error {
		gate, err := r.getGate(ctx, endpoint)
		if err != nil {
			return err
		}
		methods = make([]models.PaymentMethod, 0, len(gate.PaymentOptions))
		for _, entry := range gate.PaymentOptions {
			methods = append(methods, entry.toMethod())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[payments] registry returned %d methods account=%q purchase_type=%q", len(methods), accountID, q.PurchaseType)
	return methods, nil
}

// ResolveAmount asks the gate for the charge amount of a server-priced
// purchase. A missing or non-positive amount is an error: submission must
// block rather than guess.
func (r *Registry) ResolveAmount(ctx context.Context, accountID string) (int64, error) {
	if strings.TrimSpace(accountID) == "" {
		return 0, fmt.Errorf("%w: empty account id", ErrInvalidAccount)
	}

	endpoint := fmt.Sprintf("%s/payment/gate/%s", r.gatewayURL, url.PathEscape(accountID))

	var amount int64
	err := r.retryRead(ctx, "resolve amount", func() error {
		gate, err := r.getGate(ctx, endpoint)
		if err != nil {
			return err
		}
		parsed, err := gate.Amount.Int64()
		if err != nil || parsed <= 0 {
			return fmt.Errorf("%w: gate returned no usable amount (%q)", ErrRegistryUnavailable, gate.Amount.String())
		}
		amount = parsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func (r *Registry) getGate(ctx context.Context, endpoint string) (*gateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build gate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if faults.IsTimeout(err) {
			return nil, faults.Wrap("payment gate", err)
		}
		return nil, fmt.Errorf("payment gate: %w: %s", ErrRegistryUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var gate gateResponse
		if err := json.NewDecoder(resp.Body).Decode(&gate); err != nil {
			return nil, fmt.Errorf("decode gate response: %w", err)
		}
		return &gate, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("payment gate: %w: status %s", ErrInvalidAccount, resp.Status)
	default:
		return nil, fmt.Errorf("payment gate: %w: status %s", ErrRegistryUnavailable, resp.Status)
	}
}

// retryRead runs a read-only gate call with bounded retries. Only timeouts and
// registry unavailability are retried; an invalid account never is.
func (r *Registry) retryRead(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(r.retries),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrRegistryUnavailable) || errors.Is(err, faults.ErrTimeout)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[payments] %s attempt %d failed: %v", op, n+1, err)
		}),
	)
}

func (e methodEntry) toMethod() models.PaymentMethod {
	return models.PaymentMethod{
		ID:       e.ID,
		Name:     e.Name,
		LogoURL:  e.Logo,
		Color:    e.Color,
		Provider: providerKindFor(e.ID, e.Provider),
	}
}

// providerKindFor maps a registry entry onto a protocol. The gate does not
// always label its options, so the well-known ids are recognized directly.
func providerKindFor(id, provider string) models.ProviderKind {
	switch models.ProviderKind(strings.ToUpper(provider)) {
	case models.ProviderMobileMoney, models.ProviderCard, models.ProviderWallet, models.ProviderSpecific:
		return models.ProviderKind(strings.ToUpper(provider))
	}
	switch strings.ToLower(id) {
	case "mpesa", "bonga":
		return models.ProviderMobileMoney
	case "visa":
		return models.ProviderCard
	case "wallet":
		return models.ProviderWallet
	default:
		return models.ProviderSpecific
	}
}
