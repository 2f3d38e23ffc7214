package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"filamu/internal/faults"
	"filamu/models"
)

// ErrProviderRejected is returned when a provider acknowledges a submission
// with a failure status or rejection code.
var ErrProviderRejected = errors.New("payments: provider rejected transaction")

// ChargeRequest is the synchronous charge submission body.
type ChargeRequest struct {
	Method       string      `json:"method"`
	Amount       int64       `json:"amount"`
	Ref          string      `json:"ref"`
	PurchaseType models.Mode `json:"purchase_type"`
}

// ChargeClient submits card/wallet/generic charges to the gateway. One
// request-response settles or rejects the transaction; there is no retry,
// since a charge may already be in flight upstream.
type ChargeClient struct {
	gatewayURL string
	httpClient *http.Client
}

// NewChargeClient returns a charge client against the payment gateway base URL.
func NewChargeClient(gatewayURL string, timeout time.Duration) *ChargeClient {
	return &ChargeClient{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit sends the charge. A 200 means settled; any other outcome carries the
// provider's detail.
func (c *ChargeClient) Submit(ctx context.Context, charge ChargeRequest) error {
	body, err := json.Marshal(charge)
	if err != nil {
		return fmt.Errorf("marshal charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/payment/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.Wrap("submit charge", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("submit charge: %w: %s: %s", ErrProviderRejected, resp.Status, strings.TrimSpace(string(detail)))
}
