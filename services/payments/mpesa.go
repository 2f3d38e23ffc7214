package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"filamu/internal/faults"
)

// ackAccepted is the acknowledgement code a push provider returns when the
// prompt was delivered to the payer's device. It is not final settlement.
const ackAccepted = "0"

// tokenResponse is the wire shape of the provider's token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// PushAck is a provider's immediate answer to a push request.
type PushAck struct {
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// Accepted reports whether the push prompt was acknowledged.
func (a PushAck) Accepted() bool {
	return a.ResponseCode == ackAccepted
}

// statusResponse is the wire shape of the provider's query endpoint.
type statusResponse struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDescription"`
}

// MpesaClient drives the push-style mobile money protocol: obtain a
// short-lived token, push a payment prompt to the payer's phone, and later
// query the outcome of a pending prompt.
type MpesaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMpesaClient returns a push provider client against its base URL.
func NewMpesaClient(baseURL string, timeout time.Duration) *MpesaClient {
	return &MpesaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Token obtains a short-lived authorization token.
func (c *MpesaClient) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/token", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", faults.Wrap("fetch push token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch push token: %w: status %s", faults.ErrTransport, resp.Status)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("fetch push token: %w: empty access token", faults.ErrTransport)
	}
	return token.AccessToken, nil
}

// Push submits the payment prompt authenticated with the token. The returned
// acknowledgement describes prompt delivery only, never the final debit.
func (c *MpesaClient) Push(ctx context.Context, token, phone string, amount int64) (*PushAck, error) {
	payload := map[string]any{
		"phone":  phone,
		"amount": amount,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stkpush", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, faults.Wrap("submit push", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("submit push: %w: %s: %s", faults.ErrTransport, resp.Status, strings.TrimSpace(string(detail)))
	}

	var ack PushAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode push acknowledgement: %w", err)
	}
	return &ack, nil
}

// Status queries the outcome of a previously acknowledged push. "0" means the
// payer completed the prompt; any other code is a terminal rejection.
func (c *MpesaClient) Status(ctx context.Context, token, checkoutRequestID string) (string, error) {
	payload := map[string]string{
		"checkoutRequestId": checkoutRequestID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal status request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stkquery", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", faults.Wrap("query push status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query push status: %w: status %s", faults.ErrTransport, resp.Status)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return status.ResultCode, nil
}
