package screenings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"filamu/internal/faults"
)

var (
	// ErrMissingCredential is returned when no bearer credential is available;
	// the intake endpoint rejects anonymous submissions, so none is attempted.
	ErrMissingCredential = errors.New("screenings: missing bearer credential")
	// ErrInvalidRequest is returned when the form fails local validation.
	ErrInvalidRequest = errors.New("screenings: invalid request")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Request is an organization screening request.
type Request struct {
	Organisation      string    `json:"organisation"`
	ContactName       string    `json:"contact_name"`
	Email             string    `json:"email"`
	Phone             string    `json:"phone"`
	ScreeningLocation string    `json:"screening_location"`
	ScreeningDate     time.Time `json:"screening_date"`
	MovieName         string    `json:"movie_name"`
	ExpectedAudience  string    `json:"expected_audience"`
}

// Validate checks required fields and the email shape before any network use.
func (r Request) Validate() error {
	required := []struct {
		name, value string
	}{
		{"organisation", r.Organisation},
		{"contact_name", r.ContactName},
		{"email", r.Email},
		{"phone", r.Phone},
		{"screening_location", r.ScreeningLocation},
		{"movie_name", r.MovieName},
		{"expected_audience", r.ExpectedAudience},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRequest, f.name)
		}
	}
	if !emailPattern.MatchString(r.Email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidRequest)
	}
	if r.ScreeningDate.IsZero() {
		return fmt.Errorf("%w: screening_date is required", ErrInvalidRequest)
	}
	return nil
}

// credentialSource supplies the bearer credential persisted locally.
type credentialSource interface {
	Credential() string
}

// Client submits screening requests to the bulk intake endpoint.
type Client struct {
	intakeURL  string
	httpClient *http.Client
}

// NewClient returns an intake client.
func NewClient(intakeURL string, timeout time.Duration) *Client {
	return &Client{
		intakeURL:  intakeURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit validates and posts the request as a multipart form, authenticated
// with the session credential.
func (c *Client) Submit(ctx context.Context, creds credentialSource, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	token := creds.Credential()
	if strings.TrimSpace(token) == "" {
		return ErrMissingCredential
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"organisation":       req.Organisation,
		"contact_name":       req.ContactName,
		"email":              req.Email,
		"phone":              req.Phone,
		"screening_location": req.ScreeningLocation,
		"screening_date":     req.ScreeningDate.Format("2006-01-02"),
		"movie_name":         req.MovieName,
		"expected_audience":  req.ExpectedAudience,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("write form field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.intakeURL, &body)
	if err != nil {
		return fmt.Errorf("build intake request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return faults.Wrap("submit screening request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("screening intake rejected: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	log.Printf("[screenings] request submitted organisation=%q movie=%q", req.Organisation, req.MovieName)
	return nil
}
