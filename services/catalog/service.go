package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"

	"filamu/internal/faults"
	"filamu/models"
)

// DefaultRelatedLimit caps the recommendation strip when no limit is configured.
const DefaultRelatedLimit = 8

var (
	// ErrNotFound is returned when a title id is absent from the loaded snapshot.
	ErrNotFound = errors.New("catalog: title not found")
	// ErrNoSnapshot is returned when a lookup happens before any successful fetch.
	ErrNoSnapshot = errors.New("catalog: no snapshot loaded")
)

// feedEntry is the wire shape of one catalog record. The feed encodes genres
// as a JSON array inside a string field; it is parsed here at the boundary
// and never re-read downstream.
type feedEntry struct {
	ID             string `json:"id"`
	Ref            string `json:"ref"`
	Title          string `json:"title"`
	Year           int    `json:"year"`
	Duration       int    `json:"duration"`
	Classification string `json:"classification"`
	Synopsis       string `json:"synopsis"`
	Tags           string `json:"tags"`
	Genres         string `json:"genres"`
}

type feedResponse struct {
	Content []feedEntry `json:"content"`
}

// Service fetches the remote catalog feed and answers title lookups against
// the most recent snapshot. The caller decides when a snapshot is stale.
type Service struct {
	feedURL      string
	relatedLimit int
	retries      uint
	httpClient   *http.Client

	mu        sync.RWMutex
	snapshot  []models.Title
	fetchedAt time.Time
}

// NewService returns a catalog service with a bounded-timeout HTTP client.
func NewService(feedURL string, timeout time.Duration, relatedLimit int, retries int) *Service {
	if relatedLimit <= 0 {
		relatedLimit = DefaultRelatedLimit
	}
	if retries <= 0 {
		retries = 1
	}
	return &Service{
		feedURL:      feedURL,
		relatedLimit: relatedLimit,
		retries:      uint(retries),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Refresh fetches the catalog feed and replaces the snapshot. The fetch is
// read-only, so timeouts and transport failures are retried a bounded number
// of times before surfacing.
func (s *Service) Refresh(ctx context.Context) error {
	var titles []models.Title

	err := retry.Do(
		func() error {
			fetched, err := s.fetch(ctx)
			if err != nil {
				return err
			}
			titles = fetched
			return nil
		},
		retry.Attempts(s.retries),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[catalog] refresh attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot = titles
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	log.Printf("[catalog] snapshot refreshed titles=%d", len(titles))
	return nil
}

func (s *Service) fetch(ctx context.Context) ([]models.Title, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, faults.Wrap("fetch catalog", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: %w: unexpected status %s", faults.ErrTransport, resp.Status)
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode catalog feed: %w", err)
	}

	titles := make([]models.Title, 0, len(feed.Content))
	for _, entry := range feed.Content {
		titles = append(titles, entry.toTitle())
	}
	return titles, nil
}

func (e feedEntry) toTitle() models.Title {
	var genres []string
	if e.Genres != "" {
		if err := json.Unmarshal([]byte(e.Genres), &genres); err != nil {
			// A malformed genre list downgrades the entry to genre-less
			// rather than dropping it from the catalog.
			log.Printf("[catalog] unparseable genres for title %q: %v", e.ID, err)
			genres = nil
		}
	}
	return models.Title{
		ID:             e.ID,
		Ref:            e.Ref,
		Name:           e.Title,
		Year:           e.Year,
		Duration:       e.Duration,
		Classification: e.Classification,
		Synopsis:       e.Synopsis,
		CastTags:       e.Tags,
		Genres:         genres,
	}
}

// Snapshot returns the currently loaded titles in catalog order.
func (s *Service) Snapshot() []models.Title {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Title, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// FindTitle resolves a title id against the current snapshot.
func (s *Service) FindTitle(id string) (models.Title, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return models.Title{}, ErrNoSnapshot
	}
	for _, t := range s.snapshot {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Title{}, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// RelatedTitles returns other snapshot entries sharing at least one genre
// with the source title, in catalog order, truncated to the service limit.
func (s *Service) RelatedTitles(title models.Title) []models.Title {
	return Related(title, s.Snapshot(), s.relatedLimit)
}

// Related filters a catalog for titles sharing a genre with the source,
// excluding the source itself and preserving catalog order. First-match
// order is the deliberate tie-break; there is no similarity ranking.
func Related(title models.Title, catalog []models.Title, limit int) []models.Title {
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}

	var related []models.Title
	for _, candidate := range catalog {
		if candidate.ID == title.ID {
			continue
		}
		if !title.SharesGenre(candidate) {
			continue
		}
		related = append(related, candidate)
		if len(related) == limit {
			break
		}
	}
	return related
}
