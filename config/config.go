package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds the full storefront configuration persisted as JSON.
type Settings struct {
	Catalog    CatalogSettings    `json:"catalog"`
	Payments   PaymentSettings    `json:"payments"`
	Mpesa      MpesaSettings      `json:"mpesa"`
	Screenings ScreeningSettings  `json:"screenings"`
	Collection CollectionSettings `json:"collection"`
	Server     ServerSettings     `json:"server"`
}

// CatalogSettings configures the remote catalog feed.
type CatalogSettings struct {
	FeedURL        string `json:"feedUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	RelatedLimit   int    `json:"relatedLimit"`
	ReadRetries    int    `json:"readRetries"`
}

// PaymentSettings configures the payment gateway (method registry + charges).
type PaymentSettings struct {
	GatewayURL     string `json:"gatewayUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	ReadRetries    int    `json:"readRetries"`
}

// MpesaSettings configures the push-style mobile money provider.
type MpesaSettings struct {
	BaseURL        string `json:"baseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	PollAttempts   int    `json:"pollAttempts"`
}

// ScreeningSettings configures the bulk screening intake endpoint.
type ScreeningSettings struct {
	IntakeURL      string `json:"intakeUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// CollectionSettings configures the local entitlement store.
type CollectionSettings struct {
	DatabasePath string `json:"databasePath"`
}

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	ListenAddr string `json:"listenAddr"`
	LogPath    string `json:"logPath"`
}

// DefaultSettings returns the configuration used when no settings file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Catalog: CatalogSettings{
			FeedURL:        "https://api.mymovies.africa/api/cache",
			TimeoutSeconds: 15,
			RelatedLimit:   8,
			ReadRetries:    3,
		},
		Payments: PaymentSettings{
			GatewayURL:     "https://api.mymovies.africa/api/v1",
			TimeoutSeconds: 20,
			ReadRetries:    3,
		},
		Mpesa: MpesaSettings{
			BaseURL:        "https://api.mymovies.africa/mpesa",
			TimeoutSeconds: 20,
			PollAttempts:   5,
		},
		Screenings: ScreeningSettings{
			IntakeURL:      "https://api.mymovies.africa/api/v1/bulkscreenings",
			TimeoutSeconds: 30,
		},
		Collection: CollectionSettings{
			DatabasePath: "data/collection.db",
		},
		Server: ServerSettings{
			ListenAddr: ":8080",
			LogPath:    "",
		},
	}
}

// Manager loads and persists Settings from a JSON file. Reads after the first
// Load are served from a cached copy; Save rewrites both file and cache.
type Manager struct {
	path string

	mu     sync.RWMutex
	cached *Settings
}

// NewManager creates a settings manager rooted at the given file path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load returns the current settings, reading the file on first use. A missing
// file yields defaults without creating it.
func (m *Manager) Load() (*Settings, error) {
	m.mu.RLock()
	if m.cached != nil {
		s := *m.cached
		m.mu.RUnlock()
		return &s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		s := *m.cached
		return &s, nil
	}

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.cached = DefaultSettings()
		s := *m.cached
		return &s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	m.cached = settings
	s := *settings
	return &s, nil
}

// Save persists the settings and replaces the cached copy.
func (m *Manager) Save(settings *Settings) error {
	if settings == nil {
		return fmt.Errorf("settings must not be nil")
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(m.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}

	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	m.mu.Lock()
	copied := *settings
	m.cached = &copied
	m.mu.Unlock()
	return nil
}
