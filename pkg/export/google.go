// Package export saves tutoring transcripts to Google Docs.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"

	"github.com/teslashibe/robotbox/pkg/conversation"
)

var (
	// ErrNotConfigured is returned when OAuth client credentials are missing.
	ErrNotConfigured = errors.New("export: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")

	// ErrNotAuthenticated is returned when exporting before the OAuth flow.
	ErrNotAuthenticated = errors.New("export: not connected to Google")

	// ErrBadState is returned when the OAuth callback state does not match.
	ErrBadState = errors.New("export: oauth state mismatch")

	// ErrNothingToExport is returned for an empty session.
	ErrNothingToExport = errors.New("export: session has no turns")
)

const callTimeout = 30 * time.Second

// Config configures the Google Docs exporter.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string

	// Endpoint overrides the Docs API base URL.
	Endpoint string
}

// Status is the connection state shown on the page.
type Status struct {
	Connected bool   `json:"connected"`
	AuthURL   string `json:"auth_url,omitempty"`
}

// Exporter creates Google Docs from sessions. The OAuth token is cached on
// disk with 0600 permissions.
type Exporter struct {
	config    *oauth2.Config
	tokenPath string
	endpoint  string
	logger    *slog.Logger

	mu      sync.RWMutex
	token   *oauth2.Token
	service *docs.Service
	state   string
}

// New creates an exporter and loads a cached token if one exists.
func New(cfg Config, logger *slog.Logger) (*Exporter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8181/api/export/callback"
	}
	if cfg.TokenPath == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(home, ".robotbox", "google_token.json")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Exporter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				docs.DocumentsScope,
				docs.DriveFileScope,
			},
			Endpoint: google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		endpoint:  cfg.Endpoint,
		logger:    logger.With("component", "export"),
		state:     uuid.NewString(),
	}

	if err := e.loadToken(); err == nil {
		if err := e.initService(context.Background()); err != nil {
			e.logger.Warn("cached token unusable", "error", err)
			e.token = nil
		}
	}
	return e, nil
}

// Connected reports whether a usable token is loaded.
func (e *Exporter) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token != nil && e.service != nil && (e.token.Valid() || e.token.RefreshToken != "")
}

// AuthURL returns the consent page URL.
func (e *Exporter) AuthURL() string {
	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()
	return e.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Status returns the connection state, with an auth URL when disconnected.
func (e *Exporter) Status() Status {
	st := Status{Connected: e.Connected()}
	if !st.Connected {
		st.AuthURL = e.AuthURL()
	}
	return st
}

// Callback exchanges an authorization code for a token and caches it.
func (e *Exporter) Callback(ctx context.Context, state, code string) error {
	e.mu.RLock()
	want := e.state
	e.mu.RUnlock()
	if state != want {
		return ErrBadState
	}
	if code == "" {
		return errors.New("export: missing authorization code")
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("export: exchange code: %w", err)
	}

	e.mu.Lock()
	e.token = token
	e.state = uuid.NewString()
	e.mu.Unlock()

	if err := e.saveToken(); err != nil {
		e.logger.Warn("failed to cache token", "error", err)
	}
	return e.initService(context.Background())
}

// Disconnect forgets the token and removes the cache file.
func (e *Exporter) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.token = nil
	e.service = nil
	if err := os.Remove(e.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("export: remove token: %w", err)
	}
	return nil
}

// Export writes the transcript of turns into a new document and returns
// its ID.
func (e *Exporter) Export(ctx context.Context, title string, turns []conversation.Turn) (string, error) {
	if len(turns) == 0 {
		return "", ErrNothingToExport
	}

	e.mu.RLock()
	service := e.service
	e.mu.RUnlock()
	if service == nil {
		return "", ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	created, err := service.Documents.Create(&docs.Document{Title: title}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("export: create document: %w", err)
	}

	body := conversation.Transcript(title, turns)
	_, err = service.Documents.BatchUpdate(created.DocumentId, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     body,
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return created.DocumentId, fmt.Errorf("export: write transcript: %w", err)
	}

	e.logger.Info("session exported", "doc", created.DocumentId, "turns", len(turns))
	return created.DocumentId, nil
}

// DocURL returns the edit URL for a document.
func DocURL(id string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", id)
}

func (e *Exporter) initService(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token == nil {
		return ErrNotAuthenticated
	}

	opts := []option.ClientOption{option.WithHTTPClient(e.config.Client(ctx, e.token))}
	if e.endpoint != "" {
		opts = append(opts, option.WithEndpoint(e.endpoint))
	}
	service, err := docs.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("export: docs service: %w", err)
	}
	e.service = service
	return nil
}

func (e *Exporter) loadToken() error {
	data, err := os.ReadFile(e.tokenPath)
	if err != nil {
		return err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	e.mu.Lock()
	e.token = &token
	e.mu.Unlock()
	return nil
}

func (e *Exporter) saveToken() error {
	e.mu.RLock()
	token := e.token
	e.mu.RUnlock()
	if token == nil {
		return ErrNotAuthenticated
	}

	if err := os.MkdirAll(filepath.Dir(e.tokenPath), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(e.tokenPath, data, 0600)
}
