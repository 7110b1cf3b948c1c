package inference

import (
	"log/slog"
	"net/http"
	"time"
)

// Default endpoints and models.
const (
	DefaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultLiveURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel     = "gemini-2.5-flash"
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-12-2025"
)

// Config holds gateway configuration.
type Config struct {
	// Connection
	BaseURL string // REST API base URL
	LiveURL string // Live websocket URL
	APIKey  string

	// Models
	Model     string // Turn-based model
	LiveModel string // Streaming model
	Voice     string // Prebuilt voice for audio responses

	// Request defaults
	MaxTokens   int
	Temperature float64
	Modalities  []Modality

	// Timeouts
	Timeout          time.Duration // HTTP client timeout, 0 for none
	HandshakeTimeout time.Duration // Live websocket handshake
	SetupTimeout     time.Duration // Wait for live setup acknowledgement

	// ResponseBuffer is the live response channel capacity.
	ResponseBuffer int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option is a functional option for configuring gateways.
type Option func(*Config)

// WithBaseURL sets the REST API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithLiveURL sets the live websocket URL.
func WithLiveURL(url string) Option {
	return func(c *Config) { c.LiveURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the turn-based model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLiveModel sets the streaming model.
func WithLiveModel(model string) Option {
	return func(c *Config) { c.LiveModel = model }
}

// WithVoice sets the prebuilt voice used for audio responses.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithMaxTokens sets the default max output tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithModalities sets the default response modalities.
func WithModalities(m ...Modality) Option {
	return func(c *Config) { c.Modalities = m }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithSetupTimeout bounds the wait for the live setup acknowledgement.
func WithSetupTimeout(d time.Duration) Option {
	return func(c *Config) { c.SetupTimeout = d }
}

// WithResponseBuffer sets the live response channel capacity.
func WithResponseBuffer(n int) Option {
	return func(c *Config) { c.ResponseBuffer = n }
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for the Gemini API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          DefaultBaseURL,
		LiveURL:          DefaultLiveURL,
		Model:            DefaultModel,
		LiveModel:        DefaultLiveModel,
		MaxTokens:        1024,
		Temperature:      0.7,
		Modalities:       []Modality{ModalityText},
		Timeout:          60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SetupTimeout:     10 * time.Second,
		ResponseBuffer:   32,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.Model == "" && c.LiveModel == "" {
		return ErrNoModel
	}
	return nil
}
