// Package config loads robotbox configuration.
//
// Values are layered: built-in defaults, then the TOML config file, then
// environment variables. Command-line flags are applied last by cmd/robotbox.
// The model API key is read from the secrets file first and the
// GOOGLE_API_KEY environment variable second.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teslashibe/robotbox/pkg/inference"
)

// Default file locations, relative to the working directory.
const (
	DefaultConfigPath  = "robotbox.toml"
	DefaultSecretsPath = ".robotbox/secrets.toml"
	DefaultTokenPath   = ".robotbox/google_token.json"
)

// DefaultSTUN is the STUN server used when none is configured.
const DefaultSTUN = "stun:stun.l.google.com:19302"

// Config is the complete robotbox configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Model   ModelConfig   `toml:"model"`
	Tutor   TutorConfig   `toml:"tutor"`
	Capture CaptureConfig `toml:"capture"`
	Export  ExportConfig  `toml:"export"`

	// SecretsPath is where the API key is looked up before the environment.
	SecretsPath string `toml:"secrets_path"`
}

// ServerConfig controls the web UI listener.
type ServerConfig struct {
	Addr    string `toml:"addr"`
	AppName string `toml:"app_name"`
	Title   string `toml:"title"`
}

// LogConfig controls internal/log.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ModelConfig configures both gateway flavours.
type ModelConfig struct {
	// APIKey never comes from the config file.
	APIKey string `toml:"-"`

	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	LiveModel   string   `toml:"live_model"`
	LiveURL     string   `toml:"live_url"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     Duration `toml:"timeout"`

	// Modalities are requested from the turn-based model, LiveModalities
	// when a live session is set up.
	Modalities     []string `toml:"response_modalities"`
	LiveModalities []string `toml:"live_response_modalities"`
}

// TutorConfig configures request building and the live push loop.
type TutorConfig struct {
	InstructionFile string   `toml:"instruction_file"`
	PushInterval    Duration `toml:"push_interval"`
	JPEGQuality     int      `toml:"jpeg_quality"`
	MaxImageEdge    int      `toml:"max_image_edge"`
	Vision          bool     `toml:"vision"`
	IncludeHistory  bool     `toml:"include_history"`
}

// CaptureConfig configures the capture transports.
type CaptureConfig struct {
	STUNServers    []string `toml:"stun_servers"`
	HostOnly       bool     `toml:"host_only"`
	FFmpegPath     string   `toml:"ffmpeg_path"`
	DecodeInterval Duration `toml:"decode_interval"`
	KeyframeEvery  Duration `toml:"keyframe_every"`
}

// ExportConfig configures Google Docs transcript export.
type ExportConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"-"`
	RedirectURL  string `toml:"redirect_url"`
	TokenPath    string `toml:"token_path"`
}

// Enabled reports whether OAuth credentials are present.
func (e ExportConfig) Enabled() bool {
	return e.ClientID != "" && e.ClientSecret != ""
}

// Duration is a time.Duration that decodes from strings like "1s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8181",
			AppName: "robotbox",
			Title:   "RobotBox Live AI Lab",
		},
		Log: LogConfig{Level: "info"},
		Model: ModelConfig{
			BaseURL:        inference.DefaultBaseURL,
			Model:          inference.DefaultModel,
			LiveModel:      inference.DefaultLiveModel,
			Modalities:     []string{string(inference.ModalityText)},
			LiveModalities: []string{string(inference.ModalityAudio)},
			Temperature:    0.7,
			MaxTokens:      1024,
			Timeout:        Duration{60 * time.Second},
		},
		Tutor: TutorConfig{
			PushInterval:   Duration{time.Second},
			JPEGQuality:    70,
			MaxImageEdge:   1024,
			Vision:         true,
			IncludeHistory: true,
		},
		Capture: CaptureConfig{
			STUNServers:    []string{DefaultSTUN},
			FFmpegPath:     "ffmpeg",
			DecodeInterval: Duration{200 * time.Millisecond},
			KeyframeEvery:  Duration{2 * time.Second},
		},
		Export: ExportConfig{
			RedirectURL: "http://localhost:8181/api/export/callback",
			TokenPath:   DefaultTokenPath,
		},
		SecretsPath: DefaultSecretsPath,
	}
}

// Load builds the configuration from defaults, the file at path and the
// environment. A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigurationError{Field: "file", Err: fmt.Errorf("%s: %w", path, err)}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	key, err := ResolveAPIKey(cfg.SecretsPath)
	if err != nil {
		return nil, err
	}
	cfg.Model.APIKey = key

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "ROBOTBOX_ADDR")
	setString(&c.Log.Level, "ROBOTBOX_LOG_LEVEL")
	setString(&c.Log.Format, "ROBOTBOX_LOG_FORMAT")
	setString(&c.Model.BaseURL, "ROBOTBOX_BASE_URL")
	setString(&c.Model.Model, "ROBOTBOX_MODEL")
	setString(&c.Model.LiveModel, "ROBOTBOX_LIVE_MODEL")
	setString(&c.Model.LiveURL, "ROBOTBOX_LIVE_URL")
	setString(&c.Tutor.InstructionFile, "ROBOTBOX_INSTRUCTION_FILE")
	setString(&c.Capture.FFmpegPath, "ROBOTBOX_FFMPEG")
	setString(&c.SecretsPath, "ROBOTBOX_SECRETS")
	setString(&c.Export.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Export.ClientSecret, "GOOGLE_CLIENT_SECRET")

	if v := os.Getenv("ROBOTBOX_STUN"); v != "" {
		c.Capture.STUNServers = splitList(v)
	}
	if v := os.Getenv("ROBOTBOX_PUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigurationError{Field: "ROBOTBOX_PUSH_INTERVAL", Err: err}
		}
		c.Tutor.PushInterval = Duration{d}
	}
	if v := os.Getenv("ROBOTBOX_JPEG_QUALITY"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{Field: "ROBOTBOX_JPEG_QUALITY", Err: err}
		}
		c.Tutor.JPEGQuality = q
	}
	if v := os.Getenv("ROBOTBOX_VISION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigurationError{Field: "ROBOTBOX_VISION", Err: err}
		}
		c.Tutor.Vision = b
	}
	return nil
}

// Validate checks that the configuration can start a tutor.
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return &ConfigurationError{Field: "GOOGLE_API_KEY", Err: ErrMissingAPIKey}
	}
	if c.Model.Model == "" && c.Model.LiveModel == "" {
		return &ConfigurationError{Field: "model.model", Err: errors.New("no model configured")}
	}
	if c.Tutor.PushInterval.Duration <= 0 {
		return &ConfigurationError{Field: "tutor.push_interval", Err: errors.New("must be positive")}
	}
	if c.Tutor.JPEGQuality < 1 || c.Tutor.JPEGQuality > 100 {
		return &ConfigurationError{Field: "tutor.jpeg_quality", Err: fmt.Errorf("%d out of range 1-100", c.Tutor.JPEGQuality)}
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
