package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/robotbox/internal/config"
	"github.com/teslashibe/robotbox/internal/log"
	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/media"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

const rootLongDesc = `RobotBox is a Socratic AI tutor for students building robots.

It watches the student's workbench through the browser camera, listens to
push-to-talk questions and answers with guiding questions instead of
solutions. Settings come from robotbox.toml, ROBOTBOX_* environment
variables and flags, in that order of precedence (flags win). The model
API key is read from .robotbox/secrets.toml or GOOGLE_API_KEY.`

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	model      string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "robotbox",
		Short:         "Socratic vision tutor",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to robotbox.toml")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")
	cmd.PersistentFlags().StringVar(&g.model, "model", "", "Turn-based model name")

	cmd.AddCommand(newServeCmd(g), newAskCmd(g), newVersionCmd())
	return cmd
}

// load reads the layered configuration and initialises logging.
func (g *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if g.model != "" {
		cfg.Model.Model = g.model
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, log.L(), nil
}

// turnOptions configures the turn-based REST gateway.
func turnOptions(cfg *config.Config, logger *slog.Logger) []inference.Option {
	return append(modelOptions(cfg, logger),
		inference.WithModalities(modalities(cfg.Model.Modalities)...))
}

// liveOptions configures the streaming gateway.
func liveOptions(cfg *config.Config, logger *slog.Logger) []inference.Option {
	return append(modelOptions(cfg, logger),
		inference.WithModalities(modalities(cfg.Model.LiveModalities)...))
}

func modelOptions(cfg *config.Config, logger *slog.Logger) []inference.Option {
	opts := []inference.Option{
		inference.WithAPIKey(cfg.Model.APIKey),
		inference.WithModel(cfg.Model.Model),
		inference.WithLiveModel(cfg.Model.LiveModel),
		inference.WithTemperature(cfg.Model.Temperature),
		inference.WithMaxTokens(cfg.Model.MaxTokens),
		inference.WithLogger(logger),
	}
	if cfg.Model.BaseURL != "" {
		opts = append(opts, inference.WithBaseURL(cfg.Model.BaseURL))
	}
	if cfg.Model.LiveURL != "" {
		opts = append(opts, inference.WithLiveURL(cfg.Model.LiveURL))
	}
	if cfg.Model.Timeout.Duration > 0 {
		opts = append(opts, inference.WithTimeout(cfg.Model.Timeout.Duration))
	}
	return opts
}

func modalities(names []string) []inference.Modality {
	out := make([]inference.Modality, 0, len(names))
	for _, n := range names {
		out = append(out, inference.Modality(n))
	}
	return out
}

func jpegOptions(cfg *config.Config) media.JPEGOptions {
	return media.JPEGOptions{Quality: cfg.Tutor.JPEGQuality, MaxEdge: cfg.Tutor.MaxImageEdge}
}

func durationOr(d config.Duration, def time.Duration) time.Duration {
	if d.Duration > 0 {
		return d.Duration
	}
	return def
}
