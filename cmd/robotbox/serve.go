package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/robotbox/internal/config"
	"github.com/teslashibe/robotbox/pkg/capture"
	"github.com/teslashibe/robotbox/pkg/conversation"
	"github.com/teslashibe/robotbox/pkg/export"
	"github.com/teslashibe/robotbox/pkg/hub"
	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/media"
	"github.com/teslashibe/robotbox/pkg/metrics"
	"github.com/teslashibe/robotbox/pkg/tutor"
	"github.com/teslashibe/robotbox/pkg/web"
)

// Browser microphones deliver 48kHz Opus; clips are sent to the model at 16kHz.
const (
	micRate  = 48000
	clipRate = 16000
)

type serveCommander struct {
	g       *globalFlags
	addr    string
	noLive  bool
	noRTC   bool
	noSight bool
}

func newServeCmd(g *globalFlags) *cobra.Command {
	c := &serveCommander{g: g}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web tutor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&c.addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&c.noLive, "no-live", false, "Disable the streaming live session")
	cmd.Flags().BoolVar(&c.noRTC, "no-webrtc", false, "Disable the WebRTC capture transport")
	cmd.Flags().BoolVar(&c.noSight, "no-vision", false, "Do not attach camera frames to turns")
	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	cfg, logger, err := c.g.load()
	if err != nil {
		return err
	}
	if c.addr != "" {
		cfg.Server.Addr = c.addr
	}
	if c.noSight {
		cfg.Tutor.Vision = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	instr, err := config.NewInstruction(cfg.Tutor.InstructionFile, tutor.SocraticInstruction, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := instr.Watch(ctx); err != nil {
			logger.Warn("instruction watcher stopped", "error", err)
		}
	}()

	m := metrics.New()
	gw, err := inference.NewGemini(turnOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("model gateway: %w", err)
	}
	defer gw.Close()

	var live inference.LiveGateway
	if !c.noLive {
		lg, err := inference.NewGeminiLive(liveOptions(cfg, logger)...)
		if err != nil {
			return fmt.Errorf("live gateway: %w", err)
		}
		live = lg
	}

	frames := media.NewFrameBuffer(m)
	capt := media.NewCapture(frames,
		media.WithCaptureLogger(logger),
		media.WithCaptureMetrics(m),
	)
	ingest := capture.NewIngest(capt, capture.WithIngestLogger(logger))

	var (
		receiver *capture.Receiver
		recorder *media.Recorder
	)
	if !c.noRTC {
		recorder = media.NewRecorder(micRate, clipRate)
		receiver = capture.NewReceiver(capture.ReceiverConfig{
			STUNServers:    cfg.Capture.STUNServers,
			HostOnly:       cfg.Capture.HostOnly,
			FFmpegPath:     cfg.Capture.FFmpegPath,
			DecodeInterval: cfg.Capture.DecodeInterval.Duration,
			KeyframeEvery:  cfg.Capture.KeyframeEvery.Duration,
		}, capt, recorder, logger)
	}

	events := hub.New("events", logger)
	sinks := hub.NewSinks(events)

	t := tutor.New(gw, conversation.NewSession(),
		tutor.WithInstruction(instr.Text),
		tutor.WithFrames(frames),
		tutor.WithVision(cfg.Tutor.Vision),
		tutor.WithBuilder(tutor.NewBuilder(gw.Capabilities(), jpegOptions(cfg), cfg.Tutor.IncludeHistory)),
		tutor.WithSinks(sinks, sinks, sinks),
		tutor.WithMetrics(m),
		tutor.WithLogger(logger),
	)

	var exp *export.Exporter
	if cfg.Export.Enabled() {
		exp, err = export.New(export.Config{
			ClientID:     cfg.Export.ClientID,
			ClientSecret: cfg.Export.ClientSecret,
			RedirectURL:  cfg.Export.RedirectURL,
			TokenPath:    cfg.Export.TokenPath,
		}, logger)
		if err != nil {
			return err
		}
	}

	srv := web.New(web.Config{
		Addr:         cfg.Server.Addr,
		AppName:      cfg.Server.AppName,
		Title:        cfg.Server.Title,
		PushInterval: durationOr(cfg.Tutor.PushInterval, tutor.DefaultPushInterval),
		JPEG:         jpegOptions(cfg),
		Modalities:   modalities(cfg.Model.LiveModalities),
	}, web.Deps{
		Tutor:    t,
		Capture:  capt,
		Frames:   frames,
		Ingest:   ingest,
		Receiver: receiver,
		Recorder: recorder,
		Live:     live,
		Exporter: exp,
		Hub:      events,
		Metrics:  m,
		Logger:   logger,
	})

	logger.Info("robotbox starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"model", cfg.Model.Model,
		"live", live != nil,
		"webrtc", receiver != nil,
		"export", exp != nil,
	)
	return srv.Run(ctx)
}
