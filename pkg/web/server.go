// Package web serves the tutoring page and its JSON and websocket API.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	contribws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/robotbox/pkg/capture"
	"github.com/teslashibe/robotbox/pkg/export"
	"github.com/teslashibe/robotbox/pkg/hub"
	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/media"
	"github.com/teslashibe/robotbox/pkg/metrics"
	"github.com/teslashibe/robotbox/pkg/tutor"
)

// Config controls the server.
type Config struct {
	Addr    string
	AppName string
	Title   string

	PushInterval time.Duration
	JPEG         media.JPEGOptions
	Modalities   []inference.Modality
}

// Deps are the components the server drives. Tutor, Capture, Frames and
// Hub are required; a nil Live, Receiver or Exporter disables those routes.
type Deps struct {
	Tutor    *tutor.Tutor
	Capture  *media.Capture
	Frames   *media.FrameBuffer
	Ingest   *capture.Ingest
	Receiver *capture.Receiver
	Recorder *media.Recorder
	Clips    *media.ClipSlot
	Live     inference.LiveGateway
	Exporter *export.Exporter
	Hub      *hub.Hub
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Active overrides the capture liveness check.
	Active func() bool
}

// Server is the web UI.
type Server struct {
	app   *fiber.App
	cfg   Config
	deps  Deps
	sinks *hub.Sinks
	log   *slog.Logger

	liveMu sync.Mutex
	live   *tutor.LiveSession
}

// New builds the fiber app and its routes.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clips == nil {
		deps.Clips = &media.ClipSlot{}
	}
	if cfg.AppName == "" {
		cfg.AppName = "RobotBox"
	}
	if cfg.Title == "" {
		cfg.Title = "RobotBox Live AI Lab"
	}

	s := &Server{
		cfg:   cfg,
		deps:  deps,
		sinks: hub.NewSinks(deps.Hub),
		log:   deps.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		BodyLimit:             16 << 20,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/", s.handleIndex)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleConversation)
	api.Post("/reset", s.handleReset)
	api.Post("/turn", s.handleTurn)
	api.Post("/capture/start", s.handleCaptureToggle(true))
	api.Post("/capture/stop", s.handleCaptureToggle(false))
	api.Post("/ptt/start", s.handlePTTStart)
	api.Post("/ptt/stop", s.handlePTTStop)
	api.Post("/webrtc/offer", s.handleOffer)
	api.Post("/live/connect", s.handleLiveConnect)
	api.Post("/live/disconnect", s.handleLiveDisconnect)
	api.Get("/export/status", s.handleExportStatus)
	api.Get("/export/auth", s.handleExportAuth)
	api.Get("/export/callback", s.handleExportCallback)
	api.Post("/export", s.handleExport)
	api.Post("/export/disconnect", s.handleExportDisconnect)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(deps.Hub.Serve))
	if deps.Ingest != nil {
		app.Get("/ws/capture", contribws.New(deps.Ingest.Serve))
	}

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Sinks returns the hub-backed tutor sinks.
func (s *Server) Sinks() *hub.Sinks {
	return s.sinks
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.deps.Hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web ui listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.stopLive()
	if s.deps.Receiver != nil {
		s.deps.Receiver.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// captureActive reports whether any capture transport is delivering frames.
func (s *Server) captureActive() bool {
	if s.deps.Active != nil {
		return s.deps.Active()
	}
	if !s.deps.Capture.Enabled() {
		return false
	}
	if s.deps.Ingest != nil && s.deps.Ingest.Active() {
		return true
	}
	return s.deps.Receiver != nil && s.deps.Receiver.Active()
}

func (s *Server) status() hub.Status {
	st := hub.Status{
		Session: s.deps.Tutor.Session().ID(),
		Turns:   s.deps.Tutor.Session().Len(),
		Capture: s.captureActive(),
		Live:    tutor.LiveDisconnected.String(),
	}
	if s.deps.Frames != nil {
		fs := s.deps.Frames.Stats()
		st.HasFrame = fs.HasFrame
		st.Frames = fs.Seq
	}
	if s.deps.Ingest != nil {
		st.Streams = s.deps.Ingest.Clients()
	}
	st.ClipReady = s.deps.Clips.Pending()
	gw, _ := s.deps.Tutor.State()
	st.Gateway = gw.String()

	s.liveMu.Lock()
	if s.live != nil {
		st.Live = s.live.State().String()
	}
	s.liveMu.Unlock()

	if s.deps.Recorder != nil {
		st.Recording = s.deps.Recorder.Recording()
	}
	if s.deps.Exporter != nil {
		st.Export = s.deps.Exporter.Connected()
	}
	return st
}

func (s *Server) publishStatus() {
	s.sinks.ShowStatus(s.status())
}
