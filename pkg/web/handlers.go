package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/robotbox/pkg/capture"
	"github.com/teslashibe/robotbox/pkg/export"
	"github.com/teslashibe/robotbox/pkg/media"
	"github.com/teslashibe/robotbox/pkg/tutor"
)

// maxAudioUpload bounds a push-to-talk recording sent from the page.
const maxAudioUpload = 10 << 20

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

func (s *Server) handleConversation(c *fiber.Ctx) error {
	return c.JSON(s.deps.Tutor.Session().All())
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	s.stopLive()
	s.deps.Tutor.Reset()
	s.deps.Clips.Take()
	s.publishStatus()
	return c.JSON(fiber.Map{"session": s.deps.Tutor.Session().ID()})
}

// handleTurn runs one turn-based exchange. The audio comes from an uploaded
// file or, failing that, the last push-to-talk recording.
func (s *Server) handleTurn(c *fiber.Ctx) error {
	text := c.FormValue("text")

	clip, err := uploadedClip(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if clip == nil {
		clip, _ = s.deps.Clips.Take()
	}

	ex, err := s.deps.Tutor.Ask(c.UserContext(), text, clip)
	defer s.publishStatus()
	if err != nil {
		return errorJSON(c, turnStatus(err), err)
	}
	return c.JSON(ex)
}

func uploadedClip(c *fiber.Ctx) (*media.Clip, error) {
	fh, err := c.FormFile("audio")
	if err != nil {
		return nil, nil
	}
	if fh.Size > maxAudioUpload {
		return nil, errors.New("audio upload too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if i := strings.Index(mime, ";"); i > 0 && !strings.HasPrefix(mime, media.MIMEPCM) {
		mime = mime[:i]
	}
	return &media.Clip{Data: data, MIMEType: mime}, nil
}

func turnStatus(err error) int {
	var (
		gwErr     *tutor.GatewayError
		malformed *tutor.MalformedResponseError
	)
	switch {
	case errors.Is(err, tutor.ErrBusy):
		return fiber.StatusConflict
	case errors.Is(err, tutor.ErrEmptyInput):
		return fiber.StatusBadRequest
	case errors.As(err, &malformed):
		return fiber.StatusBadGateway
	case errors.As(err, &gwErr):
		switch gwErr.Category {
		case "auth":
			return fiber.StatusUnauthorized
		case "quota":
			return fiber.StatusTooManyRequests
		case "cancelled":
			return fiber.StatusRequestTimeout
		}
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleCaptureToggle(on bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s.deps.Capture.SetEnabled(on)
		if !on {
			s.stopLive()
		}
		s.publishStatus()
		return c.JSON(fiber.Map{"capture": on})
	}
}

func (s *Server) handlePTTStart(c *fiber.Ctx) error {
	if s.deps.Recorder == nil {
		return errorJSON(c, fiber.StatusNotImplemented, errors.New("push-to-talk needs the webrtc transport"))
	}
	s.deps.Recorder.Start()
	s.publishStatus()
	return c.JSON(fiber.Map{"recording": true})
}

func (s *Server) handlePTTStop(c *fiber.Ctx) error {
	if s.deps.Recorder == nil {
		return errorJSON(c, fiber.StatusNotImplemented, errors.New("push-to-talk needs the webrtc transport"))
	}
	clip, err := s.deps.Recorder.Stop()
	s.publishStatus()
	switch {
	case errors.Is(err, media.ErrNotRecording), errors.Is(err, media.ErrEmptyClip):
		return errorJSON(c, fiber.StatusConflict, err)
	case err != nil:
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	s.deps.Clips.Put(clip)
	return c.JSON(fiber.Map{
		"duration_ms": clip.Duration.Milliseconds(),
		"bytes":       len(clip.Data),
	})
}

type sdpMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s *Server) handleOffer(c *fiber.Ctx) error {
	if s.deps.Receiver == nil {
		return errorJSON(c, fiber.StatusNotImplemented, errors.New("webrtc transport disabled"))
	}
	var msg sdpMessage
	if err := c.BodyParser(&msg); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	answer, err := s.deps.Receiver.Answer(c.UserContext(), webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  msg.SDP,
	})
	if errors.Is(err, capture.ErrNoOffer) {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if err != nil {
		s.log.Error("webrtc negotiation failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(sdpMessage{Type: answer.Type.String(), SDP: answer.SDP})
}

// handleLiveConnect starts a streaming session in the background. Only one
// session runs at a time, and only while capture is active.
func (s *Server) handleLiveConnect(c *fiber.Ctx) error {
	if s.deps.Live == nil {
		return errorJSON(c, fiber.StatusNotImplemented, errors.New("live gateway disabled"))
	}
	if !s.captureActive() {
		return errorJSON(c, fiber.StatusConflict, tutor.ErrCaptureInactive)
	}

	s.liveMu.Lock()
	if s.liveRunning() {
		s.liveMu.Unlock()
		return errorJSON(c, fiber.StatusConflict, errors.New("live session already running"))
	}

	session := s.deps.Tutor.Session()
	builder := tutor.NewBuilder(s.deps.Live.Capabilities(), s.cfg.JPEG, false)
	dispatcher := tutor.NewDispatcher(session, s.sinks, s.sinks, s.deps.Metrics, s.deps.Logger)
	opts := []tutor.LiveOption{
		tutor.WithActive(s.captureActive),
		tutor.WithPushInterval(s.cfg.PushInterval),
		tutor.WithLiveInstruction(s.deps.Tutor.Instruction()),
		tutor.WithLiveErrors(s.sinks),
		tutor.WithStateHook(func(tutor.LiveState) { go s.publishStatus() }),
		tutor.WithLiveMetrics(s.deps.Metrics),
		tutor.WithLiveLogger(s.deps.Logger),
	}
	if len(s.cfg.Modalities) > 0 {
		opts = append(opts, tutor.WithLiveModalities(s.cfg.Modalities...))
	}
	live := tutor.NewLiveSession(s.deps.Live, s.deps.Frames, builder, dispatcher, opts...)
	s.live = live
	s.liveMu.Unlock()

	go func() {
		if err := live.Run(context.Background()); err != nil {
			s.log.Warn("live session ended with error", "error", err)
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"live": "connecting"})
}

// liveRunning reports whether the current session has not finished yet.
// It counts a session whose Run has not started. The caller holds liveMu.
func (s *Server) liveRunning() bool {
	if s.live == nil {
		return false
	}
	select {
	case <-s.live.Done():
		return false
	default:
		return true
	}
}

func (s *Server) handleLiveDisconnect(c *fiber.Ctx) error {
	s.stopLive()
	return c.JSON(fiber.Map{"live": tutor.LiveDisconnected.String()})
}

func (s *Server) stopLive() {
	s.liveMu.Lock()
	live := s.live
	s.liveMu.Unlock()
	if live != nil {
		live.Stop()
	}
}

func (s *Server) handleExportStatus(c *fiber.Ctx) error {
	if s.deps.Exporter == nil {
		return c.JSON(export.Status{})
	}
	return c.JSON(s.deps.Exporter.Status())
}

func (s *Server) handleExportAuth(c *fiber.Ctx) error {
	if s.deps.Exporter == nil {
		return errorJSON(c, fiber.StatusNotImplemented, export.ErrNotConfigured)
	}
	return c.Redirect(s.deps.Exporter.AuthURL(), fiber.StatusTemporaryRedirect)
}

func (s *Server) handleExportCallback(c *fiber.Ctx) error {
	if s.deps.Exporter == nil {
		return errorJSON(c, fiber.StatusNotImplemented, export.ErrNotConfigured)
	}
	err := s.deps.Exporter.Callback(c.UserContext(), c.Query("state"), c.Query("code"))
	if errors.Is(err, export.ErrBadState) {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	s.publishStatus()
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (s *Server) handleExportDisconnect(c *fiber.Ctx) error {
	if s.deps.Exporter == nil {
		return errorJSON(c, fiber.StatusNotImplemented, export.ErrNotConfigured)
	}
	if err := s.deps.Exporter.Disconnect(); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	s.publishStatus()
	return c.JSON(s.deps.Exporter.Status())
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	if s.deps.Exporter == nil {
		return errorJSON(c, fiber.StatusNotImplemented, export.ErrNotConfigured)
	}
	title := c.FormValue("title", s.cfg.Title)
	id, err := s.deps.Exporter.Export(c.UserContext(), title, s.deps.Tutor.Session().All())
	switch {
	case errors.Is(err, export.ErrNothingToExport):
		return errorJSON(c, fiber.StatusBadRequest, err)
	case errors.Is(err, export.ErrNotAuthenticated):
		return errorJSON(c, fiber.StatusUnauthorized, err)
	case err != nil:
		return errorJSON(c, fiber.StatusBadGateway, err)
	}
	return c.JSON(fiber.Map{"document_id": id, "url": export.DocURL(id)})
}
