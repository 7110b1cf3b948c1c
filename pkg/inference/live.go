package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GeminiLive implements LiveGateway over the BidiGenerateContent websocket.
type GeminiLive struct {
	apiKey string
	config *Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewGeminiLive creates a streaming Gemini gateway.
func NewGeminiLive(opts ...Option) (*GeminiLive, error) {
	cfg := DefaultConfig()
	cfg.Modalities = []Modality{ModalityAudio}
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, WrapError(providerGemini, err)
	}

	return &GeminiLive{
		apiKey: cfg.APIKey,
		config: cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: cfg.Logger.With("component", "inference.gemini_live"),
	}, nil
}

// Capabilities returns the live gateway's capabilities.
func (g *GeminiLive) Capabilities() Capabilities {
	return Capabilities{
		SystemInstruction: true,
		Image:             true,
		Audio:             true,
		AudioOut:          true,
		Streaming:         true,
	}
}

// Connect dials the live endpoint, sends the setup message and waits for
// the server to acknowledge it.
func (g *GeminiLive) Connect(ctx context.Context, cfg LiveConfig) (LiveConn, error) {
	model := cfg.Model
	if model == "" {
		model = g.config.LiveModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	url := fmt.Sprintf("%s?key=%s", g.config.LiveURL, g.apiKey)
	ws, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("connect: %w", err))
	}

	conn := &liveConn{
		ws:        ws,
		responses: make(chan *Payload, g.config.ResponseBuffer),
		done:      make(chan struct{}),
		logger:    g.logger,
		model:     model,
	}

	if err := conn.sendJSON(g.setupMessage(model, cfg)); err != nil {
		ws.Close()
		return nil, WrapError(providerGemini, fmt.Errorf("send setup: %w", err))
	}

	if err := conn.awaitSetup(ctx, g.config.SetupTimeout); err != nil {
		ws.Close()
		return nil, WrapError(providerGemini, err)
	}

	g.logger.Info("live session ready", "model", model)
	go conn.readLoop()
	return conn, nil
}

func (g *GeminiLive) setupMessage(model string, cfg LiveConfig) map[string]any {
	modalities := cfg.Modalities
	if len(modalities) == 0 {
		modalities = g.config.Modalities
	}
	names := make([]string, 0, len(modalities))
	for _, m := range modalities {
		names = append(names, string(m))
	}

	genConfig := map[string]any{
		"response_modalities": names,
		"temperature":         g.config.Temperature,
	}

	voice := cfg.Voice
	if voice == "" {
		voice = g.config.Voice
	}
	if voice != "" {
		genConfig["speech_config"] = map[string]any{
			"voice_config": map[string]any{
				"prebuilt_voice_config": map[string]any{"voice_name": voice},
			},
		}
	}

	setup := map[string]any{
		"model":             model,
		"generation_config": genConfig,
	}
	if cfg.SystemInstruction != "" {
		setup["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": cfg.SystemInstruction}},
		}
	}
	return map[string]any{"setup": setup}
}

// liveServerMessage is the subset of server messages we act on.
type liveServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []geminiRespPart `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete bool `json:"turnComplete"`
		Interrupted  bool `json:"interrupted"`
	} `json:"serverContent"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway"`
}

type liveConn struct {
	ws     *websocket.Conn
	wsMu   sync.Mutex
	logger *slog.Logger
	model  string

	responses chan *Payload
	done      chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

func (c *liveConn) Responses() <-chan *Payload { return c.responses }

func (c *liveConn) Done() <-chan struct{} { return c.done }

func (c *liveConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Push sends parts without waiting for any response. Image and audio parts
// go out as realtime media chunks; text parts as a completed client turn.
func (c *liveConn) Push(ctx context.Context, parts ...Part) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	var chunks []map[string]any
	var texts []map[string]any
	for _, p := range parts {
		switch p.Kind {
		case KindImage, KindAudio:
			chunks = append(chunks, map[string]any{
				"data":      base64.StdEncoding.EncodeToString(p.Data),
				"mime_type": p.MIMEType,
			})
		case KindText:
			texts = append(texts, map[string]any{"text": p.Text})
		}
	}

	if len(chunks) > 0 {
		msg := map[string]any{"realtime_input": map[string]any{"media_chunks": chunks}}
		if err := c.sendJSONContext(ctx, msg); err != nil {
			return err
		}
	}
	if len(texts) > 0 {
		msg := map[string]any{"client_content": map[string]any{
			"turns":         []map[string]any{{"role": "user", "parts": texts}},
			"turn_complete": true,
		}}
		if err := c.sendJSONContext(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close ends the session. The responses channel is closed once the reader exits.
func (c *liveConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.wsMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wsMu.Unlock()

	err := c.ws.Close()
	c.finish(nil)
	return err
}

func (c *liveConn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *liveConn) sendJSONContext(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return WrapError(providerGemini, fmt.Errorf("push: %w", err))
	}
	return nil
}

func (c *liveConn) awaitSetup(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.ws.SetReadDeadline(deadline)
	defer c.ws.SetReadDeadline(time.Time{})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrSetupTimeout
			}
			return fmt.Errorf("await setup: %w", err)
		}
		var msg liveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func (c *liveConn) readLoop() {
	defer close(c.responses)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.finish(nil)
			} else {
				c.finish(WrapError(providerGemini, fmt.Errorf("connection lost: %w", err)))
			}
			return
		}

		var msg liveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("unparseable live message", "error", err, "bytes", len(data))
			continue
		}

		if msg.GoAway != nil {
			c.logger.Warn("live server going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent == nil {
			continue
		}

		sc := msg.ServerContent
		p := &Payload{
			TurnComplete: sc.TurnComplete,
			Interrupted:  sc.Interrupted,
			Model:        c.model,
		}
		if sc.ModelTurn != nil {
			parts, err := translateParts(sc.ModelTurn.Parts)
			if err != nil {
				c.logger.Warn("dropping live content", "error", err)
				continue
			}
			p.Parts = parts
		}
		if p.Empty() && !p.TurnComplete && !p.Interrupted {
			continue
		}

		select {
		case c.responses <- p:
		case <-c.done:
			return
		}
	}
}

func (c *liveConn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		if err != nil {
			c.logger.Warn("live session ended", "error", err)
		}
	})
}

// Verify GeminiLive implements LiveGateway at compile time.
var _ LiveGateway = (*GeminiLive)(nil)
