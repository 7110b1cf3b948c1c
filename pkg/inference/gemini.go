package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teslashibe/robotbox/internal/httpc"
)

const providerGemini = "gemini"

var tracer = otel.Tracer("github.com/teslashibe/robotbox/pkg/inference")

// Gemini implements Gateway over the generateContent REST endpoint.
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a turn-based Gemini gateway.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, WrapError(providerGemini, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   hc,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Send performs one generateContent call.
func (g *Gemini) Send(ctx context.Context, req *Request) (*Payload, error) {
	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	ctx, span := tracer.Start(ctx, "gemini.generateContent", trace.WithAttributes(
		attribute.String("gen_ai.system", providerGemini),
		attribute.String("gen_ai.request.model", model),
		attribute.Int("robotbox.request.parts", len(req.Parts)),
		attribute.Int("robotbox.request.history", len(req.History)),
	))
	defer span.End()

	payload, err := g.send(ctx, model, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("robotbox.response.parts", len(payload.Parts)))
	return payload, nil
}

func (g *Gemini) send(ctx context.Context, model string, req *Request) (*Payload, error) {
	start := time.Now()

	body, err := json.Marshal(g.buildRequest(req))
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.config.BaseURL, model, g.apiKey)
	resp, err := httpc.PostJSON(ctx, g.http, url, body)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, g.parseError(resp)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("%w: decode response: %v", ErrMalformedResponse, err))
	}

	if result.Error.Message != "" {
		return nil, &APIError{
			StatusCode: result.Error.Code,
			Message:    result.Error.Message,
			Status:     result.Error.Status,
			Provider:   providerGemini,
		}
	}

	if len(result.Candidates) == 0 {
		reason := "no candidates"
		if result.PromptFeedback.BlockReason != "" {
			reason = "blocked: " + result.PromptFeedback.BlockReason
		}
		return nil, WrapError(providerGemini, fmt.Errorf("%w: %s", ErrMalformedResponse, reason))
	}

	cand := result.Candidates[0]
	parts, err := translateParts(cand.Content.Parts)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}
	if len(parts) == 0 {
		return nil, WrapError(providerGemini, fmt.Errorf("%w: no content (finish reason %q)", ErrMalformedResponse, cand.FinishReason))
	}

	latency := time.Since(start)
	g.logger.Debug("generateContent complete",
		"model", model,
		"parts", len(parts),
		"latency_ms", latency.Milliseconds(),
	)

	return &Payload{
		Parts:        parts,
		TurnComplete: true,
		FinishReason: cand.FinishReason,
		Model:        model,
		LatencyMs:    latency.Milliseconds(),
	}, nil
}

func (g *Gemini) buildRequest(req *Request) geminiRequest {
	out := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.config.Temperature,
			MaxOutputTokens: g.config.MaxTokens,
		},
	}

	modalities := req.Modalities
	if len(modalities) == 0 {
		modalities = g.config.Modalities
	}
	for _, m := range modalities {
		out.GenerationConfig.ResponseModalities = append(out.GenerationConfig.ResponseModalities, string(m))
	}

	if req.SystemInstruction != "" {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemInstruction}},
		}
	}

	for _, h := range req.History {
		role := "user"
		if h.Role == RoleModel {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: wireParts(h.Parts)})
	}
	out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: wireParts(req.Parts)})
	return out
}

// Capabilities returns Gemini's capabilities.
func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{
		SystemInstruction: true,
		Image:             true,
		Audio:             true,
		AudioOut:          false,
		Streaming:         false,
	}
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := httpc.ReadLimited(resp, 64<<10)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Provider:   providerGemini,
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Status = errResp.Error.Status
	}
	return apiErr
}

// Wire types for the Gemini API. Requests use the snake_case blob form the
// API accepts; responses arrive in camelCase.

type geminiBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature        float64  `json:"temperature"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiRespBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiRespPart struct {
	Text            string          `json:"text"`
	Thought         bool            `json:"thought"`
	InlineData      *geminiRespBlob `json:"inlineData"`
	InlineDataSnake *geminiRespBlob `json:"inline_data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiRespPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Status  string `json:"status"`
	} `json:"error"`
}

// wireParts converts Parts to the request wire form, base64-encoding binary data.
func wireParts(parts []Part) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case KindText:
			out = append(out, geminiPart{Text: p.Text})
		case KindImage, KindAudio:
			out = append(out, geminiPart{InlineData: &geminiBlob{
				MIMEType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
		}
	}
	return out
}

// translateParts converts response parts into Parts. Thought summaries and
// media types other than image and audio are dropped.
func translateParts(parts []geminiRespPart) ([]Part, error) {
	var out []Part
	for _, p := range parts {
		if p.Thought {
			continue
		}
		if p.Text != "" {
			out = append(out, TextPart(p.Text))
		}
		blob := p.InlineData
		if blob == nil {
			blob = p.InlineDataSnake
		}
		if blob == nil || blob.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(blob.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: inline data: %v", ErrMalformedResponse, err)
		}
		switch {
		case strings.HasPrefix(blob.MIMEType, "audio/"):
			out = append(out, AudioPart(data, blob.MIMEType))
		case strings.HasPrefix(blob.MIMEType, "image/"):
			out = append(out, ImagePart(data, blob.MIMEType))
		}
	}
	return out, nil
}

// Verify Gemini implements Gateway at compile time.
var _ Gateway = (*Gemini)(nil)
