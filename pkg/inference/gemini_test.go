package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g, err := NewGemini(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithModel("test-model"),
	)
	if err != nil {
		t.Fatalf("Failed to create gateway: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini()
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
}

func TestGeminiSendRequestShape(t *testing.T) {
	var got geminiRequest
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("Expected key query param, got %q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"What shape is it?"}]},"finishReason":"STOP"}]}`))
	})

	img := []byte{0xff, 0xd8, 0xff}
	resp, err := g.Send(context.Background(), &Request{
		SystemInstruction: "Be Socratic.",
		History: []Content{
			{Role: RoleUser, Parts: []Part{TextPart("earlier question")}},
			{Role: RoleModel, Parts: []Part{TextPart("earlier answer")}},
		},
		Parts: []Part{TextPart("What is this?"), ImagePart(img, "image/jpeg")},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Text() != "What shape is it?" || resp.FinishReason != "STOP" || !resp.TurnComplete {
		t.Errorf("Unexpected payload: %+v", resp)
	}

	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "Be Socratic." {
		t.Error("Expected system instruction in config field")
	}
	if len(got.Contents) != 3 {
		t.Fatalf("Expected 2 history contents + 1 new, got %d", len(got.Contents))
	}
	if got.Contents[1].Role != "model" || got.Contents[2].Role != "user" {
		t.Errorf("Unexpected roles: %s, %s", got.Contents[1].Role, got.Contents[2].Role)
	}
	last := got.Contents[2].Parts
	if len(last) != 2 || last[1].InlineData == nil {
		t.Fatalf("Expected text and inline image, got %+v", last)
	}
	if last[1].InlineData.MIMEType != "image/jpeg" ||
		last[1].InlineData.Data != base64.StdEncoding.EncodeToString(img) {
		t.Errorf("Unexpected inline data: %+v", last[1].InlineData)
	}
	if len(got.GenerationConfig.ResponseModalities) != 1 || got.GenerationConfig.ResponseModalities[0] != "TEXT" {
		t.Errorf("Expected TEXT modality, got %v", got.GenerationConfig.ResponseModalities)
	}
}

func TestGeminiSendAudioResponse(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{
					{"text": "thinking", "thought": true},
					{"text": "Listen closely."},
					{"inlineData": map[string]any{
						"mimeType": "audio/pcm;rate=24000",
						"data":     base64.StdEncoding.EncodeToString(pcm),
					}},
				}},
			}},
		}
		json.NewEncoder(w).Encode(body)
	})

	resp, err := g.Send(context.Background(), &Request{Parts: []Part{TextPart("hi")}})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(resp.Parts) != 2 {
		t.Fatalf("Expected thought dropped and 2 parts kept, got %d", len(resp.Parts))
	}
	audio := resp.Audio()
	if len(audio) != 1 || string(audio[0].Data) != string(pcm) || audio[0].MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("Unexpected audio part: %+v", audio)
	}
}

func TestGeminiSendAPIError(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := g.Send(context.Background(), &Request{Parts: []Part{TextPart("hi")}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if !apiErr.IsRateLimited() || apiErr.Status != "RESOURCE_EXHAUSTED" || apiErr.Message != "Quota exceeded" {
		t.Errorf("Unexpected APIError: %+v", apiErr)
	}
}

func TestGeminiSendNonJSONError(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})
	_, err := g.Send(context.Background(), &Request{Parts: []Part{TextPart("hi")}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" || !apiErr.IsServerError() {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGeminiSendMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"no candidates", `{"candidates":[]}`},
		{"blocked", `{"promptFeedback":{"blockReason":"SAFETY"}}`},
		{"empty parts", `{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`},
		{"bad base64", `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/wav","data":"!!"}}]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := g.Send(context.Background(), &Request{Parts: []Part{TextPart("hi")}})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("Expected ErrMalformedResponse, got %v", err)
			}
			if tt.name == "blocked" && !strings.Contains(err.Error(), "SAFETY") {
				t.Errorf("Expected block reason in error, got %v", err)
			}
		})
	}
}

func TestGeminiSendContextCancelled(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Send(ctx, &Request{Parts: []Part{TextPart("hi")}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestGeminiCapabilities(t *testing.T) {
	g, err := NewGemini(WithAPIKey("k"))
	if err != nil {
		t.Fatal(err)
	}
	c := g.Capabilities()
	if !c.SystemInstruction || !c.Image || c.Streaming {
		t.Errorf("Unexpected capabilities: %+v", c)
	}
}
