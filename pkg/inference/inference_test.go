package inference

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPartValidate(t *testing.T) {
	tests := []struct {
		name string
		part Part
		ok   bool
	}{
		{"text", TextPart("hello"), true},
		{"blank text", TextPart("   "), false},
		{"image", ImagePart([]byte{1}, "image/jpeg"), true},
		{"image no data", ImagePart(nil, "image/jpeg"), false},
		{"audio no mime", AudioPart([]byte{1}, ""), false},
		{"zero", Part{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.part.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("Expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestPayloadHelpers(t *testing.T) {
	var nilPayload *Payload
	if !nilPayload.Empty() || nilPayload.Text() != "" || nilPayload.Audio() != nil {
		t.Error("Expected nil payload helpers to be safe")
	}

	p := &Payload{Parts: []Part{
		TextPart("What "),
		AudioPart([]byte{1, 2}, "audio/pcm;rate=24000"),
		TextPart("do you see?"),
	}}
	if p.Empty() {
		t.Error("Expected non-empty payload")
	}
	if p.Text() != "What do you see?" {
		t.Errorf("Unexpected text: %q", p.Text())
	}
	if len(p.Audio()) != 1 {
		t.Errorf("Expected 1 audio part, got %d", len(p.Audio()))
	}
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	mock := NewMock()

	resp, err := mock.Send(ctx, &Request{Parts: []Part{TextPart("hi")}})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Text() == "" {
		t.Error("Expected text in response")
	}
	if mock.CallCount("Send") != 1 {
		t.Errorf("Expected 1 Send call, got %d", mock.CallCount("Send"))
	}
	if mock.LastRequest().Parts[0].Text != "hi" {
		t.Error("Expected request to be recorded")
	}

	mock.Reset()
	if len(mock.Calls()) != 0 || mock.LastRequest() != nil {
		t.Error("Expected empty mock after reset")
	}
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := WithError(testErr)
	_, err := mock.Send(context.Background(), &Request{})
	if !errors.Is(err, testErr) {
		t.Errorf("Expected test error, got: %v", err)
	}
}

func TestMockConn(t *testing.T) {
	live := NewMockLive()
	conn, err := live.Connect(context.Background(), LiveConfig{SystemInstruction: "sys"})
	if err != nil {
		t.Fatal(err)
	}
	if live.LastConfig().SystemInstruction != "sys" {
		t.Error("Expected config to be recorded")
	}

	mc := live.Conn(0)
	if err := conn.Push(context.Background(), ImagePart([]byte{1}, "image/jpeg")); err != nil {
		t.Fatal(err)
	}
	if len(mc.Pushes()) != 1 {
		t.Errorf("Expected 1 push, got %d", len(mc.Pushes()))
	}

	mc.Emit(&Payload{Parts: []Part{TextPart("hm")}})
	select {
	case p := <-conn.Responses():
		if p.Text() != "hm" {
			t.Errorf("Unexpected payload %q", p.Text())
		}
	case <-time.After(time.Second):
		t.Fatal("Expected payload")
	}

	dropErr := errors.New("dropped")
	mc.Drop(dropErr)
	<-conn.Done()
	if !errors.Is(conn.Err(), dropErr) {
		t.Errorf("Expected drop error, got %v", conn.Err())
	}
	if err := conn.Push(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apply(
		WithBaseURL("http://localhost:9999"),
		WithAPIKey("test-key"),
		WithModel("m"),
		WithLiveModel("lm"),
		WithMaxTokens(100),
		WithTemperature(0.2),
		WithModalities(ModalityAudio),
		WithTimeout(5*time.Second),
		WithSetupTimeout(time.Second),
		WithResponseBuffer(4),
		WithVoice("Puck"),
	)

	if cfg.BaseURL != "http://localhost:9999" || cfg.APIKey != "test-key" {
		t.Errorf("Connection options not applied: %+v", cfg)
	}
	if cfg.Model != "m" || cfg.LiveModel != "lm" || cfg.Voice != "Puck" {
		t.Errorf("Model options not applied: %+v", cfg)
	}
	if cfg.MaxTokens != 100 || cfg.Temperature != 0.2 || cfg.ResponseBuffer != 4 {
		t.Errorf("Request options not applied: %+v", cfg)
	}
	if len(cfg.Modalities) != 1 || cfg.Modalities[0] != ModalityAudio {
		t.Errorf("Expected AUDIO modality, got %v", cfg.Modalities)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if !errors.Is(cfg.Validate(), ErrNoAPIKey) {
		t.Error("Expected ErrNoAPIKey")
	}
	cfg.APIKey = "k"
	cfg.Model, cfg.LiveModel = "", ""
	if !errors.Is(cfg.Validate(), ErrNoModel) {
		t.Error("Expected ErrNoModel")
	}
}

func TestAPIErrorCategory(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{429, "quota"},
		{401, "auth"},
		{403, "auth"},
		{503, "model"},
		{400, "request"},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.code, Provider: "gemini"}
		if got := e.Category(); got != tt.want {
			t.Errorf("Category(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("x", nil) != nil {
		t.Error("Expected nil for nil error")
	}
	err := WrapError("gemini", ErrNoAPIKey)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "gemini" {
		t.Errorf("Expected ProviderError, got %v", err)
	}
	if !errors.Is(err, ErrNoAPIKey) {
		t.Error("Expected wrapped sentinel")
	}
}
