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
	"time"

	"github.com/gorilla/websocket"
)

// liveServer runs handler for each websocket connection.
func liveServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestLive(t *testing.T, url string, opts ...Option) *GeminiLive {
	t.Helper()
	base := []Option{WithAPIKey("test-key"), WithLiveURL(url), WithLiveModel("live-model")}
	g, err := NewGeminiLive(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Errorf("server read: %v", err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("server decode: %v", err)
	}
	return m
}

func TestLiveConnectPushReceive(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}
	setupCh := make(chan map[string]any, 1)
	pushCh := make(chan map[string]any, 1)

	url := liveServer(t, func(ws *websocket.Conn) {
		setupCh <- readJSON(t, ws)
		ws.WriteJSON(map[string]any{"setupComplete": map[string]any{}})

		pushCh <- readJSON(t, ws)
		ws.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []map[string]any{
				{"text": "What is on the left?"},
				{"inlineData": map[string]any{
					"mimeType": "audio/pcm;rate=24000",
					"data":     base64.StdEncoding.EncodeToString(pcm),
				}},
			}},
		}})
		ws.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})

		// Wait for the client to hang up.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	g := newTestLive(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := g.Connect(ctx, LiveConfig{SystemInstruction: "Be Socratic.", Modalities: []Modality{ModalityAudio}})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	setup := (<-setupCh)["setup"].(map[string]any)
	if setup["model"] != "models/live-model" {
		t.Errorf("Unexpected model %v", setup["model"])
	}
	gen := setup["generation_config"].(map[string]any)
	if mods := gen["response_modalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("Unexpected modalities %v", mods)
	}
	sys := setup["system_instruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)
	if sys["text"] != "Be Socratic." {
		t.Errorf("Unexpected system instruction %v", sys)
	}

	jpeg := []byte{0xff, 0xd8}
	if err := conn.Push(ctx, ImagePart(jpeg, "image/jpeg")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	push := <-pushCh
	chunk := push["realtime_input"].(map[string]any)["media_chunks"].([]any)[0].(map[string]any)
	if chunk["mime_type"] != "image/jpeg" || chunk["data"] != base64.StdEncoding.EncodeToString(jpeg) {
		t.Errorf("Unexpected media chunk %v", chunk)
	}

	first := <-conn.Responses()
	if first.Text() != "What is on the left?" || len(first.Audio()) != 1 {
		t.Errorf("Unexpected first payload: %+v", first)
	}
	if string(first.Audio()[0].Data) != string(pcm) {
		t.Error("Audio bytes mismatch")
	}
	second := <-conn.Responses()
	if !second.TurnComplete || !second.Empty() {
		t.Errorf("Expected bare turn-complete payload, got %+v", second)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	<-conn.Done()
	if conn.Err() != nil {
		t.Errorf("Expected clean close, got %v", conn.Err())
	}
	if err := conn.Push(ctx, ImagePart(jpeg, "image/jpeg")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after close, got %v", err)
	}
}

func TestLiveDroppedConnection(t *testing.T) {
	url := liveServer(t, func(ws *websocket.Conn) {
		readJSON(t, ws)
		ws.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		// Return without a close frame: the client sees an abnormal closure.
	})

	g := newTestLive(t, url)
	conn, err := g.Connect(context.Background(), LiveConfig{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Expected connection to end")
	}
	if conn.Err() == nil {
		t.Error("Expected error for dropped connection")
	}
	if _, ok := <-conn.Responses(); ok {
		t.Error("Expected responses channel to be closed")
	}
}

func TestLiveSetupTimeout(t *testing.T) {
	url := liveServer(t, func(ws *websocket.Conn) {
		readJSON(t, ws)
		time.Sleep(500 * time.Millisecond)
	})

	g := newTestLive(t, url, WithSetupTimeout(100*time.Millisecond))
	_, err := g.Connect(context.Background(), LiveConfig{})
	if !errors.Is(err, ErrSetupTimeout) {
		t.Errorf("Expected ErrSetupTimeout, got %v", err)
	}
}

func TestLiveConnectRejected(t *testing.T) {
	url := liveServer(t, func(ws *websocket.Conn) {})
	g, err := NewGeminiLive(WithAPIKey("wrong"), WithLiveURL(url))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Connect(context.Background(), LiveConfig{}); err == nil {
		t.Error("Expected handshake failure")
	}
}
