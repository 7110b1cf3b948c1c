package capture

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/robotbox/pkg/media"
)

// browserPeer stands in for the page: it sends an Opus microphone track.
type browserPeer struct {
	pc    *webrtc.PeerConnection
	audio *webrtc.TrackLocalStaticSample
}

func newBrowserPeer(t *testing.T) *browserPeer {
	t.Helper()
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		t.Fatal(err)
	}
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "robotbox-test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pc.AddTrack(audio); err != nil {
		t.Fatal(err)
	}
	return &browserPeer{pc: pc, audio: audio}
}

func (b *browserPeer) offer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	offer, err := b.pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(b.pc)
	if err := b.pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered
	return *b.pc.LocalDescription()
}

// speak sends a 440Hz tone in 20ms Opus frames until ctx ends.
func (b *browserPeer) speak(ctx context.Context, t *testing.T) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		t.Error(err)
		return
	}
	pcm := make([]int16, 960)
	out := make([]byte, 1000)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	phase := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := range pcm {
			pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(phase)/48000))
			phase++
		}
		n, err := enc.Encode(pcm, out)
		if err != nil {
			t.Error(err)
			return
		}
		if err := b.audio.WriteSample(pionmedia.Sample{Data: out[:n], Duration: 20 * time.Millisecond}); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReceiver_AnswerAndRecordPushToTalk(t *testing.T) {
	rec := media.NewRecorder(48000, 16000)
	r := NewReceiver(ReceiverConfig{HostOnly: true}, media.NewCapture(media.NewFrameBuffer(nil)), rec, nil)
	defer r.Close()

	browser := newBrowserPeer(t)
	ctx, cancel := context.WithTimeout(t.Context(), 15*time.Second)
	defer cancel()

	answer, err := r.Answer(ctx, browser.offer(t))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Errorf("answer type = %s", answer.Type)
	}
	if !strings.Contains(answer.SDP, "m=audio") || !strings.Contains(answer.SDP, "a=recvonly") {
		t.Errorf("answer does not receive audio:\n%s", answer.SDP)
	}
	if !strings.Contains(answer.SDP, "a=candidate") {
		t.Error("answer carries no ICE candidates")
	}
	if err := browser.pc.SetRemoteDescription(*answer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	waitFor(t, "peer connection", r.Active)

	speakCtx, stopSpeaking := context.WithCancel(ctx)
	defer stopSpeaking()
	go browser.speak(speakCtx, t)

	// Audio outside a recording is dropped.
	time.Sleep(200 * time.Millisecond)
	if _, err := rec.Stop(); !errors.Is(err, media.ErrNotRecording) {
		t.Errorf("Stop before Start = %v, want ErrNotRecording", err)
	}

	rec.Start()
	time.Sleep(600 * time.Millisecond)
	clip, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clip.MIMEType != media.MIMEWAV {
		t.Errorf("clip mime = %s", clip.MIMEType)
	}
	if clip.Duration < 100*time.Millisecond || clip.Duration > 2*time.Second {
		t.Errorf("clip duration = %v", clip.Duration)
	}
	if len(clip.Data) <= 44 {
		t.Errorf("clip has no samples (%d bytes)", len(clip.Data))
	}

	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if r.Active() {
		t.Error("receiver active after Close")
	}
}

func TestReceiver_AnswerReplacesPeer(t *testing.T) {
	r := NewReceiver(ReceiverConfig{HostOnly: true}, media.NewCapture(media.NewFrameBuffer(nil)), media.NewRecorder(48000, 16000), nil)
	defer r.Close()

	first := newBrowserPeer(t)
	if _, err := r.Answer(t.Context(), first.offer(t)); err != nil {
		t.Fatalf("first Answer: %v", err)
	}
	r.mu.Lock()
	pc1 := r.pc
	r.mu.Unlock()

	second := newBrowserPeer(t)
	if _, err := r.Answer(t.Context(), second.offer(t)); err != nil {
		t.Fatalf("second Answer: %v", err)
	}
	r.mu.Lock()
	pc2 := r.pc
	r.mu.Unlock()

	if pc1 == pc2 {
		t.Fatal("peer not replaced")
	}
	if pc1.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Errorf("old peer state = %s, want closed", pc1.ConnectionState())
	}
}
