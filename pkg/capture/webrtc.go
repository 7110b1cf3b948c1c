package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/robotbox/pkg/media"
)

// Opus decoding parameters. 5760 samples is 120ms at 48kHz, the longest
// Opus frame.
const (
	opusRate      = 48000
	opusChannels  = 1
	opusMaxFrame  = 5760
	maxAccessUnit = 4 << 20
)

// DefaultSTUNServer is used when no ICE servers are configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// ErrNoOffer is returned for an empty SDP offer.
var ErrNoOffer = errors.New("capture: empty SDP offer")

// ReceiverConfig configures the WebRTC receiver.
type ReceiverConfig struct {
	STUNServers []string
	// HostOnly skips STUN and gathers host candidates, loopback included.
	// For a browser on the same machine or LAN.
	HostOnly bool

	FFmpegPath     string
	DecodeInterval time.Duration
	KeyframeEvery  time.Duration
}

// Receiver accepts one browser peer at a time and decodes its camera and
// microphone tracks.
type Receiver struct {
	cfg      ReceiverConfig
	capture  *media.Capture
	recorder *media.Recorder
	decoder  *Decoder
	decode   FrameDecoder
	logger   *slog.Logger

	mu    sync.Mutex
	pc    *webrtc.PeerConnection
	state webrtc.PeerConnectionState
}

// NewReceiver creates a receiver. Video goes to c, microphone audio to rec.
func NewReceiver(cfg ReceiverConfig, c *media.Capture, rec *media.Recorder, logger *slog.Logger) *Receiver {
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = []string{DefaultSTUNServer}
	}
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = 200 * time.Millisecond
	}
	if cfg.KeyframeEvery <= 0 {
		cfg.KeyframeEvery = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		cfg:      cfg,
		capture:  c,
		recorder: rec,
		decoder:  NewDecoder(cfg.FFmpegPath, cfg.DecodeInterval),
		decode:   DecodeBGR,
		logger:   logger.With("component", "capture.webrtc"),
		state:    webrtc.PeerConnectionStateNew,
	}
}

// Answer replaces any current peer with a new one built from offer and
// returns the local answer once ICE gathering completes.
func (r *Receiver) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if offer.SDP == "" {
		return nil, ErrNoOffer
	}
	r.Close()

	pc, err := r.newPeerConnection()
	if err != nil {
		return nil, err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	r.mu.Lock()
	r.pc = pc
	r.mu.Unlock()

	return pc.LocalDescription(), nil
}

func (r *Receiver) newPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("capture: register codecs: %w", err)
	}
	var (
		se  webrtc.SettingEngine
		ice []webrtc.ICEServer
	)
	if r.cfg.HostOnly {
		se.SetIncludeLoopbackCandidate(true)
	} else {
		ice = []webrtc.ICEServer{{URLs: r.cfg.STUNServers}}
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return nil, fmt.Errorf("capture: new peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("capture: add %s transceiver: %w", kind, err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.logger.Info("track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			go r.requestKeyframes(pc, track)
			r.readVideo(track)
		case webrtc.RTPCodecTypeAudio:
			r.readAudio(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.mu.Lock()
		current := r.pc == nil || r.pc == pc
		if current {
			r.state = state
		}
		r.mu.Unlock()
		r.logger.Info("peer connection state", "state", state.String())
	})

	return pc, nil
}

// requestKeyframes sends a picture loss indication on a fixed cadence so a
// fresh keyframe is always close.
func (r *Receiver) requestKeyframes(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(r.cfg.KeyframeEvery)
	defer ticker.Stop()
	for range ticker.C {
		err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
		if err != nil {
			return
		}
	}
}

// readVideo reassembles H264 access units and decodes the latest one on
// the decoder's cadence.
func (r *Receiver) readVideo(track *webrtc.TrackRemote) {
	var (
		depacketizer codecs.H264Packet
		stream       []byte
		keyed        bool
	)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil || len(nal) == 0 {
			continue
		}
		if startsWithSPS(nal) {
			stream = stream[:0]
			keyed = true
		}
		if !keyed {
			continue
		}
		stream = append(stream, nal...)
		if len(stream) > maxAccessUnit {
			stream, keyed = stream[:0], false
			continue
		}
		if !pkt.Marker || !r.decoder.Due() {
			continue
		}
		r.decodeFrame(stream)
	}
}

func (r *Receiver) decodeFrame(stream []byte) {
	jpeg, err := r.decoder.Decode(context.Background(), stream)
	if err != nil {
		r.logger.Debug("h264 decode skipped", "error", err)
		return
	}
	raw, err := r.decode(jpeg)
	if err != nil {
		r.logger.Debug("jpeg decode skipped", "error", err)
		return
	}
	r.capture.OnFrame(raw)
}

// startsWithSPS reports whether an Annex-B chunk begins with a sequence
// parameter set, which precedes every keyframe.
func startsWithSPS(nal []byte) bool {
	i := 0
	for i+2 < len(nal) && nal[i] == 0 {
		i++
	}
	if i < 2 || nal[i] != 1 || i+1 >= len(nal) {
		return false
	}
	return nal[i+1]&0x1F == 7
}

func (r *Receiver) readAudio(track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(opusRate, opusChannels)
	if err != nil {
		r.logger.Error("opus decoder", "error", err)
		return
	}
	pcm := make([]int16, opusMaxFrame)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if !r.recorder.Recording() {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		r.recorder.Write(pcm[:n])
	}
}

// Active reports whether a peer is connected.
func (r *Receiver) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc != nil && r.state == webrtc.PeerConnectionStateConnected
}

// State returns the current peer connection state.
func (r *Receiver) State() webrtc.PeerConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Close drops the current peer, if any.
func (r *Receiver) Close() error {
	r.mu.Lock()
	pc := r.pc
	r.pc = nil
	r.state = webrtc.PeerConnectionStateClosed
	r.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}
