// Package preview pushes live frame telemetry and thumbnails to browsers
// over a WebRTC data channel named "frames". Each decoded frame produces a
// JSON text message followed by a binary PNG thumbnail, throttled to a
// configurable rate.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/shmview/internal/events"
	"github.com/smazurov/shmview/internal/metrics"
)

// ChannelLabel is the data channel label browsers must open.
const ChannelLabel = "frames"

// Defaults for Config.
const (
	DefaultThumbnailWidth = 160
	DefaultMaxFPS         = 10
	// MaxBufferedAmount is the send backlog above which a peer skips frames.
	MaxBufferedAmount = 1 << 20
	// GatherTimeout bounds ICE candidate gathering for an answer.
	GatherTimeout = 5 * time.Second
)

// ErrDisabled is returned by CreatePeer when previews are turned off.
var ErrDisabled = errors.New("preview disabled")

// Config controls preview delivery.
type Config struct {
	Enabled        bool
	ThumbnailWidth int
	MaxFPS         int
	// ICEServers lists STUN/TURN URLs; empty for LAN-only use.
	ICEServers []string
}

// DefaultConfig returns the built-in preview settings.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		ThumbnailWidth: DefaultThumbnailWidth,
		MaxFPS:         DefaultMaxFPS,
	}
}

// Telemetry is the JSON message sent ahead of each thumbnail.
type Telemetry struct {
	Type      string  `json:"type"`
	FrameID   uint64  `json:"frame_id"`
	Sequence  uint64  `json:"sequence"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Format    string  `json:"format"`
	LatencyMs float64 `json:"latency_ms"`
	DecodeMs  float64 `json:"decode_ms"`
	Thumbnail bool    `json:"thumbnail"`
	Timestamp string  `json:"timestamp"`
}

// Answer is the result of negotiating a preview peer.
type Answer struct {
	PeerID string `json:"peer_id"`
	SDP    string `json:"sdp"`
}

type peer struct {
	id string
	pc *pion.PeerConnection

	mu sync.Mutex
	dc *pion.DataChannel
}

func (p *peer) channel() *pion.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc
}

func (p *peer) setChannel(dc *pion.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()
}

// Manager owns preview peer connections.
type Manager struct {
	api    *pion.API
	logger *slog.Logger

	cfgMu sync.RWMutex
	cfg   Config

	mu    sync.RWMutex
	peers map[string]*peer

	// Owned by Run.
	lastSent time.Time
}

// NewManager creates a preview manager.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, fmt.Errorf("create webrtc api: %w", err)
	}
	return &Manager{
		api:    api,
		logger: logger,
		cfg:    cfg,
		peers:  make(map[string]*peer),
	}, nil
}

// Config returns the active settings.
func (m *Manager) Config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// UpdateConfig replaces the settings. Disabling previews closes every peer.
func (m *Manager) UpdateConfig(cfg Config) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
	if !cfg.Enabled {
		m.Stop()
	}
}

// CreatePeer answers a browser's SDP offer. The offer must carry a data
// channel labelled "frames"; frames are pushed once it opens.
func (m *Manager) CreatePeer(ctx context.Context, offer string) (Answer, error) {
	cfg := m.Config()
	if !cfg.Enabled {
		return Answer{}, ErrDisabled
	}

	pcConfig := pion.Configuration{}
	if len(cfg.ICEServers) > 0 {
		pcConfig.ICEServers = []pion.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := m.api.NewPeerConnection(pcConfig)
	if err != nil {
		return Answer{}, fmt.Errorf("create peer connection: %w", err)
	}

	p := &peer{id: uuid.NewString(), pc: pc}

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != ChannelLabel {
			m.logger.Debug("Ignoring data channel", "peer_id", p.id, "label", dc.Label())
			return
		}
		dc.OnOpen(func() {
			m.logger.Debug("Preview channel open", "peer_id", p.id)
			p.setChannel(dc)
		})
		dc.OnClose(func() {
			p.setChannel(nil)
		})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		switch state {
		case pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed,
			pion.PeerConnectionStateClosed:
			m.remove(p.id, state.String())
		}
	})

	answer, err := negotiate(ctx, pc, offer)
	if err != nil {
		_ = pc.Close()
		return Answer{}, err
	}

	m.mu.Lock()
	m.peers[p.id] = p
	count := len(m.peers)
	m.mu.Unlock()

	metrics.SetPreviewPeers(count)
	m.logger.Info("Preview peer created", "peer_id", p.id, "total_peers", count)
	return Answer{PeerID: p.id, SDP: answer}, nil
}

func negotiate(ctx context.Context, pc *pion.PeerConnection, offer string) (string, error) {
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set answer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, GatherTimeout)
	defer cancel()
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("gather candidates: %w", ctx.Err())
	}
	return pc.LocalDescription().SDP, nil
}

// ClosePeer closes one peer. It reports whether the peer existed.
func (m *Manager) ClosePeer(id string) bool {
	m.mu.RLock()
	p, ok := m.peers[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	_ = p.pc.Close()
	m.remove(id, "closed")
	return true
}

func (m *Manager) remove(id, reason string) {
	m.mu.Lock()
	_, ok := m.peers[id]
	delete(m.peers, id)
	remaining := len(m.peers)
	m.mu.Unlock()
	if !ok {
		return
	}
	metrics.SetPreviewPeers(remaining)
	m.logger.Debug("Preview peer removed", "peer_id", id, "reason", reason, "remaining_peers", remaining)
}

// PeerCount returns the number of negotiated peers.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// Stop closes all peer connections.
func (m *Manager) Stop() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*peer)
	m.mu.Unlock()

	for _, p := range peers {
		_ = p.pc.Close()
	}
	metrics.SetPreviewPeers(0)
}

// Run forwards decoded frames from bus to open channels until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context, bus *events.Bus) {
	ch := make(chan any, 4)
	unsub := events.SubscribeToChannel[events.NewFrameEvent](bus, ch)
	defer unsub()
	defer m.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if frame, ok := ev.(events.NewFrameEvent); ok {
				m.handleFrame(frame, time.Now())
			}
		}
	}
}

// shouldSend applies the frame rate limit.
func (m *Manager) shouldSend(now time.Time, maxFPS int) bool {
	if maxFPS > 0 && !m.lastSent.IsZero() && now.Sub(m.lastSent) < time.Second/time.Duration(maxFPS) {
		return false
	}
	m.lastSent = now
	return true
}

func (m *Manager) handleFrame(ev events.NewFrameEvent, now time.Time) {
	cfg := m.Config()
	if !cfg.Enabled {
		return
	}
	channels := m.openChannels()
	if len(channels) == 0 || !m.shouldSend(now, cfg.MaxFPS) {
		return
	}

	var thumb []byte
	if ev.Frame != nil && cfg.ThumbnailWidth > 0 {
		var err error
		thumb, err = Thumbnail(ev.Frame, cfg.ThumbnailWidth)
		if err != nil {
			m.logger.Warn("Thumbnail encoding failed", "frame_id", ev.FrameID, "error", err)
		}
	}

	msg, err := json.Marshal(telemetryFor(ev, thumb != nil))
	if err != nil {
		m.logger.Error("Failed to marshal telemetry", "error", err)
		return
	}

	for id, dc := range channels {
		if dc.BufferedAmount() > MaxBufferedAmount {
			m.logger.Debug("Preview peer backlogged, skipping frame", "peer_id", id)
			continue
		}
		if err := dc.SendText(string(msg)); err != nil {
			m.logger.Debug("Preview send failed", "peer_id", id, "error", err)
			continue
		}
		if thumb != nil {
			if err := dc.Send(thumb); err != nil {
				m.logger.Debug("Preview thumbnail send failed", "peer_id", id, "error", err)
			}
		}
	}
}

func (m *Manager) openChannels() map[string]*pion.DataChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*pion.DataChannel, len(m.peers))
	for id, p := range m.peers {
		if dc := p.channel(); dc != nil && dc.ReadyState() == pion.DataChannelStateOpen {
			out[id] = dc
		}
	}
	return out
}

func telemetryFor(ev events.NewFrameEvent, thumbnail bool) Telemetry {
	return Telemetry{
		Type:      "frame",
		FrameID:   ev.FrameID,
		Sequence:  ev.Sequence,
		Width:     ev.Width,
		Height:    ev.Height,
		Format:    ev.Format,
		LatencyMs: ev.LatencyMs,
		DecodeMs:  ev.DecodeMs,
		Thumbnail: thumbnail,
		Timestamp: ev.Timestamp,
	}
}
