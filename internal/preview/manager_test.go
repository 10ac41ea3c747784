package preview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/shmview/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

// browserOffer builds an offer the way a browser client would: a peer
// connection with a data channel labelled label.
func browserOffer(t *testing.T, label string) string {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.CreateDataChannel(label, nil); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	return offer.SDP
}

func TestCreatePeer(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	answer, err := m.CreatePeer(ctx, browserOffer(t, ChannelLabel))
	if err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	if answer.PeerID == "" {
		t.Error("missing peer id")
	}
	if !strings.Contains(answer.SDP, "m=application") {
		t.Errorf("answer has no data channel section:\n%s", answer.SDP)
	}
	if m.PeerCount() != 1 {
		t.Fatalf("PeerCount = %d, want 1", m.PeerCount())
	}

	if !m.ClosePeer(answer.PeerID) {
		t.Error("ClosePeer reported unknown peer")
	}
	if m.PeerCount() != 0 {
		t.Errorf("PeerCount after close = %d", m.PeerCount())
	}
	if m.ClosePeer(answer.PeerID) {
		t.Error("closing twice should report false")
	}
}

func TestCreatePeerRejectsBadOffer(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	if _, err := m.CreatePeer(context.Background(), "not an sdp"); err == nil {
		t.Fatal("expected an error for a malformed offer")
	}
	if m.PeerCount() != 0 {
		t.Errorf("failed negotiation left %d peers", m.PeerCount())
	}
}

func TestCreatePeerDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	m := newTestManager(t, cfg)
	if _, err := m.CreatePeer(context.Background(), "v=0"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestUpdateConfigDisableClosesPeers(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.CreatePeer(ctx, browserOffer(t, ChannelLabel)); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}

	cfg := m.Config()
	cfg.Enabled = false
	m.UpdateConfig(cfg)
	if m.PeerCount() != 0 {
		t.Errorf("PeerCount = %d after disabling", m.PeerCount())
	}
}

func TestShouldSend(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	start := time.Unix(100, 0)

	steps := []struct {
		offset time.Duration
		maxFPS int
		want   bool
	}{
		{0, 10, true},
		{50 * time.Millisecond, 10, false},
		{100 * time.Millisecond, 10, true},
		{110 * time.Millisecond, 0, true},
		{120 * time.Millisecond, 0, true},
	}
	for i, s := range steps {
		if got := m.shouldSend(start.Add(s.offset), s.maxFPS); got != s.want {
			t.Errorf("step %d: shouldSend = %v, want %v", i, got, s.want)
		}
	}
}

func TestTelemetryJSON(t *testing.T) {
	ev := events.NewFrameEvent{
		Frame:     testFrame(4, 4),
		FrameID:   12,
		Sequence:  40,
		Width:     4,
		Height:    4,
		Format:    "rgba",
		LatencyMs: 3.5,
		Timestamp: "2025-01-27T10:30:00Z",
	}
	data, err := json.Marshal(telemetryFor(ev, true))
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "frame" || got["frame_id"] != float64(12) || got["thumbnail"] != true {
		t.Errorf("telemetry = %s", data)
	}
}

func TestHandleFrameWithoutPeers(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	m.handleFrame(events.NewFrameEvent{Frame: testFrame(4, 4)}, time.Unix(100, 0))
	if !m.lastSent.IsZero() {
		t.Error("rate limiter advanced with nobody listening")
	}
}
