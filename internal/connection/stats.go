package connection

import (
	"fmt"
	"time"
)

// Stability thresholds.
const (
	StableSessionDuration  = 30 * time.Second
	StableMaxSessionLosses = 3
	StableFrameRecency     = 10 * time.Second
)

// Statistics is a point-in-time copy of the connection counters. Counters
// accumulate for the process lifetime and only reset on ResetStatistics.
type Statistics struct {
	SessionID               string        `json:"session_id,omitempty"`
	State                   State         `json:"state"`
	SuccessfulConnections   uint64        `json:"successful_connections"`
	FailedConnections       uint64        `json:"failed_connections"`
	SuccessfulReconnections uint64        `json:"successful_reconnections"`
	FailedReconnections     uint64        `json:"failed_reconnections"`
	ConnectionLostCount     uint64        `json:"connection_lost_count"`
	SessionLosses           uint64        `json:"session_losses"`
	ReconnectAttempts       int           `json:"reconnect_attempts"`
	FramesReceived          uint64        `json:"frames_received"`
	ReadErrors              uint64        `json:"read_errors"`
	TotalConnectedTime      time.Duration `json:"total_connected_time"`
	CurrentSessionTime      time.Duration `json:"current_session_time"`
	LastFrameAt             time.Time     `json:"last_frame_at,omitempty"`
	LastError               string        `json:"last_error,omitempty"`
	TrackedSince            time.Time     `json:"tracked_since"`
	At                      time.Time     `json:"at"`
}

// UptimePercentage is the share of tracked time spent connected.
func (s Statistics) UptimePercentage() float64 {
	tracked := s.At.Sub(s.TrackedSince)
	if tracked <= 0 {
		return 0
	}
	pct := float64(s.TotalConnectedTime+s.CurrentSessionTime) / float64(tracked) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// AverageSessionDuration is the mean connected time per successful
// connection or reconnection.
func (s Statistics) AverageSessionDuration() time.Duration {
	sessions := s.SuccessfulConnections + s.SuccessfulReconnections
	if sessions == 0 {
		return 0
	}
	return (s.TotalConnectedTime + s.CurrentSessionTime) / time.Duration(sessions)
}

// ReliabilityScore is the percentage of connection attempts that succeeded
// with each lost connection counted as a failure.
func (s Statistics) ReliabilityScore() float64 {
	ok := s.SuccessfulConnections + s.SuccessfulReconnections
	bad := s.FailedConnections + s.FailedReconnections + s.ConnectionLostCount
	if ok+bad == 0 {
		return 100
	}
	return float64(ok) / float64(ok+bad) * 100
}

// ReconnectionSuccessRate is the percentage of reconnect attempts that
// succeeded.
func (s Statistics) ReconnectionSuccessRate() float64 {
	total := s.SuccessfulReconnections + s.FailedReconnections
	if total == 0 {
		return 100
	}
	return float64(s.SuccessfulReconnections) / float64(total) * 100
}

// IsStable reports whether the current session has lasted long enough,
// survived few losses and delivered a frame recently.
func (s Statistics) IsStable() bool {
	if s.State != StateConnected {
		return false
	}
	if s.CurrentSessionTime < StableSessionDuration {
		return false
	}
	if s.SessionLosses >= StableMaxSessionLosses {
		return false
	}
	if s.LastFrameAt.IsZero() || s.At.Sub(s.LastFrameAt) >= StableFrameRecency {
		return false
	}
	return true
}

// Summary renders a one-line description for logs and the CLI.
func (s Statistics) Summary() string {
	return fmt.Sprintf(
		"state=%s uptime=%.1f%% reliability=%.1f%% connects=%d/%d reconnects=%d/%d lost=%d frames=%d stable=%t",
		s.State,
		s.UptimePercentage(),
		s.ReliabilityScore(),
		s.SuccessfulConnections, s.SuccessfulConnections+s.FailedConnections,
		s.SuccessfulReconnections, s.SuccessfulReconnections+s.FailedReconnections,
		s.ConnectionLostCount,
		s.FramesReceived,
		s.IsStable(),
	)
}

// tracker holds the mutable counters behind Statistics.
type tracker struct {
	sessionID               string
	successfulConnections   uint64
	failedConnections       uint64
	successfulReconnections uint64
	failedReconnections     uint64
	connectionLost          uint64
	sessionLosses           uint64
	framesReceived          uint64
	readErrors              uint64
	totalConnected          time.Duration
	sessionStart            time.Time
	lastFrameAt             time.Time
	lastError               string
	trackedSince            time.Time
}

func (t *tracker) startSession(now time.Time) {
	t.sessionStart = now
}

func (t *tracker) endSession(now time.Time) {
	if t.sessionStart.IsZero() {
		return
	}
	t.totalConnected += now.Sub(t.sessionStart)
	t.sessionStart = time.Time{}
}

func (t *tracker) reset(now time.Time) {
	sessionID := t.sessionID
	active := !t.sessionStart.IsZero()
	*t = tracker{sessionID: sessionID, trackedSince: now}
	if active {
		t.sessionStart = now
	}
}

func (t *tracker) snapshot(now time.Time) Statistics {
	s := Statistics{
		SessionID:               t.sessionID,
		SuccessfulConnections:   t.successfulConnections,
		FailedConnections:       t.failedConnections,
		SuccessfulReconnections: t.successfulReconnections,
		FailedReconnections:     t.failedReconnections,
		ConnectionLostCount:     t.connectionLost,
		SessionLosses:           t.sessionLosses,
		FramesReceived:          t.framesReceived,
		ReadErrors:              t.readErrors,
		TotalConnectedTime:      t.totalConnected,
		LastFrameAt:             t.lastFrameAt,
		LastError:               t.lastError,
		TrackedSince:            t.trackedSince,
		At:                      now,
	}
	if !t.sessionStart.IsZero() {
		s.CurrentSessionTime = now.Sub(t.sessionStart)
	}
	return s
}
