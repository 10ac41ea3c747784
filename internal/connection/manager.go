package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/shmview/internal/shm"
)

// Mapping is an attached shared-memory region.
type Mapping interface {
	Name() string
	Bytes() []byte
	Close() error
}

// Opener attaches to the named region.
type Opener func(name string) (Mapping, error)

// DefaultOpener maps regions from /dev/shm.
func DefaultOpener(name string) (Mapping, error) {
	region, err := shm.Open(name)
	if err != nil {
		return nil, err
	}
	return region, nil
}

// Manager owns one shared-memory mapping and its lifecycle. Frame reads take
// the lock shared with status queries; connect, disconnect and reconnect
// replace the mapping under the exclusive lock.
type Manager struct {
	mu          sync.RWMutex
	cfg         *Config
	state       State
	lastErr     string
	mapping     Mapping
	layout      *shm.Layout
	reader      *shm.FrameReader
	attempts    int
	lastAttempt time.Time
	stale       bool
	resumeFrom  uint64

	// statsMu guards fields written by ReadFrame under the shared lock.
	statsMu    sync.Mutex
	readFailed bool
	stats      tracker

	opener Opener
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces the region opener, used by tests and the produce command.
func WithOpener(open Opener) Option {
	return func(m *Manager) {
		m.opener = open
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a disconnected manager.
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		state:  StateDisconnected,
		opener: DefaultOpener,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stats.trackedSince = m.now()
	return m
}

// Connect attaches to name, replacing any existing mapping. A nil cfg keeps
// the previous configuration. An explicit connect resets the attempt counter
// and starts a new session.
func (m *Manager) Connect(name string, cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := Config{}
	if cfg != nil {
		next = *cfg
	} else if m.cfg != nil {
		next = *m.cfg
	}
	if name != "" {
		next.ShmName = name
	}
	next.Policy = next.Policy.withDefaults()
	m.cfg = &next

	if next.ShmName == "" {
		return NewError(ErrCodeNoConfiguration, "no shared memory name configured", nil)
	}

	now := m.now()
	m.closeLocked(now)
	m.state = StateConnecting
	m.attempts = 0
	m.lastAttempt = now

	if err := m.openLocked(next.ShmName, false); err != nil {
		m.state = StateError
		m.lastErr = err.Error()
		m.statsMu.Lock()
		m.stats.failedConnections++
		m.stats.lastError = m.lastErr
		m.statsMu.Unlock()
		m.logger.Warn("Connect failed", "shm_name", next.ShmName, "error", err)
		return NewError(ErrCodeConnectFailed, fmt.Sprintf("failed to connect to %q", next.ShmName), err)
	}

	m.statsMu.Lock()
	m.stats.sessionID = uuid.NewString()
	m.stats.sessionLosses = 0
	m.stats.successfulConnections++
	m.statsMu.Unlock()

	m.logger.Info("Connected to shared memory",
		"shm_name", next.ShmName,
		"max_frames", m.layout.MaxFrames,
		"frame_slot_size", m.layout.FrameSlotSize,
		"region_size", m.layout.RegionSize)
	return nil
}

// Disconnect closes the mapping. It is a no-op when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisconnected && m.mapping == nil {
		return
	}
	m.closeLocked(m.now())
	m.state = StateDisconnected
	m.lastErr = ""
	m.attempts = 0
	m.logger.Info("Disconnected from shared memory")
}

// openLocked maps name and builds a reader. When resume is set and the new
// layout matches the old one, sequencing continues where it left off.
func (m *Manager) openLocked(name string, resume bool) error {
	mapping, err := m.opener(name)
	if err != nil {
		return err
	}
	layout, err := shm.ParseLayout(mapping.Bytes(), m.logger)
	if err != nil {
		_ = mapping.Close()
		return err
	}
	verbose := m.cfg != nil && m.cfg.Verbose
	reader, err := shm.NewFrameReader(mapping.Bytes(), layout, m.logger,
		shm.WithClock(m.now), shm.WithVerbose(verbose))
	if err != nil {
		_ = mapping.Close()
		return err
	}

	if resume && m.layout != nil && m.layout.Equal(layout) {
		if reader.Control().LoadWriteIndex() >= m.lastProcessed() {
			reader.Resume(m.lastProcessed())
		}
	}

	now := m.now()
	m.mapping = mapping
	m.layout = layout
	m.reader = reader
	m.state = StateConnected
	m.lastErr = ""
	m.stale = false

	m.statsMu.Lock()
	m.readFailed = false
	m.stats.startSession(now)
	m.statsMu.Unlock()
	return nil
}

// lastProcessed is kept across closeLocked so a same-session reconnect can
// resume sequencing.
func (m *Manager) lastProcessed() uint64 {
	return m.resumeFrom
}

func (m *Manager) closeLocked(now time.Time) {
	if m.reader != nil {
		m.resumeFrom = m.reader.Processed()
		m.reader.Close()
		m.reader = nil
	}
	if m.mapping != nil {
		if err := m.mapping.Close(); err != nil {
			m.logger.Warn("Failed to unmap shared memory", "error", err)
		}
		m.mapping = nil
	}
	m.statsMu.Lock()
	m.stats.endSession(now)
	m.statsMu.Unlock()
}

// ReadFrame fetches the next frame and passes it to fn while the mapping is
// held. The frame's Data borrows the mapping and must not be retained after
// fn returns. It reports whether a frame was delivered.
func (m *Manager) ReadFrame(catchUp bool, fn func(*shm.RawFrame) error) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.reader == nil || m.state != StateConnected {
		return false, NewError(ErrCodeNotConnected, "not connected", nil)
	}
	frame, err := m.reader.Next(catchUp)
	if err != nil {
		m.statsMu.Lock()
		m.stats.readErrors++
		if shm.IsReadFailure(err) {
			m.readFailed = true
		}
		m.statsMu.Unlock()
		if shm.IsReadFailure(err) {
			return false, NewError(ErrCodeConnectionLost, "frame read failed", err)
		}
		return false, err
	}
	if frame == nil {
		return false, nil
	}

	m.statsMu.Lock()
	m.stats.framesReceived++
	m.stats.lastFrameAt = frame.ArrivedAt
	m.statsMu.Unlock()

	if fn == nil {
		return true, nil
	}
	return true, fn(frame)
}

// NextFrame returns an owned copy of the next frame, or nil when nothing new
// is available.
func (m *Manager) NextFrame(catchUp bool) (*shm.RawFrame, error) {
	var out *shm.RawFrame
	_, err := m.ReadFrame(catchUp, func(f *shm.RawFrame) error {
		out = f.Detach()
		return nil
	})
	return out, err
}

// CheckHealth moves a connected manager to Reconnecting when a read failed,
// the producer cleared its active flag, or no frame arrived within the frame
// timeout. Repeated calls during the same stale period report the loss once.
// It returns the loss reason as a CONNECTION_LOST error, or nil.
func (m *Manager) CheckHealth() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected || m.reader == nil {
		return nil
	}

	now := m.now()
	m.statsMu.Lock()
	readFailed := m.readFailed
	lastFrame := m.stats.lastFrameAt
	sessionStart := m.stats.sessionStart
	m.statsMu.Unlock()

	if lastFrame.Before(sessionStart) {
		lastFrame = sessionStart
	}

	var reason string
	switch {
	case readFailed:
		reason = "frame read failed"
	case !m.reader.Control().LoadActive():
		reason = "producer inactive"
	case now.Sub(lastFrame) > m.cfg.Policy.FrameTimeout:
		reason = fmt.Sprintf("no frame for %s", now.Sub(lastFrame).Round(time.Millisecond))
	default:
		return nil
	}

	m.state = StateReconnecting
	m.lastErr = reason
	m.stale = true
	m.statsMu.Lock()
	m.stats.connectionLost++
	m.stats.sessionLosses++
	m.stats.lastError = reason
	m.stats.endSession(now)
	m.statsMu.Unlock()

	m.logger.Warn("Connection lost", "shm_name", m.cfg.ShmName, "reason", reason)
	return NewError(ErrCodeConnectionLost, reason, nil)
}

// Reconnect attempts to re-establish the mapping under the reconnect policy.
// A connected manager returns nil without touching the mapping.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectPolicyLocked()
}

// ForceReconnect resets the attempt counter and reconnects, replacing a live
// mapping too. The reconnect delay still applies unless bypassDelay is set.
func (m *Manager) ForceReconnect(bypassDelay bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg == nil || m.cfg.ShmName == "" {
		return NewError(ErrCodeNoConfiguration, "no shared memory name configured", nil)
	}
	now := m.now()
	if !bypassDelay {
		if err := m.checkDelayLocked(now); err != nil {
			return err
		}
	}
	m.attempts = 0
	if m.state == StateConnected {
		m.state = StateReconnecting
		m.stale = true
	}
	return m.reconnectLocked(now)
}

func (m *Manager) checkDelayLocked(now time.Time) error {
	if m.lastAttempt.IsZero() {
		return nil
	}
	if wait := m.cfg.Policy.ReconnectDelay - now.Sub(m.lastAttempt); wait > 0 {
		return NewError(ErrCodeReconnectTooSoon,
			fmt.Sprintf("next attempt allowed in %s", wait.Round(time.Millisecond)), nil)
	}
	return nil
}

func (m *Manager) reconnectPolicyLocked() error {
	if m.state == StateConnected {
		return nil
	}
	if m.cfg == nil || m.cfg.ShmName == "" {
		return NewError(ErrCodeNoConfiguration, "no shared memory name configured", nil)
	}

	now := m.now()
	if err := m.checkDelayLocked(now); err != nil {
		return err
	}
	if m.attempts >= m.cfg.Policy.MaxReconnectAttempts {
		m.state = StateError
		m.lastErr = fmt.Sprintf("gave up after %d reconnect attempts", m.attempts)
		return NewError(ErrCodeMaxReconnectAttempts, m.lastErr, nil)
	}
	return m.reconnectLocked(now)
}

func (m *Manager) reconnectLocked(now time.Time) error {
	m.attempts++
	m.lastAttempt = now
	sameSession := m.stale
	m.closeLocked(now)

	if err := m.openLocked(m.cfg.ShmName, sameSession); err != nil {
		m.lastErr = err.Error()
		m.statsMu.Lock()
		m.stats.failedReconnections++
		m.stats.lastError = m.lastErr
		m.statsMu.Unlock()

		if m.attempts >= m.cfg.Policy.MaxReconnectAttempts {
			m.state = StateError
		} else {
			m.state = StateReconnecting
		}
		m.logger.Debug("Reconnect attempt failed",
			"shm_name", m.cfg.ShmName,
			"attempt", m.attempts,
			"max_attempts", m.cfg.Policy.MaxReconnectAttempts,
			"error", err)
		return NewError(ErrCodeReconnectFailed,
			fmt.Sprintf("reconnect attempt %d/%d failed", m.attempts, m.cfg.Policy.MaxReconnectAttempts), err)
	}

	m.logger.Info("Reconnected to shared memory", "shm_name", m.cfg.ShmName, "attempts", m.attempts)
	m.attempts = 0
	m.statsMu.Lock()
	m.stats.successfulReconnections++
	m.statsMu.Unlock()
	return nil
}

// UpdateConfig replaces the configuration. A name change on a live or
// recovering connection triggers an immediate reconnect to the new region.
func (m *Manager) UpdateConfig(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg.Policy = cfg.Policy.withDefaults()
	prev := m.cfg
	m.cfg = &cfg

	if prev == nil || prev.ShmName == cfg.ShmName {
		return nil
	}
	if m.state != StateConnected && m.state != StateReconnecting {
		return nil
	}

	m.logger.Info("Shared memory name changed", "from", prev.ShmName, "to", cfg.ShmName)
	m.attempts = 0
	m.stale = false
	m.resumeFrom = 0
	if m.state == StateConnected {
		m.state = StateReconnecting
	}
	return m.reconnectLocked(m.now())
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{State: m.state, Error: m.lastErr}
	if m.cfg != nil {
		st.ShmName = m.cfg.ShmName
	}
	return st
}

// IsConnected reports whether a mapping is live.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// Config returns a copy of the active configuration.
func (m *Manager) Config() (Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return Config{}, false
	}
	return *m.cfg, true
}

// Layout returns a copy of the connected region's layout.
func (m *Manager) Layout() (shm.Layout, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.layout == nil || m.state != StateConnected {
		return shm.Layout{}, false
	}
	return *m.layout, true
}

// ControlStats snapshots the producer's control block.
func (m *Manager) ControlStats() (shm.ControlBlock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reader == nil || m.state != StateConnected {
		return shm.ControlBlock{}, false
	}
	return m.reader.Control().Snapshot(), true
}

// Statistics returns the accumulated connection statistics.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	state := m.state
	attempts := m.attempts
	m.mu.RUnlock()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	s := m.stats.snapshot(m.now())
	s.State = state
	s.ReconnectAttempts = attempts
	return s
}

// ResetStatistics clears accumulated counters. The session ID and an active
// session's start are kept.
func (m *Manager) ResetStatistics() {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.reset(m.now())
}
