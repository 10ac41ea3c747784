// Package viewer drives the frame pipeline: one ticking loop health-checks
// the connection, fetches the next frame, decodes it and publishes the
// result. Commands are applied between ticks.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/decoder"
	"github.com/smazurov/shmview/internal/events"
	"github.com/smazurov/shmview/internal/metrics"
	"github.com/smazurov/shmview/internal/shm"
)

// Loop intervals.
const (
	FrameInterval = 16 * time.Millisecond
	StatsInterval = time.Second
)

// ErrNotRunning is returned by commands issued after the loop has exited.
var ErrNotRunning = errors.New("viewer loop is not running")

// EventPublisher publishes viewer events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// State is a snapshot of the viewer for status endpoints.
type State struct {
	Connection connection.Status `json:"connection"`
	CatchUp    bool              `json:"catch_up"`
	HasFrame   bool              `json:"has_frame"`
	Frames     FrameStatistics   `json:"frames"`
	Memory     MemoryStats       `json:"memory"`
}

type command struct {
	apply func() error
	done  chan error
}

// Service is the streaming facade.
type Service struct {
	manager *connection.Manager
	bus     EventPublisher
	logger  *slog.Logger
	now     func() time.Time

	commands chan command
	running  atomic.Bool
	stopped  chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	catchUp atomic.Bool

	// cfg and dec are replaced only by the loop; readers take mu.
	mu  sync.RWMutex
	cfg Config
	dec *decoder.Decoder

	frameMu sync.RWMutex
	latest  *decoder.ProcessedFrame

	statsMu sync.Mutex
	frames  *frameTracker
	memory  MemoryStats

	// Loop-owned.
	lastState connection.State
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for statistics.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a viewer around manager. cfg must be valid.
func New(cfg Config, manager *connection.Manager, bus EventPublisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		manager:  manager,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		commands: make(chan command),
		stopped:  make(chan struct{}),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dec = s.newDecoder(cfg)
	s.frames = newFrameTracker(s.now())
	s.catchUp.Store(cfg.CatchUp)
	s.lastState = manager.Status().State
	return s
}

func (s *Service) newDecoder(cfg Config) *decoder.Decoder {
	opts := cfg.DecoderOptions()
	opts.Logger = s.logger
	return decoder.New(opts)
}

// Start runs the loop in a goroutine until Stop or ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Viewer loop exited", "error", err)
		}
	}()
}

// Stop cancels the loop started by Start and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Run drives the pipeline until ctx is cancelled. Cancellation is observed
// between ticks; a decode in progress always completes.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("viewer loop already started")
	}
	defer close(s.stopped)

	frameTicker := time.NewTicker(FrameInterval)
	defer frameTicker.Stop()
	statsTicker := time.NewTicker(StatsInterval)
	defer statsTicker.Stop()

	s.logger.Info("Viewer started", "shm_name", s.Config().ShmName, "catch_up", s.catchUp.Load())

	for {
		select {
		case <-ctx.Done():
			s.manager.Disconnect()
			s.logger.Info("Viewer stopped")
			return ctx.Err()
		case cmd := <-s.commands:
			cmd.done <- cmd.apply()
		case <-frameTicker.C:
			s.processFrameCycle()
		case <-statsTicker.C:
			s.publishStatistics()
		}
	}
}

// exec hands fn to the loop and waits for its result.
func (s *Service) exec(ctx context.Context, fn func() error) error {
	cmd := command{apply: fn, done: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect attaches to name. A non-nil cfg replaces the configuration first.
func (s *Service) Connect(ctx context.Context, name string, cfg *Config) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return s.exec(ctx, func() error { return s.connect(name, cfg) })
}

func (s *Service) connect(name string, cfg *Config) error {
	if cfg != nil {
		s.applyConfig(*cfg)
	}
	current := s.Config()
	if name == "" {
		name = current.ShmName
	}
	connCfg := current.ConnectionConfig()
	connCfg.ShmName = name

	s.logger.Info("Connecting to shared memory", "shm_name", name)
	err := s.manager.Connect(name, &connCfg)
	if err != nil {
		s.publishConnectionError(name, err, 0)
		s.noteState()
		return err
	}

	s.mu.Lock()
	s.cfg.ShmName = name
	s.mu.Unlock()
	s.statsMu.Lock()
	s.frames.resetSequence()
	s.statsMu.Unlock()
	s.publishConnected(false)
	s.noteState()
	return nil
}

// Disconnect closes the mapping and drops the latest frame.
func (s *Service) Disconnect(ctx context.Context) error {
	return s.exec(ctx, func() error {
		name := s.manager.Status().ShmName
		s.manager.Disconnect()
		s.setLatest(nil)
		s.bus.Publish(events.DisconnectedEvent{ShmName: name, Timestamp: timestamp(s.now())})
		s.noteState()
		return nil
	})
}

// SetCatchUpMode switches between sequential and newest-frame reads.
func (s *Service) SetCatchUpMode(ctx context.Context, enabled bool) error {
	return s.exec(ctx, func() error {
		s.catchUp.Store(enabled)
		s.mu.Lock()
		s.cfg.CatchUp = enabled
		s.mu.Unlock()
		s.logger.Info("Catch-up mode changed", "enabled", enabled)
		s.publishSetting("catch_up", strconv.FormatBool(enabled))
		return nil
	})
}

// UpdateConfig replaces the configuration. Changing the region name while
// connected reconnects to the new region.
func (s *Service) UpdateConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.exec(ctx, func() error {
		s.applyConfig(cfg)
		err := s.manager.UpdateConfig(cfg.ConnectionConfig())
		if err != nil {
			s.publishConnectionError(cfg.ShmName, err, 0)
		} else if s.manager.IsConnected() && s.lastState != connection.StateConnected {
			s.publishConnected(true)
		}
		s.noteState()
		s.publishSetting("config", cfg.ShmName)
		return err
	})
}

func (s *Service) applyConfig(cfg Config) {
	s.mu.Lock()
	if !cfg.decoderEqual(s.cfg) {
		s.dec = s.newDecoder(cfg)
	}
	s.cfg = cfg
	s.mu.Unlock()
	s.catchUp.Store(cfg.CatchUp)
}

// ForceReconnect resets the attempt counter and reconnects.
func (s *Service) ForceReconnect(ctx context.Context, bypassDelay bool) error {
	return s.exec(ctx, func() error {
		name := s.Config().ShmName
		err := s.manager.ForceReconnect(bypassDelay)
		if err != nil {
			if !connection.IsCode(err, connection.ErrCodeReconnectTooSoon) {
				metrics.ObserveReconnect(false)
				s.publishConnectionError(name, err, s.manager.Statistics().ReconnectAttempts)
			}
			s.noteState()
			return err
		}
		metrics.ObserveReconnect(true)
		s.statsMu.Lock()
		s.frames.resetSequence()
		s.statsMu.Unlock()
		s.publishConnected(true)
		s.noteState()
		return nil
	})
}

// ResetStatistics clears frame, decoder and connection counters.
func (s *Service) ResetStatistics(ctx context.Context) error {
	return s.exec(ctx, func() error {
		s.statsMu.Lock()
		s.frames = newFrameTracker(s.now())
		s.memory = MemoryStats{}
		s.statsMu.Unlock()
		s.currentDecoder().ResetStats()
		s.manager.ResetStatistics()
		s.logger.Info("Statistics reset")
		return nil
	})
}

// processFrameCycle runs one tick: health check or reconnect, then fetch
// and decode.
func (s *Service) processFrameCycle() {
	defer s.noteState()

	switch s.manager.Status().State {
	case connection.StateConnected:
	case connection.StateReconnecting, connection.StateError:
		s.tryReconnect()
		return
	default:
		return
	}

	if err := s.manager.CheckHealth(); err != nil {
		s.connectionLost(err)
		return
	}

	dec := s.currentDecoder()
	shmBytes := 0
	if layout, ok := s.manager.Layout(); ok {
		shmBytes = layout.RegionSize
	}
	_, err := s.manager.ReadFrame(s.catchUp.Load(), func(raw *shm.RawFrame) error {
		metrics.ObserveFrameRead()
		s.statsMu.Lock()
		s.frames.frameReceived(raw.Header.SequenceNumber, raw.ArrivedAt)
		s.statsMu.Unlock()

		frame, err := dec.Decode(raw)
		if err != nil {
			return &frameError{frameID: raw.Header.FrameID, err: err}
		}
		s.acceptFrame(frame, shmBytes)
		return nil
	})
	if err == nil {
		return
	}

	var fe *frameError
	switch {
	case errors.As(err, &fe):
		s.decodeFailed(fe)
	case connection.IsCode(err, connection.ErrCodeConnectionLost):
		metrics.ObserveReadError()
		if herr := s.manager.CheckHealth(); herr != nil {
			s.connectionLost(herr)
		}
	default:
		metrics.ObserveReadError()
		s.logger.Debug("Frame read failed", "error", err)
	}
}

func (s *Service) tryReconnect() {
	if !s.Config().AutoReconnect {
		return
	}
	err := s.manager.Reconnect()
	switch {
	case err == nil:
		if s.manager.IsConnected() {
			metrics.ObserveReconnect(true)
			s.statsMu.Lock()
			s.frames.resetSequence()
			s.statsMu.Unlock()
			s.publishConnected(true)
		}
	case connection.IsCode(err, connection.ErrCodeReconnectTooSoon):
	case connection.IsCode(err, connection.ErrCodeMaxReconnectAttempts):
		if s.lastState != connection.StateError {
			s.logger.Error("Giving up on reconnecting", "error", err)
			s.publishConnectionError(s.Config().ShmName, err, s.manager.Statistics().ReconnectAttempts)
		}
	default:
		metrics.ObserveReconnect(false)
		s.publishConnectionError(s.Config().ShmName, err, s.manager.Statistics().ReconnectAttempts)
	}
}

func (s *Service) connectionLost(err error) {
	metrics.ObserveConnectionLost()
	reason := err.Error()
	var cerr *connection.Error
	if errors.As(err, &cerr) {
		reason = cerr.Message
	}
	s.bus.Publish(events.ConnectionLostEvent{
		ShmName:   s.manager.Status().ShmName,
		Reason:    reason,
		Timestamp: timestamp(s.now()),
	})
}

// acceptFrame runs inside the read callback and must not call back into
// the manager.
func (s *Service) acceptFrame(frame *decoder.ProcessedFrame, shmBytes int) {
	metrics.ObserveDecode(frame.ProcessingTime())

	s.setLatest(frame)

	s.statsMu.Lock()
	s.frames.frameProcessed(frame.LatencyMs())
	s.memory.update(shmBytes, len(frame.Pixels))
	s.statsMu.Unlock()

	s.bus.Publish(events.NewFrameEvent{
		Frame:     frame,
		FrameID:   frame.Header.FrameID,
		Sequence:  frame.Header.SequenceNumber,
		Width:     frame.Width,
		Height:    frame.Height,
		Format:    frame.Format.String(),
		LatencyMs: frame.LatencyMs(),
		DecodeMs:  float64(frame.ProcessingTime()) / float64(time.Millisecond),
		HasMeta:   frame.Metadata != "",
		Timestamp: timestamp(frame.ProcessedAt),
	})
}

func (s *Service) decodeFailed(fe *frameError) {
	code := decoder.ErrCodeUnsupportedFormat
	var derr *decoder.Error
	if errors.As(fe.err, &derr) {
		code = derr.Code
	}
	metrics.ObserveDecodeError(code)
	s.statsMu.Lock()
	s.frames.decodeError()
	s.statsMu.Unlock()
	s.logger.Warn("Frame decode failed", "frame_id", fe.frameID, "error", fe.err)
	s.bus.Publish(events.DecodeErrorEvent{
		FrameID:   fe.frameID,
		Code:      code,
		Error:     fe.err.Error(),
		Timestamp: timestamp(s.now()),
	})
}

func (s *Service) publishStatistics() {
	now := s.now()
	s.statsMu.Lock()
	s.frames.calculateFPS(now)
	s.statsMu.Unlock()

	ev := s.statisticsEvent(now)
	metrics.SetViewerStats(ev.FPS, ev.AverageLatencyMs, ev.DroppedFrames)
	s.bus.Publish(ev)
}

// StatisticsEvent returns the current statistics without closing the FPS
// window.
func (s *Service) StatisticsEvent() events.StatisticsUpdateEvent {
	return s.statisticsEvent(s.now())
}

func (s *Service) statisticsEvent(now time.Time) events.StatisticsUpdateEvent {
	s.statsMu.Lock()
	fs := s.frames.snapshot()
	s.statsMu.Unlock()

	cs := s.manager.Statistics()
	ds := s.currentDecoder().Stats()
	return events.StatisticsUpdateEvent{
		State:               string(cs.State),
		ShmName:             s.manager.Status().ShmName,
		FPS:                 fs.CurrentFPS,
		AverageLatencyMs:    fs.AverageLatencyMs,
		TotalFrames:         fs.TotalFramesReceived,
		DroppedFrames:       fs.FramesDropped,
		DropRate:            fs.DropRatePercent(),
		DecodeErrors:        fs.DecodeErrors,
		AverageDecodeMs:     ds.AverageProcessingMs(),
		UptimePercent:       cs.UptimePercentage(),
		ReliabilityPercent:  cs.ReliabilityScore(),
		ConnectionLostCount: cs.ConnectionLostCount,
		ReconnectAttempts:   cs.ReconnectAttempts,
		Stable:              cs.IsStable(),
		Timestamp:           timestamp(now),
	}
}

func (s *Service) publishConnected(reconnect bool) {
	st := s.manager.Statistics()
	ev := events.ConnectedEvent{
		ShmName:   s.manager.Status().ShmName,
		SessionID: st.SessionID,
		Reconnect: reconnect,
		Timestamp: timestamp(s.now()),
	}
	if layout, ok := s.manager.Layout(); ok {
		ev.MaxFrames = layout.MaxFrames
		ev.FrameSlotSize = layout.FrameSlotSize
	}
	s.bus.Publish(ev)
}

func (s *Service) publishConnectionError(name string, err error, attempt int) {
	code := connection.ErrCodeConnectFailed
	var cerr *connection.Error
	if errors.As(err, &cerr) {
		code = cerr.Code
	}
	s.bus.Publish(events.ConnectionErrorEvent{
		ShmName:   name,
		Code:      code,
		Error:     err.Error(),
		Attempt:   attempt,
		Timestamp: timestamp(s.now()),
	})
}

func (s *Service) publishSetting(name, value string) {
	s.bus.Publish(events.SettingsChangedEvent{
		Setting:   name,
		Value:     value,
		Timestamp: timestamp(s.now()),
	})
}

// noteState records the connection state for metrics and transition checks.
func (s *Service) noteState() {
	state := s.manager.Status().State
	if state != s.lastState {
		s.logger.Debug("Connection state changed", "from", s.lastState, "to", state)
		s.lastState = state
	}
	metrics.SetConnectionState(state)
}

func (s *Service) setLatest(frame *decoder.ProcessedFrame) {
	s.frameMu.Lock()
	s.latest = frame
	s.frameMu.Unlock()
}

func (s *Service) currentDecoder() *decoder.Decoder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dec
}

// LatestFrame returns the most recently decoded frame, or nil.
func (s *Service) LatestFrame() *decoder.ProcessedFrame {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.latest
}

// Config returns the active configuration.
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// CatchUp reports whether catch-up mode is enabled.
func (s *Service) CatchUp() bool {
	return s.catchUp.Load()
}

// State returns a snapshot for status endpoints.
func (s *Service) State() State {
	s.statsMu.Lock()
	frames := s.frames.snapshot()
	memory := s.memory
	s.statsMu.Unlock()
	return State{
		Connection: s.manager.Status(),
		CatchUp:    s.catchUp.Load(),
		HasFrame:   s.LatestFrame() != nil,
		Frames:     frames,
		Memory:     memory,
	}
}

// FrameStatistics returns the displayed-frame counters.
func (s *Service) FrameStatistics() FrameStatistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.frames.snapshot()
}

// DecoderStats returns the decoder's counters.
func (s *Service) DecoderStats() decoder.Stats {
	return s.currentDecoder().Stats()
}

// DecoderStrategy returns the active conversion strategy and worker count.
func (s *Service) DecoderStrategy() (decoder.Strategy, int) {
	d := s.currentDecoder()
	return d.Strategy(), d.Workers()
}

// ConnectionStatistics returns the connection counters.
func (s *Service) ConnectionStatistics() connection.Statistics {
	return s.manager.Statistics()
}

// Layout returns the mapped ring layout while connected.
func (s *Service) Layout() (shm.Layout, bool) {
	return s.manager.Layout()
}

// ControlStats returns a snapshot of the producer control block.
func (s *Service) ControlStats() (shm.ControlBlock, bool) {
	return s.manager.ControlStats()
}

// Manager exposes the connection manager for read-only queries.
func (s *Service) Manager() *connection.Manager {
	return s.manager
}

// frameError carries a decode failure out of the read callback.
type frameError struct {
	frameID uint64
	err     error
}

func (e *frameError) Error() string { return e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
