package shm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// FrameReader fetches frames from a mapped ring.
//
// Slots carry no generation tag. A producer that laps the reader by more
// than MaxFrames slots can overwrite a slot while it is being read, so a
// returned frame may be torn; the header check does not reliably catch this.
// Catch-up mode is the mitigation for slow consumers.
type FrameReader struct {
	mu      sync.Mutex
	buf     []byte
	layout  *Layout
	control *ControlChannel
	// processed is one past the last consumed frame index, the same
	// convention the producer uses for write_index.
	processed uint64
	frames    uint64
	errors    uint64
	now       func() time.Time
	verbose   bool
	logger    *slog.Logger
}

// ReaderOption configures a FrameReader.
type ReaderOption func(*FrameReader)

// WithClock overrides the arrival-time source.
func WithClock(now func() time.Time) ReaderOption {
	return func(r *FrameReader) {
		r.now = now
	}
}

// WithVerbose enables periodic control block tracing.
func WithVerbose(verbose bool) ReaderOption {
	return func(r *FrameReader) {
		r.verbose = verbose
	}
}

// NewFrameReader creates a reader over buf using a previously parsed layout.
func NewFrameReader(buf []byte, layout *Layout, logger *slog.Logger, opts ...ReaderOption) (*FrameReader, error) {
	if layout == nil {
		return nil, NewError(ErrCodeInvalidLayout, "layout is required", nil)
	}
	if layout.RequiredSize() > len(buf) {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("layout needs %d bytes, region has %d", layout.RequiredSize(), len(buf)), nil)
	}
	control, err := NewControlChannel(buf)
	if err != nil {
		return nil, err
	}
	r := &FrameReader{
		buf:     buf,
		layout:  layout,
		control: control,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Next returns the next frame to display, or nil with a nil error when
// nothing new has been published.
//
// In sequential mode frames are returned in ring order. In catch-up mode the
// newest published frame is returned and any backlog is skipped.
func (r *FrameReader) Next(catchUp bool) (*RawFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf == nil {
		return nil, NewError(ErrCodeNotConnected, "reader is closed", nil)
	}

	writeIndex := r.control.LoadWriteIndex()
	if writeIndex <= r.processed {
		return nil, nil
	}

	index := r.processed
	if catchUp {
		index = writeIndex - 1
	}

	offset := r.layout.SlotOffset(index)
	if offset >= len(r.buf) {
		r.errors++
		return nil, NewError(ErrCodeInvalidFrameOffset,
			fmt.Sprintf("slot offset %d outside region of %d bytes", offset, len(r.buf)), nil)
	}
	header, err := ReadFrameHeader(r.buf, offset)
	if err != nil {
		r.errors++
		return nil, err
	}

	if !header.Valid() {
		if r.verbose {
			r.logger.Debug("Skipping slot with incomplete header",
				"index", index,
				"offset", offset,
				"width", header.Width,
				"height", header.Height,
				"data_size", header.DataSize)
		}
		r.processed = index + 1
		return nil, nil
	}

	start := offset + FrameHeaderSize
	end := start + int(header.DataSize)
	if end > len(r.buf) {
		r.errors++
		return nil, NewError(ErrCodeInvalidFrameSize,
			fmt.Sprintf("payload [%d, %d) exceeds region of %d bytes", start, end, len(r.buf)), nil)
	}

	now := r.now()
	frame := &RawFrame{
		Header:    header,
		Index:     index,
		Data:      r.buf[start:end:end],
		Metadata:  r.frameMetadata(offset, header),
		ArrivedAt: now,
	}

	r.processed = index + 1
	r.frames++
	r.control.AdvanceRead(index, uint64(now.UnixNano()))
	if r.verbose && r.frames%60 == 1 {
		r.traceControl()
	}
	return frame, nil
}

// traceControl logs the control block on the first delivered frame and
// every 60th after it.
func (r *FrameReader) traceControl() {
	cb := r.control.Snapshot()
	r.logger.Debug("Control block",
		"frames", r.frames,
		"write_index", cb.WriteIndex,
		"read_index", cb.ReadIndex,
		"frame_count", cb.FrameCount,
		"active", cb.Active)
}

// frameMetadata returns the optional per-frame JSON side channel.
func (r *FrameReader) frameMetadata(offset int, h FrameHeader) string {
	if h.MetadataSize == 0 {
		return ""
	}
	start := offset + int(h.MetadataOffset)
	end := start + int(h.MetadataSize)
	if h.MetadataOffset < FrameHeaderSize || end > len(r.buf) {
		return ""
	}
	raw := r.buf[start:end]
	for i, b := range raw {
		if b == 0 {
			raw = raw[:i]
			break
		}
	}
	if !utf8.Valid(raw) {
		return ""
	}
	return string(raw)
}

// Processed returns one past the index of the last consumed frame.
func (r *FrameReader) Processed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed
}

// Resume continues sequencing from processed, used when a reconnect lands
// on the same producer session.
func (r *FrameReader) Resume(processed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = processed
}

// Reset restarts sequencing from the first frame.
func (r *FrameReader) Reset() {
	r.Resume(0)
}

// Control returns the control channel of the mapped region.
func (r *FrameReader) Control() *ControlChannel {
	return r.control
}

// Layout returns the layout the reader was built with.
func (r *FrameReader) Layout() *Layout {
	return r.layout
}

// Counters returns the number of frames read and read errors seen.
func (r *FrameReader) Counters() (frames, errors uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames, r.errors
}

// Close detaches the reader from the mapping. Later calls to Next fail
// with ErrCodeNotConnected.
func (r *FrameReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
}
