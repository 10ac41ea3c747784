package shm

import (
	"time"
)

// RawFrame is one frame fetched from the ring.
//
// Data normally aliases the mapping directly. Such a borrowed frame is only
// valid until the mapping is closed or the producer reuses the slot; call
// Detach before handing it to another goroutine.
type RawFrame struct {
	Header FrameHeader
	// Index is the ring position the reader asked for. In a lapped ring the
	// header's FrameID may not match it.
	Index     uint64
	Data      []byte
	Metadata  string
	ArrivedAt time.Time
	owned     bool
}

// Owned reports whether Data is a private copy rather than a view of the mapping.
func (f *RawFrame) Owned() bool {
	return f.owned
}

// Detach returns a copy of the frame whose Data no longer aliases the mapping.
func (f *RawFrame) Detach() *RawFrame {
	if f.owned {
		return f
	}
	cp := *f
	cp.Data = make([]byte, len(f.Data))
	copy(cp.Data, f.Data)
	cp.owned = true
	return &cp
}

// NewOwnedFrame builds a frame around a caller-owned payload.
func NewOwnedFrame(header FrameHeader, data []byte, arrivedAt time.Time) *RawFrame {
	return &RawFrame{
		Header:    header,
		Index:     header.FrameID,
		Data:      data,
		ArrivedAt: arrivedAt,
		owned:     true,
	}
}

// Latency is the time between producer capture and consumer arrival.
func (f *RawFrame) Latency() time.Duration {
	if f.Header.Timestamp == 0 {
		return 0
	}
	d := f.ArrivedAt.Sub(time.Unix(0, int64(f.Header.Timestamp)))
	if d < 0 {
		return 0
	}
	return d
}

// LatencyMs returns Latency in milliseconds.
func (f *RawFrame) LatencyMs() float64 {
	return float64(f.Latency()) / float64(time.Millisecond)
}

// Resolution returns the frame dimensions as "WxH".
func (f *RawFrame) Resolution() string {
	return f.Header.Resolution()
}
