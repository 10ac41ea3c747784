package decoder

import (
	"image"
	"time"

	"github.com/smazurov/shmview/internal/shm"
)

// ProcessedFrame is a decoded frame ready for display. It is immutable
// once returned by the decoder.
type ProcessedFrame struct {
	Header      shm.FrameHeader
	Index       uint64
	Width       int
	Height      int
	Format      Format
	Pixels      []byte
	Metadata    string
	ArrivedAt   time.Time
	ProcessedAt time.Time
}

// Latency is the time from producer capture to the end of decoding.
func (f *ProcessedFrame) Latency() time.Duration {
	if f.Header.Timestamp == 0 {
		return 0
	}
	d := f.ProcessedAt.Sub(time.Unix(0, int64(f.Header.Timestamp)))
	if d < 0 {
		return 0
	}
	return d
}

// LatencyMs returns Latency in milliseconds.
func (f *ProcessedFrame) LatencyMs() float64 {
	return float64(f.Latency()) / float64(time.Millisecond)
}

// ProcessingTime is the time spent between arrival and the end of decoding.
func (f *ProcessedFrame) ProcessingTime() time.Duration {
	return f.ProcessedAt.Sub(f.ArrivedAt)
}

// Resolution returns the frame dimensions as "WxH".
func (f *ProcessedFrame) Resolution() string {
	return f.Header.Resolution()
}

// Image wraps the pixel buffer without copying.
func (f *ProcessedFrame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pixels,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}
