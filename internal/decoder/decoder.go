package decoder

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/shmview/internal/shm"
	"golang.org/x/sys/cpu"
)

// Strategy selects the conversion implementation.
type Strategy int

const (
	// StrategyScalar uses the per-pixel reference converters.
	StrategyScalar Strategy = iota
	// StrategyVector uses the word-parallel converters where one exists.
	StrategyVector
)

func (s Strategy) String() string {
	if s == StrategyVector {
		return "vector"
	}
	return "scalar"
}

// ParseStrategy resolves "auto", "scalar" or "vector".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return DetectStrategy(), nil
	case "scalar":
		return StrategyScalar, nil
	case "vector":
		return StrategyVector, nil
	default:
		return StrategyScalar, NewError(ErrCodeUnsupportedFormat, fmt.Sprintf("unknown strategy %q", s), nil)
	}
}

// DetectStrategy picks the vector path on CPUs with 64-bit SIMD-class
// registers and the scalar path elsewhere.
func DetectStrategy() Strategy {
	if cpu.X86.HasSSE2 || cpu.ARM64.HasASIMD {
		return StrategyVector
	}
	return StrategyScalar
}

const (
	// DefaultParallelRows is the height above which rows are split across workers.
	DefaultParallelRows = 100
	// MaxWorkers bounds the automatic worker count.
	MaxWorkers = 8
)

// Options configures a Decoder.
type Options struct {
	Strategy Strategy
	// Workers is the number of row partitions for large frames. Zero picks
	// min(NumCPU, MaxWorkers) when more than two CPUs are available.
	Workers int
	// ParallelRows is the minimum height before rows are split.
	ParallelRows int
	// Hint is used when a header carries an unrecognised format code.
	Hint   Format
	Logger *slog.Logger
}

// Stats summarises decoder activity.
type Stats struct {
	FramesProcessed     uint64        `json:"frames_processed"`
	Errors              uint64        `json:"errors"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	LastProcessingTime  time.Duration `json:"last_processing_time"`
}

// AverageProcessingMs returns the mean conversion time in milliseconds.
func (s Stats) AverageProcessingMs() float64 {
	if s.FramesProcessed == 0 {
		return 0
	}
	return float64(s.TotalProcessingTime) / float64(s.FramesProcessed) / float64(time.Millisecond)
}

// ProcessingRate returns frames converted per second of conversion time.
func (s Stats) ProcessingRate() float64 {
	if s.TotalProcessingTime <= 0 {
		return 0
	}
	return float64(s.FramesProcessed) / s.TotalProcessingTime.Seconds()
}

// Decoder converts raw frames to RGBA8. Conversion is a pure function of
// the header and payload; only the statistics are shared.
type Decoder struct {
	strategy     Strategy
	workers      int
	parallelRows int
	hint         Format
	logger       *slog.Logger

	mu    sync.Mutex
	stats Stats
	// warned tracks unrecognised codes already reported.
	warned map[uint32]bool
}

// New creates a decoder.
func New(opts Options) *Decoder {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
		if n := runtime.NumCPU(); n > 2 {
			workers = min(n, MaxWorkers)
		}
	}
	parallelRows := opts.ParallelRows
	if parallelRows <= 0 {
		parallelRows = DefaultParallelRows
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		strategy:     opts.Strategy,
		workers:      workers,
		parallelRows: parallelRows,
		hint:         opts.Hint,
		logger:       logger,
		warned:       make(map[uint32]bool),
	}
}

// Strategy returns the selected conversion strategy.
func (d *Decoder) Strategy() Strategy {
	return d.strategy
}

// Workers returns the number of row partitions used for large frames.
func (d *Decoder) Workers() int {
	return d.workers
}

// ResolveFormat picks the format for a header: the wire code first, then
// the configured hint if its pixel size matches, then a guess from bytes
// per pixel. The second result is false when nothing matched and the frame
// will be shown as grayscale.
func (d *Decoder) ResolveFormat(h shm.FrameHeader) (Format, bool) {
	if f, ok := FromCode(h.FormatCode, h.BytesPerPixel); ok {
		return f, true
	}
	if d.hint != FormatUnknown && uint32(d.hint.BytesPerPixel()) == h.BytesPerPixel {
		return d.hint, true
	}
	if f := FromBytesPerPixel(h.BytesPerPixel); f != FormatUnknown {
		return f, true
	}
	return FormatUnknown, false
}

// Decode converts raw into an owned RGBA8 frame.
func (d *Decoder) Decode(raw *shm.RawFrame) (*ProcessedFrame, error) {
	start := time.Now()
	h := raw.Header

	format, known := d.ResolveFormat(h)
	if !known {
		d.warnUnknown(h.FormatCode, h.BytesPerPixel)
	}

	pixels, err := d.convert(format, int(h.Width), int(h.Height), int(h.BytesPerPixel), raw.Data, raw.Owned())
	elapsed := time.Since(start)

	d.mu.Lock()
	if err != nil {
		d.stats.Errors++
	} else {
		d.stats.FramesProcessed++
		d.stats.TotalProcessingTime += elapsed
		d.stats.LastProcessingTime = elapsed
	}
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &ProcessedFrame{
		Header:      h,
		Index:       raw.Index,
		Width:       int(h.Width),
		Height:      int(h.Height),
		Format:      format,
		Pixels:      pixels,
		Metadata:    raw.Metadata,
		ArrivedAt:   raw.ArrivedAt,
		ProcessedAt: time.Now(),
	}, nil
}

// Convert turns data into a new RGBA8 buffer. bpp is only consulted for
// FormatUnknown.
func (d *Decoder) Convert(format Format, width, height, bpp int, data []byte) ([]byte, error) {
	return d.convert(format, width, height, bpp, data, false)
}

func (d *Decoder) convert(format Format, width, height, bpp int, data []byte, reuse bool) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, NewError(ErrCodeInvalidDimensions, fmt.Sprintf("invalid dimensions %dx%d", width, height), nil)
	}
	if width > MaxDimension || height > MaxDimension {
		return nil, NewError(ErrCodeInvalidDimensions,
			fmt.Sprintf("dimensions %dx%d exceed %d", width, height, MaxDimension), nil)
	}

	rows, bytesPerPixel := d.rowsFor(format, width, bpp)
	if rows == nil {
		return nil, NewError(ErrCodeUnsupportedFormat, fmt.Sprintf("no converter for %s", format), nil)
	}
	expected := width * height * bytesPerPixel
	if len(data) != expected {
		return nil, dataSizeError(format, expected, len(data))
	}

	// RGBA input already matches the output layout.
	if format == FormatRGBA32 && reuse {
		return data, nil
	}

	dst := make([]byte, width*height*4)
	d.run(rows, dst, data, width, height, bytesPerPixel)
	return dst, nil
}

func (d *Decoder) rowsFor(format Format, width, bpp int) (rowFunc, int) {
	if format == FormatUnknown {
		if bpp <= 0 {
			bpp = 1
		}
		return strideGrayRows, bpp
	}
	if d.strategy == StrategyVector && width%VectorWidth == 0 {
		if fn, ok := vectorRows[format]; ok {
			return fn, format.BytesPerPixel()
		}
	}
	return scalarRows[format], format.BytesPerPixel()
}

// run converts all rows, splitting them into contiguous ranges across
// workers for tall frames. Rows are independent so the only
// synchronisation is the final wait.
func (d *Decoder) run(rows rowFunc, dst, src []byte, width, height, bpp int) {
	workers := d.workers
	if height <= d.parallelRows || workers <= 1 {
		rows(dst, src, width, bpp, 0, height)
		return
	}
	workers = min(workers, height)
	chunk := (height + workers - 1) / workers

	var wg sync.WaitGroup
	for y0 := 0; y0 < height; y0 += chunk {
		y1 := min(y0+chunk, height)
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			rows(dst, src, width, bpp, y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}

func (d *Decoder) warnUnknown(code, bpp uint32) {
	d.mu.Lock()
	seen := d.warned[code]
	d.warned[code] = true
	d.mu.Unlock()
	if !seen {
		d.logger.Warn("Unrecognised pixel format, showing as grayscale",
			"format_code", fmt.Sprintf("0x%02x", code),
			"bytes_per_pixel", bpp)
	}
}

// Stats returns a copy of the running statistics.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ResetStats clears the running statistics.
func (d *Decoder) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = Stats{}
}
