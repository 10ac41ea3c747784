package viewer

import (
	"fmt"
	"time"

	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/decoder"
	"github.com/smazurov/shmview/internal/shm"
)

// Configuration defaults.
const (
	DefaultShmName = "ultrasound_frames"
	DefaultFormat  = "yuv"
	DefaultWidth   = 1024
	DefaultHeight  = 768

	MinReconnectDelay = time.Millisecond
	MaxReconnectDelay = 60 * time.Second
	MaxDecoderThreads = 32
)

// Config is the viewer's runtime configuration.
type Config struct {
	ShmName              string        `json:"shm_name"`
	Format               string        `json:"format"`
	Width                int           `json:"width"`
	Height               int           `json:"height"`
	CatchUp              bool          `json:"catch_up"`
	Verbose              bool          `json:"verbose"`
	AutoReconnect        bool          `json:"auto_reconnect"`
	ReconnectDelay       time.Duration `json:"reconnect_delay"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	FrameTimeout         time.Duration `json:"frame_timeout"`
	DecoderThreads       int           `json:"decoder_threads"`
	DecoderStrategy      string        `json:"decoder_strategy"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		ShmName:              DefaultShmName,
		Format:               DefaultFormat,
		Width:                DefaultWidth,
		Height:               DefaultHeight,
		AutoReconnect:        true,
		ReconnectDelay:       connection.DefaultReconnectDelay,
		MaxReconnectAttempts: connection.DefaultMaxReconnectAttempts,
		FrameTimeout:         connection.DefaultFrameTimeout,
		DecoderStrategy:      "auto",
	}
}

// Validate checks every field and returns the first problem found.
func (c Config) Validate() error {
	if err := shm.ValidateName(c.ShmName); err != nil {
		return err
	}
	if _, err := decoder.ParseFormat(c.Format); err != nil {
		return err
	}
	if err := decoder.ValidateDimensions(c.Width, c.Height); err != nil {
		return err
	}
	if c.ReconnectDelay < MinReconnectDelay || c.ReconnectDelay > MaxReconnectDelay {
		return invalid("reconnect_delay", "%s outside [%s, %s]", c.ReconnectDelay, MinReconnectDelay, MaxReconnectDelay)
	}
	if c.MaxReconnectAttempts < 1 {
		return invalid("max_reconnect_attempts", "must be positive, got %d", c.MaxReconnectAttempts)
	}
	if c.FrameTimeout <= 0 {
		return invalid("frame_timeout", "must be positive, got %s", c.FrameTimeout)
	}
	if c.DecoderThreads < 0 || c.DecoderThreads > MaxDecoderThreads {
		return invalid("decoder_threads", "%d outside [0, %d]", c.DecoderThreads, MaxDecoderThreads)
	}
	if _, err := decoder.ParseStrategy(c.DecoderStrategy); err != nil {
		return err
	}
	return nil
}

// ValidationError reports an out-of-range configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConnectionConfig derives the connection manager configuration.
func (c Config) ConnectionConfig() connection.Config {
	return connection.Config{
		ShmName: c.ShmName,
		Policy: connection.Policy{
			ReconnectDelay:       c.ReconnectDelay,
			MaxReconnectAttempts: c.MaxReconnectAttempts,
			FrameTimeout:         c.FrameTimeout,
		},
		Verbose: c.Verbose,
	}
}

// DecoderOptions derives decoder options. Config must be valid.
func (c Config) DecoderOptions() decoder.Options {
	hint, _ := decoder.ParseFormat(c.Format)
	strategy, _ := decoder.ParseStrategy(c.DecoderStrategy)
	return decoder.Options{
		Strategy: strategy,
		Workers:  c.DecoderThreads,
		Hint:     hint,
	}
}

func (c Config) decoderEqual(o Config) bool {
	return c.Format == o.Format && c.DecoderThreads == o.DecoderThreads && c.DecoderStrategy == o.DecoderStrategy
}
