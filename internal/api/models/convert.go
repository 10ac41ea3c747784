package models

import (
	"time"

	"github.com/smazurov/shmview/internal/supervisor"
	"github.com/smazurov/shmview/internal/viewer"
)

// ConfigFromViewer converts the runtime configuration to its API shape.
func ConfigFromViewer(c viewer.Config) ConfigData {
	return ConfigData{
		ShmName:              c.ShmName,
		Format:               c.Format,
		Width:                c.Width,
		Height:               c.Height,
		CatchUp:              c.CatchUp,
		Verbose:              c.Verbose,
		AutoReconnect:        c.AutoReconnect,
		ReconnectDelayMs:     c.ReconnectDelay.Milliseconds(),
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		FrameTimeoutMs:       c.FrameTimeout.Milliseconds(),
		DecoderThreads:       c.DecoderThreads,
		DecoderStrategy:      c.DecoderStrategy,
	}
}

// ToViewer converts d back to the runtime configuration.
func (d ConfigData) ToViewer() viewer.Config {
	return viewer.Config{
		ShmName:              d.ShmName,
		Format:               d.Format,
		Width:                d.Width,
		Height:               d.Height,
		CatchUp:              d.CatchUp,
		Verbose:              d.Verbose,
		AutoReconnect:        d.AutoReconnect,
		ReconnectDelay:       time.Duration(d.ReconnectDelayMs) * time.Millisecond,
		MaxReconnectAttempts: d.MaxReconnectAttempts,
		FrameTimeout:         time.Duration(d.FrameTimeoutMs) * time.Millisecond,
		DecoderThreads:       d.DecoderThreads,
		DecoderStrategy:      d.DecoderStrategy,
	}
}

// ProducerFromInfo converts a supervisor snapshot to its API shape.
func ProducerFromInfo(i supervisor.Info) ProducerData {
	return ProducerData{
		Command:      i.Command,
		State:        string(i.State),
		PID:          i.PID,
		StartedAt:    i.StartedAt,
		Restarts:     i.Restarts,
		LastExitCode: i.LastExitCode,
		LastError:    i.LastError,
	}
}
