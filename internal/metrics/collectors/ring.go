// Package collectors polls runtime state into the metrics package.
package collectors

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/logging"
	"github.com/smazurov/shmview/internal/metrics"
	"github.com/smazurov/shmview/internal/shm"
)

// ControlSource exposes the state a RingCollector samples.
// *connection.Manager satisfies it.
type ControlSource interface {
	Status() connection.Status
	ControlStats() (shm.ControlBlock, bool)
}

// RingCollector samples the control block and connection state of the
// active region.
type RingCollector struct {
	logger   logging.Logger
	source   ControlSource
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// last is the region whose series are currently exported.
	last string
}

// NewRingCollector creates a collector that samples source once a second.
func NewRingCollector(source ControlSource) *RingCollector {
	return &RingCollector{
		logger:   logging.GetLogger("metrics"),
		source:   source,
		interval: time.Second,
	}
}

// Start begins collecting.
func (c *RingCollector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
	return nil
}

// Stop stops the collector and removes the exported series.
func (c *RingCollector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.last != "" {
		metrics.DeleteRing(c.last)
		c.last = ""
	}
	return nil
}

func (c *RingCollector) run() {
	defer c.wg.Done()
	c.logger.Debug("Starting ring metrics collection", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *RingCollector) collect() {
	status := c.source.Status()
	metrics.SetConnectionState(status.State)

	cb, ok := c.source.ControlStats()
	if !ok || status.ShmName == "" {
		if c.last != "" {
			metrics.DeleteRing(c.last)
			c.last = ""
		}
		return
	}
	if c.last != "" && c.last != status.ShmName {
		metrics.DeleteRing(c.last)
	}
	c.last = status.ShmName
	metrics.SetRing(status.ShmName, metrics.RingMetrics{
		WriteIndex:    cb.WriteIndex,
		ReadIndex:     cb.ReadIndex,
		FrameCount:    cb.FrameCount,
		DroppedFrames: cb.DroppedFrames,
		Active:        cb.Active,
		LastWrite:     cb.LastWrite(),
	})
}
