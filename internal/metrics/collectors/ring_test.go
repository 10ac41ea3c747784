package collectors

import (
	"sync"
	"testing"

	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/logging"
	"github.com/smazurov/shmview/internal/metrics"
	"github.com/smazurov/shmview/internal/shm"
)

type fakeSource struct {
	mu     sync.Mutex
	status connection.Status
	cb     shm.ControlBlock
	ok     bool
}

func (f *fakeSource) Status() connection.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) ControlStats() (shm.ControlBlock, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb, f.ok
}

func newTestCollector(src ControlSource) *RingCollector {
	return &RingCollector{logger: logging.GetLogger("metrics"), source: src}
}

func TestRingCollectorCollect(t *testing.T) {
	src := &fakeSource{
		status: connection.Status{State: connection.StateConnected, ShmName: "collector-ring"},
		cb:     shm.ControlBlock{WriteIndex: 12, ReadIndex: 11, FrameCount: 1, Active: true},
		ok:     true,
	}
	c := newTestCollector(src)
	c.collect()

	m := metrics.GetRing("collector-ring")
	if m == nil {
		t.Fatal("expected ring metrics after collect")
	}
	if m.WriteIndex != 12 || m.ReadIndex != 11 || !m.Active {
		t.Errorf("ring metrics = %+v", m)
	}

	src.mu.Lock()
	src.status = connection.Status{State: connection.StateReconnecting, ShmName: "collector-ring"}
	src.ok = false
	src.mu.Unlock()
	c.collect()

	if metrics.GetRing("collector-ring") != nil {
		t.Error("ring metrics should be removed once the region is gone")
	}
}

func TestRingCollectorRename(t *testing.T) {
	src := &fakeSource{
		status: connection.Status{State: connection.StateConnected, ShmName: "ring-old"},
		ok:     true,
	}
	c := newTestCollector(src)
	c.collect()

	src.mu.Lock()
	src.status.ShmName = "ring-new"
	src.mu.Unlock()
	c.collect()

	if metrics.GetRing("ring-old") != nil {
		t.Error("old region series not removed")
	}
	if metrics.GetRing("ring-new") == nil {
		t.Error("new region series missing")
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if metrics.GetRing("ring-new") != nil {
		t.Error("Stop should remove exported series")
	}
}
