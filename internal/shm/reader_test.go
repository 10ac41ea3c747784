package shm

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func rgbaFrame(width, height int, fill byte) ProducedFrame {
	data := make([]byte, width*height*4)
	for i := range data {
		data[i] = fill
	}
	return ProducedFrame{
		Width:         uint32(width),
		Height:        uint32(height),
		BytesPerPixel: 4,
		FormatCode:    0x06,
		Data:          data,
	}
}

func newReader(t *testing.T, buf []byte, opts ...ReaderOption) *FrameReader {
	t.Helper()
	layout, err := ParseLayout(buf, testLogger())
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	r, err := NewFrameReader(buf, layout, testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewFrameReader: %v", err)
	}
	return r
}

func TestFrameReaderSequentialRoundTrip(t *testing.T) {
	const w, h = 4, 2
	buf, p := newRing(t, SlotSizeFor(w, h, 4, 0), 8)
	for i := 0; i < 5; i++ {
		if _, err := p.WriteFrame(rgbaFrame(w, h, byte(i))); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}

	r := newReader(t, buf)
	for want := uint64(0); want < 5; want++ {
		frame, err := r.Next(false)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if frame == nil {
			t.Fatalf("expected frame %d, got none", want)
		}
		if frame.Header.FrameID != want {
			t.Errorf("FrameID = %d, want %d", frame.Header.FrameID, want)
		}
		if frame.Header.DataSize != w*h*4 {
			t.Errorf("DataSize = %d, want %d", frame.Header.DataSize, w*h*4)
		}
		if frame.Data[0] != byte(want) {
			t.Errorf("payload byte = %d, want %d", frame.Data[0], want)
		}
	}

	frame, err := r.Next(false)
	if err != nil || frame != nil {
		t.Fatalf("expected no new frame once caught up, got %v, %v", frame, err)
	}

	cb := r.Control().Snapshot()
	if cb.ReadIndex != 5 {
		t.Errorf("ReadIndex = %d, want 5", cb.ReadIndex)
	}
	if cb.TotalFramesRead != 5 {
		t.Errorf("TotalFramesRead = %d, want 5", cb.TotalFramesRead)
	}
	if cb.FrameCount != 0 {
		t.Errorf("FrameCount = %d, want 0", cb.FrameCount)
	}
}

func TestFrameReaderCatchUp(t *testing.T) {
	const w, h = 2, 2
	buf, p := newRing(t, SlotSizeFor(w, h, 4, 0), 8)
	const n = 6
	for i := 0; i < n; i++ {
		if _, err := p.WriteFrame(rgbaFrame(w, h, byte(i))); err != nil {
			t.Fatal(err)
		}
	}

	r := newReader(t, buf)
	before := r.Control().Snapshot().TotalFramesRead

	frame, err := r.Next(true)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if frame == nil || frame.Header.FrameID != n-1 {
		t.Fatalf("expected newest frame %d, got %+v", n-1, frame)
	}
	if got := r.Control().Snapshot().TotalFramesRead - before; got != 1 {
		t.Errorf("TotalFramesRead advanced by %d, want 1", got)
	}
	if r.Processed() != n {
		t.Errorf("Processed = %d, want %d", r.Processed(), n)
	}

	frame, err = r.Next(true)
	if err != nil || frame != nil {
		t.Errorf("expected no new frame, got %v, %v", frame, err)
	}
}

func TestFrameReaderSequentialOrderingNonDecreasing(t *testing.T) {
	const w, h = 2, 1
	buf, p := newRing(t, SlotSizeFor(w, h, 4, 0), 4)
	r := newReader(t, buf)

	var last uint64
	seen := 0
	for round := 0; round < 10; round++ {
		if _, err := p.WriteFrame(rgbaFrame(w, h, 1)); err != nil {
			t.Fatal(err)
		}
		for {
			frame, err := r.Next(false)
			if err != nil {
				t.Fatal(err)
			}
			if frame == nil {
				break
			}
			if seen > 0 && frame.Header.SequenceNumber < last {
				t.Fatalf("sequence went backwards: %d after %d", frame.Header.SequenceNumber, last)
			}
			last = frame.Header.SequenceNumber
			seen++
		}
	}
	if seen != 10 {
		t.Errorf("read %d frames, want 10", seen)
	}
}

func TestFrameReaderSkipsIncompleteHeader(t *testing.T) {
	buf, p := newRing(t, SlotSizeFor(2, 2, 4, 0), 4)

	// Slot 0 is published with a zero width, as if caught mid-write.
	if err := p.WriteSlot(0, FrameHeader{FrameID: 0, Height: 2, DataSize: 16}, make([]byte, 16), ""); err != nil {
		t.Fatal(err)
	}
	p.Publish(0)
	if _, err := p.WriteFrame(rgbaFrame(2, 2, 9)); err != nil {
		t.Fatal(err)
	}

	r := newReader(t, buf)
	frame, err := r.Next(false)
	if err != nil {
		t.Fatalf("incomplete header should not be an error, got %v", err)
	}
	if frame != nil {
		t.Fatalf("expected no frame for incomplete header, got %+v", frame)
	}
	if r.Processed() != 1 {
		t.Errorf("Processed = %d, want 1", r.Processed())
	}

	frame, err = r.Next(false)
	if err != nil || frame == nil {
		t.Fatalf("expected frame 1, got %v, %v", frame, err)
	}
	if frame.Header.FrameID != 1 {
		t.Errorf("FrameID = %d, want 1", frame.Header.FrameID)
	}
}

func TestFrameReaderPayloadOutOfBounds(t *testing.T) {
	buf, p := newRing(t, 512, 2)

	// Header in the last slot claims more bytes than the region holds.
	layout := p.Layout()
	if err := WriteFrameHeader(buf, layout.SlotOffset(1), FrameHeader{
		FrameID: 1, Width: 100, Height: 100, BytesPerPixel: 4, DataSize: 40000,
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteSlot(0, FrameHeader{FrameID: 0, Width: 1, Height: 1, DataSize: 4}, make([]byte, 4), ""); err != nil {
		t.Fatal(err)
	}
	p.Publish(0)
	p.Publish(1)

	r := newReader(t, buf)
	if _, err := r.Next(false); err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	_, err := r.Next(false)
	if !IsCode(err, ErrCodeInvalidFrameSize) {
		t.Fatalf("expected %s, got %v", ErrCodeInvalidFrameSize, err)
	}
	if !IsReadFailure(err) {
		t.Error("expected payload overflow to count as a read failure")
	}
	if _, errs := r.Counters(); errs != 1 {
		t.Errorf("error count = %d, want 1", errs)
	}
}

func TestFrameReaderFrameMetadata(t *testing.T) {
	buf, p := newRing(t, SlotSizeFor(2, 2, 4, 128), 2)
	f := rgbaFrame(2, 2, 3)
	f.Metadata = `{"gain":42}`
	if _, err := p.WriteFrame(f); err != nil {
		t.Fatal(err)
	}

	r := newReader(t, buf)
	frame, err := r.Next(false)
	if err != nil || frame == nil {
		t.Fatalf("Next: %v, %v", frame, err)
	}
	if frame.Metadata != `{"gain":42}` {
		t.Errorf("Metadata = %q", frame.Metadata)
	}
}

func TestFrameReaderArrivalAndLatency(t *testing.T) {
	buf, p := newRing(t, SlotSizeFor(2, 2, 4, 0), 2)
	produced := time.Unix(1700000000, 0)
	p.SetClock(func() time.Time { return produced })
	if _, err := p.WriteFrame(rgbaFrame(2, 2, 0)); err != nil {
		t.Fatal(err)
	}

	arrived := produced.Add(25 * time.Millisecond)
	r := newReader(t, buf, WithClock(func() time.Time { return arrived }))
	frame, err := r.Next(false)
	if err != nil || frame == nil {
		t.Fatalf("Next: %v, %v", frame, err)
	}
	if frame.LatencyMs() != 25 {
		t.Errorf("LatencyMs = %v, want 25", frame.LatencyMs())
	}
	if frame.Resolution() != "2x2" {
		t.Errorf("Resolution = %q, want 2x2", frame.Resolution())
	}
	if got := r.Control().Snapshot().LastReadTime; got != uint64(arrived.UnixNano()) {
		t.Errorf("LastReadTime = %d, want %d", got, arrived.UnixNano())
	}
}

func TestFrameReaderClosed(t *testing.T) {
	buf, _ := newRing(t, 512, 2)
	r := newReader(t, buf)
	r.Close()

	_, err := r.Next(false)
	if !IsCode(err, ErrCodeNotConnected) {
		t.Fatalf("expected %s, got %v", ErrCodeNotConnected, err)
	}
}

// The ring has no per-slot generation tag. These tests pin down the
// resulting torn-read behaviour so it stays visible.
func TestFrameReaderTornReadGap(t *testing.T) {
	const w, h = 2, 2

	t.Run("borrowed view sees overwrite", func(t *testing.T) {
		buf, p := newRing(t, SlotSizeFor(w, h, 4, 0), 2)
		if _, err := p.WriteFrame(rgbaFrame(w, h, 0xAA)); err != nil {
			t.Fatal(err)
		}
		r := newReader(t, buf)
		frame, err := r.Next(false)
		if err != nil || frame == nil {
			t.Fatalf("Next: %v, %v", frame, err)
		}
		owned := frame.Detach()

		// Producer laps the ring and reuses slot 0 while the view is held.
		for i := 0; i < 2; i++ {
			if _, err := p.WriteFrame(rgbaFrame(w, h, 0xBB)); err != nil {
				t.Fatal(err)
			}
		}

		if frame.Data[0] != 0xBB {
			t.Errorf("borrowed view byte = %#x, want overwritten 0xbb", frame.Data[0])
		}
		if !bytes.Equal(owned.Data, bytes.Repeat([]byte{0xAA}, w*h*4)) {
			t.Error("detached copy changed after overwrite")
		}
	})

	t.Run("lapped sequential read returns newer frame", func(t *testing.T) {
		buf, p := newRing(t, SlotSizeFor(w, h, 4, 0), 2)
		r := newReader(t, buf)
		if _, err := p.WriteFrame(rgbaFrame(w, h, 0)); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Next(false); err != nil {
			t.Fatal(err)
		}
		// Producer runs 4 frames ahead of a 2-slot ring.
		for i := 1; i <= 4; i++ {
			if _, err := p.WriteFrame(rgbaFrame(w, h, byte(i))); err != nil {
				t.Fatal(err)
			}
		}

		frame, err := r.Next(false)
		if err != nil || frame == nil {
			t.Fatalf("Next: %v, %v", frame, err)
		}
		if frame.Index != 1 {
			t.Fatalf("Index = %d, want 1", frame.Index)
		}
		// Slot 1 now holds frame 3; nothing in the protocol flags it.
		if frame.Header.FrameID != 3 {
			t.Errorf("FrameID = %d, want 3 from the lapped slot", frame.Header.FrameID)
		}
	})
}

func TestProducerRejectsOversizedFrame(t *testing.T) {
	_, p := newRing(t, 128, 2)
	_, err := p.WriteFrame(rgbaFrame(8, 8, 0))
	if !IsCode(err, ErrCodeInvalidFrameSize) {
		t.Fatalf("expected %s, got %v", ErrCodeInvalidFrameSize, err)
	}
}

func TestProducerDropAccounting(t *testing.T) {
	buf, p := newRing(t, SlotSizeFor(1, 1, 4, 0), 2)
	for i := 0; i < 5; i++ {
		if _, err := p.WriteFrame(rgbaFrame(1, 1, 0)); err != nil {
			t.Fatal(err)
		}
	}
	c, err := NewControlChannel(buf)
	if err != nil {
		t.Fatal(err)
	}
	cb := c.Snapshot()
	if cb.WriteIndex != 5 || cb.TotalFramesWritten != 5 {
		t.Errorf("write index/total = %d/%d, want 5/5", cb.WriteIndex, cb.TotalFramesWritten)
	}
	if cb.FrameCount != 2 {
		t.Errorf("FrameCount = %d, want 2", cb.FrameCount)
	}
	if cb.DroppedFrames != 3 {
		t.Errorf("DroppedFrames = %d, want 3", cb.DroppedFrames)
	}
	if !cb.Active {
		t.Error("expected producer to mark region active")
	}

	p.SetActive(false)
	if c.LoadActive() {
		t.Error("expected active flag cleared")
	}
}

func TestFrameReaderTracesPerDeliveredFrame(t *testing.T) {
	const w, h = 2, 2
	buf, p := newRing(t, SlotSizeFor(w, h, 4, 0), 4)
	layout, err := ParseLayout(buf, testLogger())
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r, err := NewFrameReader(buf, layout, logger, WithVerbose(true))
	if err != nil {
		t.Fatalf("NewFrameReader: %v", err)
	}
	traces := func() int { return strings.Count(out.String(), "Control block") }

	for range 100 {
		if frame, err := r.Next(false); frame != nil || err != nil {
			t.Fatalf("idle Next = %v, %v", frame, err)
		}
	}
	if got := traces(); got != 0 {
		t.Fatalf("idle reader traced %d times", got)
	}

	deliver := func(n int) {
		t.Helper()
		for range n {
			if _, err := p.WriteFrame(rgbaFrame(w, h, 1)); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}
			if frame, err := r.Next(false); frame == nil || err != nil {
				t.Fatalf("Next = %v, %v", frame, err)
			}
		}
	}

	deliver(1)
	if got := traces(); got != 1 {
		t.Fatalf("after first frame traced %d times, want 1", got)
	}
	for range 100 {
		_, _ = r.Next(false)
	}
	if got := traces(); got != 1 {
		t.Fatalf("idle reader traced again, %d times", got)
	}
	deliver(60)
	if got := traces(); got != 2 {
		t.Errorf("after 61 frames traced %d times, want 2", got)
	}
}
