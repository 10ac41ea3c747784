package shm

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRing builds an in-memory ring with a producer already attached.
func newRing(t *testing.T, slotSize, maxFrames int) ([]byte, *Producer) {
	t.Helper()
	cfg := ProducerConfig{FrameSlotSize: slotSize, MaxFrames: maxFrames}
	buf := AlignedBuffer(cfg.RegionSize())
	p, err := NewProducer(buf, cfg)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	return buf, p
}

func writeRawMetadata(t *testing.T, buf []byte, doc string) {
	t.Helper()
	area := buf[ControlBlockSize : ControlBlockSize+DefaultMetadataAreaSize]
	clear(area)
	copy(area, doc)
	c, err := NewControlChannel(buf)
	if err != nil {
		t.Fatalf("NewControlChannel: %v", err)
	}
	c.setMetadataLocation(ControlBlockSize, DefaultMetadataAreaSize)
}

func TestParseLayoutRegionTooSmall(t *testing.T) {
	sizes := []int{0, 1, 64, ControlBlockSize - 1}
	for _, size := range sizes {
		var buf []byte
		if size > 0 {
			buf = AlignedBuffer(size)
		}
		_, err := ParseLayout(buf, testLogger())
		if !IsCode(err, ErrCodeInvalidLayout) {
			t.Errorf("size %d: expected %s, got %v", size, ErrCodeInvalidLayout, err)
		}
	}
}

func TestParseLayoutMetadataOutOfBounds(t *testing.T) {
	buf := AlignedBuffer(8192)
	c, err := NewControlChannel(buf)
	if err != nil {
		t.Fatal(err)
	}
	c.setMetadataLocation(ControlBlockSize, 1<<20)

	_, err = ParseLayout(buf, testLogger())
	if !IsCode(err, ErrCodeInvalidLayout) {
		t.Fatalf("expected %s, got %v", ErrCodeInvalidLayout, err)
	}
}

func TestParseLayoutDefaultMetadataAreaTooLarge(t *testing.T) {
	// No metadata location declared and the default area does not fit.
	buf := AlignedBuffer(ControlBlockSize + 100)
	_, err := ParseLayout(buf, testLogger())
	if !IsCode(err, ErrCodeInvalidLayout) {
		t.Fatalf("expected %s, got %v", ErrCodeInvalidLayout, err)
	}
}

func TestParseLayoutFromMetadata(t *testing.T) {
	buf, _ := newRing(t, 4096, 4)

	layout, err := ParseLayout(buf, testLogger())
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if layout.FrameSlotSize != 4096 {
		t.Errorf("FrameSlotSize = %d, want 4096", layout.FrameSlotSize)
	}
	if layout.MaxFrames != 4 {
		t.Errorf("MaxFrames = %d, want 4", layout.MaxFrames)
	}
	if layout.DataOffset != ControlBlockSize+DefaultMetadataAreaSize {
		t.Errorf("DataOffset = %d, want %d", layout.DataOffset, ControlBlockSize+DefaultMetadataAreaSize)
	}
	if layout.MetadataFallback {
		t.Error("expected metadata to be used, got fallback")
	}
}

func TestParseLayoutClampsMaxFrames(t *testing.T) {
	buf := AlignedBuffer(ControlBlockSize + DefaultMetadataAreaSize + 3*1024 + 100)
	writeRawMetadata(t, buf, `{"frame_slot_size": 1024, "max_frames": 100}`)

	layout, err := ParseLayout(buf, testLogger())
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if layout.MaxFrames != 3 {
		t.Errorf("MaxFrames = %d, want 3", layout.MaxFrames)
	}
	if layout.RequiredSize() > len(buf) {
		t.Errorf("layout needs %d bytes, region has %d", layout.RequiredSize(), len(buf))
	}
}

func TestParseLayoutMetadataFallback(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"garbage", "{not json"},
		{"wrong types", `{"frame_slot_size": "big", "max_frames": true}`},
		{"whitespace only", "   \n"},
	}

	size := ControlBlockSize + DefaultMetadataAreaSize + DefaultFrameSlotSize + 100
	buf := AlignedBuffer(size)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeRawMetadata(t, buf, tt.doc)

			layout, err := ParseLayout(buf, testLogger())
			if err != nil {
				t.Fatalf("ParseLayout: %v", err)
			}
			if !layout.MetadataFallback {
				t.Error("expected MetadataFallback to be set")
			}
			if layout.FrameSlotSize != DefaultFrameSlotSize {
				t.Errorf("FrameSlotSize = %d, want %d", layout.FrameSlotSize, DefaultFrameSlotSize)
			}
			// Default depth of 7 does not fit; only one slot does.
			if layout.MaxFrames != 1 {
				t.Errorf("MaxFrames = %d, want 1", layout.MaxFrames)
			}
			if layout.DataOffset+layout.MaxFrames*layout.FrameSlotSize > len(buf) {
				t.Error("layout exceeds region")
			}
		})
	}
}

func TestParseLayoutNoSlotFits(t *testing.T) {
	buf := AlignedBuffer(ControlBlockSize + DefaultMetadataAreaSize + 512)
	writeRawMetadata(t, buf, `{"frame_slot_size": 1024, "max_frames": 4}`)

	_, err := ParseLayout(buf, testLogger())
	if !IsCode(err, ErrCodeInvalidLayout) {
		t.Fatalf("expected %s, got %v", ErrCodeInvalidLayout, err)
	}
}

func TestParseLayoutOversizedSlotUsesDefault(t *testing.T) {
	buf := AlignedBuffer(ControlBlockSize + DefaultMetadataAreaSize + 1024)
	writeRawMetadata(t, buf, `{"frame_slot_size": 18446744073709551615, "max_frames": 4}`)

	// The default slot does not fit either, so the layout is rejected
	// rather than trusting the declared size.
	_, err := ParseLayout(buf, testLogger())
	if !IsCode(err, ErrCodeInvalidLayout) {
		t.Fatalf("expected %s, got %v", ErrCodeInvalidLayout, err)
	}
}

func TestParseLayoutKeepsExtraMetadata(t *testing.T) {
	buf := AlignedBuffer(ControlBlockSize + DefaultMetadataAreaSize + 2*1024)
	writeRawMetadata(t, buf, `{"frame_slot_size": 1024, "max_frames": 2, "device": "probe-a", "width": 640}`)

	layout, err := ParseLayout(buf, testLogger())
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if layout.Metadata.Width != 640 {
		t.Errorf("Width = %d, want 640", layout.Metadata.Width)
	}
	if layout.Metadata.Extra["device"] != "probe-a" {
		t.Errorf("Extra[device] = %v, want probe-a", layout.Metadata.Extra["device"])
	}
}

func TestLayoutSlotOffsetWraps(t *testing.T) {
	l := &Layout{DataOffset: 1000, FrameSlotSize: 100, MaxFrames: 3}
	tests := []struct {
		index uint64
		want  int
	}{
		{0, 1000},
		{1, 1100},
		{2, 1200},
		{3, 1000},
		{7, 1100},
	}
	for _, tt := range tests {
		if got := l.SlotOffset(tt.index); got != tt.want {
			t.Errorf("SlotOffset(%d) = %d, want %d", tt.index, got, tt.want)
		}
	}
}

func TestControlBlockMatchesCacheAlignedLayout(t *testing.T) {
	if ControlBlockSize != 320 {
		t.Errorf("ControlBlockSize = %d, want 320", ControlBlockSize)
	}
	if ControlBlockSize%64 != 0 {
		t.Errorf("ControlBlockSize %d is not cache-line aligned", ControlBlockSize)
	}
	if cbFlags+4 > ControlBlockSize {
		t.Errorf("fields end at %d, past control block", cbFlags+4)
	}
}

func TestParseLayoutZeroMetadataLocation(t *testing.T) {
	const slot, frames = 1024, 3
	buf := AlignedBuffer(ControlBlockSize + DefaultMetadataAreaSize + slot*frames)
	doc, err := EncodeMetadata(Metadata{FrameSlotSize: slot, MaxFrames: frames})
	if err != nil {
		t.Fatal(err)
	}
	copy(buf[ControlBlockSize:], doc)

	layout, err := ParseLayout(buf, testLogger())
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if layout.MetadataFallback {
		t.Fatal("metadata at the control block boundary was not found")
	}
	if layout.MetadataOffset != ControlBlockSize {
		t.Errorf("MetadataOffset = %d, want %d", layout.MetadataOffset, ControlBlockSize)
	}
	if layout.DataOffset != ControlBlockSize+DefaultMetadataAreaSize {
		t.Errorf("DataOffset = %d, want %d", layout.DataOffset, ControlBlockSize+DefaultMetadataAreaSize)
	}
	if layout.MaxFrames != frames || layout.FrameSlotSize != slot {
		t.Errorf("geometry = %d x %d", layout.MaxFrames, layout.FrameSlotSize)
	}
}

func TestParseLayoutDataOffsetIgnoresMetadataOffset(t *testing.T) {
	const slot, frames, area = 1024, 2, 512
	// Metadata starts past the control block, slots still begin at the
	// control block plus the declared area size.
	buf := AlignedBuffer(ControlBlockSize + area + slot*frames)
	c, err := NewControlChannel(buf)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := EncodeMetadata(Metadata{FrameSlotSize: slot, MaxFrames: frames})
	if err != nil {
		t.Fatal(err)
	}
	const metaOffset = ControlBlockSize + 64
	copy(buf[metaOffset:], doc)
	c.setMetadataLocation(metaOffset, area-64)

	layout, err := ParseLayout(buf, testLogger())
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if layout.DataOffset != ControlBlockSize+area-64 {
		t.Errorf("DataOffset = %d, want %d", layout.DataOffset, ControlBlockSize+area-64)
	}
	if layout.RequiredSize() > len(buf) {
		t.Errorf("layout needs %d bytes, region has %d", layout.RequiredSize(), len(buf))
	}
}
