package shm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

const (
	// DefaultMetadataAreaSize is used when the control block declares no size.
	DefaultMetadataAreaSize = 4096
	// DefaultFrameSlotSize fits a 4K RGBA frame plus its header.
	DefaultFrameSlotSize = 3840*2160*4 + FrameHeaderSize
	// DefaultMaxFrames is the ring depth assumed without metadata.
	DefaultMaxFrames = 7

	// MaxFrameSlotSize bounds producer-declared slot sizes (8192x8192 at 6 bytes per pixel).
	MaxFrameSlotSize = 8192*8192*6 + FrameHeaderSize
	// MaxFramesLimit bounds producer-declared ring depth.
	MaxFramesLimit = 4096
)

// Metadata is the JSON document the producer places after the control block.
type Metadata struct {
	FrameSlotSize uint64 `json:"frame_slot_size"`
	MaxFrames     uint64 `json:"max_frames"`
	Width         uint32 `json:"width,omitempty"`
	Height        uint32 `json:"height,omitempty"`
	Format        string `json:"format,omitempty"`

	// Extra holds every field of the document, known or not.
	Extra map[string]any `json:"-"`
}

// Layout is the geometry of a mapped region derived from its control block
// and metadata.
type Layout struct {
	RegionSize       int      `json:"region_size"`
	ControlBlockSize int      `json:"control_block_size"`
	MetadataOffset   int      `json:"metadata_offset"`
	MetadataAreaSize int      `json:"metadata_area_size"`
	DataOffset       int      `json:"data_offset"`
	FrameSlotSize    int      `json:"frame_slot_size"`
	MaxFrames        int      `json:"max_frames"`
	Metadata         Metadata `json:"metadata"`
	// MetadataFallback is set when defaults replaced missing or corrupt metadata.
	MetadataFallback bool `json:"metadata_fallback"`
}

// SlotOffset returns the byte offset of the slot holding frameIndex.
func (l *Layout) SlotOffset(frameIndex uint64) int {
	slot := int(frameIndex % uint64(l.MaxFrames))
	return l.DataOffset + slot*l.FrameSlotSize
}

// RequiredSize is the number of bytes the layout occupies.
func (l *Layout) RequiredSize() int {
	return l.DataOffset + l.MaxFrames*l.FrameSlotSize
}

// Equal reports whether two layouts describe the same geometry.
func (l *Layout) Equal(o *Layout) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.DataOffset == o.DataOffset &&
		l.FrameSlotSize == o.FrameSlotSize &&
		l.MaxFrames == o.MaxFrames &&
		l.RegionSize == o.RegionSize
}

// ParseLayout validates buf and derives its layout. The metadata is
// producer-supplied and untrusted: values are clamped against the region so
// that no slot index derived from the result can fall outside buf.
func ParseLayout(buf []byte, logger *slog.Logger) (*Layout, error) {
	if len(buf) < ControlBlockSize {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("region of %d bytes is smaller than control block (%d)", len(buf), ControlBlockSize), nil)
	}
	control, err := NewControlChannel(buf)
	if err != nil {
		return nil, err
	}

	metaOffset, metaSize := control.LoadMetadataLocation()
	layout := &Layout{
		RegionSize:       len(buf),
		ControlBlockSize: ControlBlockSize,
		MetadataOffset:   int(metaOffset),
		MetadataAreaSize: int(metaSize),
	}
	if layout.MetadataOffset == 0 {
		layout.MetadataOffset = ControlBlockSize
	}
	if layout.MetadataAreaSize == 0 {
		layout.MetadataAreaSize = DefaultMetadataAreaSize
	}
	if layout.MetadataOffset < ControlBlockSize ||
		layout.MetadataOffset+layout.MetadataAreaSize > len(buf) {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("metadata area [%d, %d) outside region of %d bytes",
				layout.MetadataOffset, layout.MetadataOffset+layout.MetadataAreaSize, len(buf)), nil)
	}
	// Slots start after the control block and metadata area regardless of
	// where metadata_offset points.
	layout.DataOffset = ControlBlockSize + layout.MetadataAreaSize

	area := buf[layout.MetadataOffset : layout.MetadataOffset+layout.MetadataAreaSize]
	meta, parseErr := parseMetadata(area)
	if parseErr != nil {
		logger.Warn("Metadata unreadable, using defaults",
			"error", parseErr,
			"frame_slot_size", DefaultFrameSlotSize,
			"max_frames", DefaultMaxFrames)
		layout.MetadataFallback = true
	}
	layout.Metadata = meta

	slotSize := meta.FrameSlotSize
	if slotSize < FrameHeaderSize || slotSize > MaxFrameSlotSize {
		if parseErr == nil {
			logger.Warn("Frame slot size out of range, using default",
				"declared", slotSize, "default", DefaultFrameSlotSize)
		}
		slotSize = DefaultFrameSlotSize
	}
	maxFrames := meta.MaxFrames
	if maxFrames == 0 {
		maxFrames = DefaultMaxFrames
	}
	if maxFrames > MaxFramesLimit {
		maxFrames = MaxFramesLimit
	}

	available := uint64(len(buf) - layout.DataOffset)
	if fit := available / slotSize; fit < maxFrames {
		if parseErr == nil {
			logger.Debug("Clamping max_frames to region size", "declared", maxFrames, "fits", fit)
		}
		maxFrames = fit
	}
	layout.FrameSlotSize = int(slotSize)
	layout.MaxFrames = int(maxFrames)

	if layout.MaxFrames == 0 {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("no frame slot of %d bytes fits after data offset %d in %d bytes",
				layout.FrameSlotSize, layout.DataOffset, len(buf)), nil)
	}
	if layout.RequiredSize() > len(buf) {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("layout needs %d bytes, region has %d", layout.RequiredSize(), len(buf)), nil)
	}
	return layout, nil
}

// parseMetadata reads a NUL- or length-terminated JSON document.
func parseMetadata(area []byte) (Metadata, error) {
	if i := bytes.IndexByte(area, 0); i >= 0 {
		area = area[:i]
	}
	area = bytes.TrimSpace(area)
	if len(area) == 0 {
		return Metadata{}, fmt.Errorf("metadata area is empty")
	}

	var meta Metadata
	if err := json.Unmarshal(area, &meta); err != nil {
		return Metadata{}, err
	}
	if err := json.Unmarshal(area, &meta.Extra); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// EncodeMetadata renders meta as the NUL-terminated document a producer writes.
func EncodeMetadata(meta Metadata) ([]byte, error) {
	fields := make(map[string]any, len(meta.Extra)+5)
	for k, v := range meta.Extra {
		fields[k] = v
	}
	fields["frame_slot_size"] = meta.FrameSlotSize
	fields["max_frames"] = meta.MaxFrames
	if meta.Width > 0 {
		fields["width"] = meta.Width
	}
	if meta.Height > 0 {
		fields["height"] = meta.Height
	}
	if meta.Format != "" {
		fields["format"] = meta.Format
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return append(data, 0), nil
}
