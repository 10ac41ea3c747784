package shm

import (
	"fmt"
	"time"
	"unsafe"
)

// ProducerConfig describes the ring a Producer lays out.
type ProducerConfig struct {
	FrameSlotSize    int
	MaxFrames        int
	MetadataAreaSize int
	Width            uint32
	Height           uint32
	Format           string
}

// RegionSize returns the number of bytes needed for cfg.
func (c ProducerConfig) RegionSize() int {
	meta := c.MetadataAreaSize
	if meta == 0 {
		meta = DefaultMetadataAreaSize
	}
	return ControlBlockSize + meta + c.MaxFrames*c.FrameSlotSize
}

// SlotSizeFor returns a slot large enough for a width x height frame at bpp
// bytes per pixel plus room for per-frame metadata.
func SlotSizeFor(width, height, bpp int, metadataRoom int) int {
	size := FrameHeaderSize + width*height*bpp + metadataRoom
	return (size + 63) &^ 63
}

// ProducedFrame is the payload handed to Producer.WriteFrame.
type ProducedFrame struct {
	Width         uint32
	Height        uint32
	BytesPerPixel uint32
	FormatCode    uint32
	Flags         uint32
	Data          []byte
	Metadata      string
}

// Producer writes frames into a ring using the same layout the reader
// expects: payload first, then the write_index publish.
type Producer struct {
	buf     []byte
	control *ControlChannel
	layout  Layout
	next    uint64
	seq     uint64
	now     func() time.Time
}

// NewProducer initialises the control block and metadata area in buf.
func NewProducer(buf []byte, cfg ProducerConfig) (*Producer, error) {
	if cfg.MetadataAreaSize == 0 {
		cfg.MetadataAreaSize = DefaultMetadataAreaSize
	}
	if cfg.FrameSlotSize < FrameHeaderSize || cfg.MaxFrames <= 0 {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("invalid ring geometry: slot %d bytes, %d frames", cfg.FrameSlotSize, cfg.MaxFrames), nil)
	}
	if cfg.RegionSize() > len(buf) {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("ring needs %d bytes, buffer has %d", cfg.RegionSize(), len(buf)), nil)
	}
	control, err := NewControlChannel(buf)
	if err != nil {
		return nil, err
	}

	clear(buf[:ControlBlockSize+cfg.MetadataAreaSize])
	meta, err := EncodeMetadata(Metadata{
		FrameSlotSize: uint64(cfg.FrameSlotSize),
		MaxFrames:     uint64(cfg.MaxFrames),
		Width:         cfg.Width,
		Height:        cfg.Height,
		Format:        cfg.Format,
	})
	if err != nil {
		return nil, err
	}
	if len(meta) > cfg.MetadataAreaSize {
		return nil, NewError(ErrCodeInvalidLayout, "metadata document larger than metadata area", nil)
	}
	copy(buf[ControlBlockSize:], meta)
	control.setMetadataLocation(ControlBlockSize, uint32(cfg.MetadataAreaSize))
	control.setActive(true)

	return &Producer{
		buf:     buf,
		control: control,
		layout: Layout{
			RegionSize:       len(buf),
			ControlBlockSize: ControlBlockSize,
			MetadataOffset:   ControlBlockSize,
			MetadataAreaSize: cfg.MetadataAreaSize,
			DataOffset:       ControlBlockSize + cfg.MetadataAreaSize,
			FrameSlotSize:    cfg.FrameSlotSize,
			MaxFrames:        cfg.MaxFrames,
		},
		now: time.Now,
	}, nil
}

// SetClock overrides the timestamp source.
func (p *Producer) SetClock(now func() time.Time) {
	p.now = now
}

// Layout returns the geometry the producer writes.
func (p *Producer) Layout() Layout {
	return p.layout
}

// Next returns the index the next WriteFrame call will use.
func (p *Producer) Next() uint64 {
	return p.next
}

// SetActive sets the liveness flag seen by consumers.
func (p *Producer) SetActive(active bool) {
	p.control.setActive(active)
}

// Control exposes the producer's view of the control block.
func (p *Producer) Control() *ControlChannel {
	return p.control
}

// WriteFrame stores f in the next slot and publishes it.
func (p *Producer) WriteFrame(f ProducedFrame) (uint64, error) {
	index := p.next
	header := FrameHeader{
		FrameID:        index,
		Timestamp:      uint64(p.now().UnixNano()),
		Width:          f.Width,
		Height:         f.Height,
		BytesPerPixel:  f.BytesPerPixel,
		DataSize:       uint32(len(f.Data)),
		FormatCode:     f.FormatCode,
		Flags:          f.Flags,
		SequenceNumber: p.seq,
	}
	if err := p.WriteSlot(index, header, f.Data, f.Metadata); err != nil {
		return 0, err
	}
	p.Publish(index)
	return index, nil
}

// WriteSlot stores a header and payload for index without publishing it.
func (p *Producer) WriteSlot(index uint64, header FrameHeader, data []byte, metadata string) error {
	offset := p.layout.SlotOffset(index)
	need := FrameHeaderSize + len(data)
	if metadata != "" {
		need += len(metadata) + 1
		header.MetadataOffset = uint32(FrameHeaderSize + len(data))
		header.MetadataSize = uint32(len(metadata) + 1)
	}
	if need > p.layout.FrameSlotSize {
		return NewError(ErrCodeInvalidFrameSize,
			fmt.Sprintf("frame needs %d bytes, slot holds %d", need, p.layout.FrameSlotSize), nil)
	}
	start := offset + FrameHeaderSize
	copy(p.buf[start:], data)
	if metadata != "" {
		metaStart := start + len(data)
		copy(p.buf[metaStart:], metadata)
		p.buf[metaStart+len(metadata)] = 0
	}
	return WriteFrameHeader(p.buf, offset, header)
}

// Publish makes every slot up to and including index visible.
func (p *Producer) Publish(index uint64) {
	p.control.publishWrite(index, uint64(p.layout.MaxFrames), uint64(p.now().UnixNano()))
	p.next = index + 1
	p.seq++
}

// AlignedBuffer returns a zeroed heap buffer whose base is 8-byte aligned,
// suitable for an in-process ring.
func AlignedBuffer(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}
