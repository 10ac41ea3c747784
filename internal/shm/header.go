package shm

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the fixed size of the header at the start of every slot.
const FrameHeaderSize = 88

// Byte offsets inside a slot header. Layout is naturally aligned (8 bytes)
// and shared with the producer as a cross-process ABI.
const (
	hdrFrameID        = 0  // uint64
	hdrTimestamp      = 8  // uint64, ns since epoch
	hdrWidth          = 16 // uint32
	hdrHeight         = 20 // uint32
	hdrBytesPerPixel  = 24 // uint32
	hdrDataSize       = 28 // uint32
	hdrFormatCode     = 32 // uint32
	hdrFlags          = 36 // uint32
	hdrSequenceNumber = 40 // uint64
	hdrMetadataOffset = 48 // uint32, relative to slot start
	hdrMetadataSize   = 52 // uint32
	// 56..88 reserved
)

// FrameHeader describes the payload stored in one ring slot.
type FrameHeader struct {
	FrameID        uint64 `json:"frame_id"`
	Timestamp      uint64 `json:"timestamp"`
	Width          uint32 `json:"width"`
	Height         uint32 `json:"height"`
	BytesPerPixel  uint32 `json:"bytes_per_pixel"`
	DataSize       uint32 `json:"data_size"`
	FormatCode     uint32 `json:"format_code"`
	Flags          uint32 `json:"flags"`
	SequenceNumber uint64 `json:"sequence_number"`
	MetadataOffset uint32 `json:"metadata_offset"`
	MetadataSize   uint32 `json:"metadata_size"`
}

// Valid reports whether the header looks like a completed producer write.
// There is no checksum or generation counter, so this is the only check.
func (h FrameHeader) Valid() bool {
	return h.Width > 0 && h.Height > 0 && h.DataSize > 0
}

// Resolution returns the frame dimensions as "WxH".
func (h FrameHeader) Resolution() string {
	return fmt.Sprintf("%dx%d", h.Width, h.Height)
}

// ReadFrameHeader copies the header stored at off out of buf.
func ReadFrameHeader(buf []byte, off int) (FrameHeader, error) {
	if off < 0 || off+FrameHeaderSize > len(buf) {
		return FrameHeader{}, NewError(ErrCodeInvalidFrameOffset,
			fmt.Sprintf("header at offset %d exceeds region of %d bytes", off, len(buf)), nil)
	}
	b := buf[off : off+FrameHeaderSize]
	ne := binary.NativeEndian
	return FrameHeader{
		FrameID:        ne.Uint64(b[hdrFrameID:]),
		Timestamp:      ne.Uint64(b[hdrTimestamp:]),
		Width:          ne.Uint32(b[hdrWidth:]),
		Height:         ne.Uint32(b[hdrHeight:]),
		BytesPerPixel:  ne.Uint32(b[hdrBytesPerPixel:]),
		DataSize:       ne.Uint32(b[hdrDataSize:]),
		FormatCode:     ne.Uint32(b[hdrFormatCode:]),
		Flags:          ne.Uint32(b[hdrFlags:]),
		SequenceNumber: ne.Uint64(b[hdrSequenceNumber:]),
		MetadataOffset: ne.Uint32(b[hdrMetadataOffset:]),
		MetadataSize:   ne.Uint32(b[hdrMetadataSize:]),
	}, nil
}

// WriteFrameHeader stores h at off in buf. Reserved bytes are zeroed.
func WriteFrameHeader(buf []byte, off int, h FrameHeader) error {
	if off < 0 || off+FrameHeaderSize > len(buf) {
		return NewError(ErrCodeInvalidFrameOffset,
			fmt.Sprintf("header at offset %d exceeds region of %d bytes", off, len(buf)), nil)
	}
	b := buf[off : off+FrameHeaderSize]
	clear(b)
	ne := binary.NativeEndian
	ne.PutUint64(b[hdrFrameID:], h.FrameID)
	ne.PutUint64(b[hdrTimestamp:], h.Timestamp)
	ne.PutUint32(b[hdrWidth:], h.Width)
	ne.PutUint32(b[hdrHeight:], h.Height)
	ne.PutUint32(b[hdrBytesPerPixel:], h.BytesPerPixel)
	ne.PutUint32(b[hdrDataSize:], h.DataSize)
	ne.PutUint32(b[hdrFormatCode:], h.FormatCode)
	ne.PutUint32(b[hdrFlags:], h.Flags)
	ne.PutUint64(b[hdrSequenceNumber:], h.SequenceNumber)
	ne.PutUint32(b[hdrMetadataOffset:], h.MetadataOffset)
	ne.PutUint32(b[hdrMetadataSize:], h.MetadataSize)
	return nil
}
