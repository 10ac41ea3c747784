package shm

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

// ControlBlockSize is the fixed size of the control block at offset 0:
// 268 bytes of fields and padding rounded up to the 64-byte cache line, as
// C and C++ producers lay it out with alignas(64).
const ControlBlockSize = 320

// Byte offsets inside the control block.
const (
	cbWriteIndex         = 0  // uint64
	cbReadIndex          = 8  // uint64
	cbFrameCount         = 16 // uint64
	cbTotalFramesWritten = 24 // uint64
	cbTotalFramesRead    = 32 // uint64
	cbDroppedFrames      = 40 // uint64
	cbActive             = 48 // bool, 7 bytes padding
	cbLastWriteTime      = 56 // uint64, ns since epoch
	cbLastReadTime       = 64 // uint64, ns since epoch
	cbMetadataOffset     = 72 // uint32
	cbMetadataSize       = 76 // uint32
	cbFlags              = 80 // uint32
	// 84..320 reserved
)

// activeMask selects the bool byte at cbActive inside its 32-bit word.
var activeMask = binary.NativeEndian.Uint32([]byte{0xFF, 0, 0, 0})

// ControlBlock is a point-in-time copy of the shared control block.
type ControlBlock struct {
	WriteIndex         uint64 `json:"write_index"`
	ReadIndex          uint64 `json:"read_index"`
	FrameCount         uint64 `json:"frame_count"`
	TotalFramesWritten uint64 `json:"total_frames_written"`
	TotalFramesRead    uint64 `json:"total_frames_read"`
	DroppedFrames      uint64 `json:"dropped_frames"`
	Active             bool   `json:"active"`
	LastWriteTime      uint64 `json:"last_write_time"`
	LastReadTime       uint64 `json:"last_read_time"`
	MetadataOffset     uint32 `json:"metadata_offset"`
	MetadataSize       uint32 `json:"metadata_size"`
	Flags              uint32 `json:"flags"`
}

// LastWrite returns the producer's last publish time.
func (c ControlBlock) LastWrite() time.Time {
	if c.LastWriteTime == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(c.LastWriteTime))
}

// ControlChannel gives atomic access to the control block of a mapped region.
// It holds no locks; producer and consumer synchronise only through these fields.
type ControlChannel struct {
	buf []byte
}

// NewControlChannel wraps the control block at the start of buf.
func NewControlChannel(buf []byte) (*ControlChannel, error) {
	if len(buf) < ControlBlockSize {
		return nil, NewError(ErrCodeInvalidLayout,
			fmt.Sprintf("region of %d bytes is smaller than control block (%d)", len(buf), ControlBlockSize), nil)
	}
	if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		return nil, NewError(ErrCodeInvalidLayout, "region base is not 8-byte aligned", nil)
	}
	return &ControlChannel{buf: buf[:ControlBlockSize:ControlBlockSize]}, nil
}

func (c *ControlChannel) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&c.buf[off]))
}

func (c *ControlChannel) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&c.buf[off]))
}

// LoadWriteIndex returns the number of frames the producer has published.
func (c *ControlChannel) LoadWriteIndex() uint64 {
	return atomic.LoadUint64(c.u64(cbWriteIndex))
}

// LoadReadIndex returns the consumer progress marker.
func (c *ControlChannel) LoadReadIndex() uint64 {
	return atomic.LoadUint64(c.u64(cbReadIndex))
}

// LoadActive reports the producer liveness flag.
func (c *ControlChannel) LoadActive() bool {
	return atomic.LoadUint32(c.u32(cbActive))&activeMask != 0
}

// LoadMetadataLocation returns the metadata area offset and size as declared
// by the producer. Either may be zero.
func (c *ControlChannel) LoadMetadataLocation() (offset, size uint32) {
	return atomic.LoadUint32(c.u32(cbMetadataOffset)), atomic.LoadUint32(c.u32(cbMetadataSize))
}

// AdvanceRead records consumption of frameIndex.
func (c *ControlChannel) AdvanceRead(frameIndex uint64, nowNs uint64) {
	for {
		count := atomic.LoadUint64(c.u64(cbFrameCount))
		if count == 0 || atomic.CompareAndSwapUint64(c.u64(cbFrameCount), count, count-1) {
			break
		}
	}
	atomic.AddUint64(c.u64(cbTotalFramesRead), 1)
	atomic.StoreUint64(c.u64(cbLastReadTime), nowNs)
	atomic.StoreUint64(c.u64(cbReadIndex), frameIndex+1)
}

// Snapshot copies every control block field.
func (c *ControlChannel) Snapshot() ControlBlock {
	return ControlBlock{
		WriteIndex:         atomic.LoadUint64(c.u64(cbWriteIndex)),
		ReadIndex:          atomic.LoadUint64(c.u64(cbReadIndex)),
		FrameCount:         atomic.LoadUint64(c.u64(cbFrameCount)),
		TotalFramesWritten: atomic.LoadUint64(c.u64(cbTotalFramesWritten)),
		TotalFramesRead:    atomic.LoadUint64(c.u64(cbTotalFramesRead)),
		DroppedFrames:      atomic.LoadUint64(c.u64(cbDroppedFrames)),
		Active:             c.LoadActive(),
		LastWriteTime:      atomic.LoadUint64(c.u64(cbLastWriteTime)),
		LastReadTime:       atomic.LoadUint64(c.u64(cbLastReadTime)),
		MetadataOffset:     atomic.LoadUint32(c.u32(cbMetadataOffset)),
		MetadataSize:       atomic.LoadUint32(c.u32(cbMetadataSize)),
		Flags:              atomic.LoadUint32(c.u32(cbFlags)),
	}
}

// Producer-side updates. The consumer never calls these; they exist so the
// synthetic producer speaks the same ABI.

func (c *ControlChannel) setActive(active bool) {
	p := c.u32(cbActive)
	for {
		old := atomic.LoadUint32(p)
		next := old &^ activeMask
		if active {
			next |= binary.NativeEndian.Uint32([]byte{1, 0, 0, 0})
		}
		if atomic.CompareAndSwapUint32(p, old, next) {
			return
		}
	}
}

func (c *ControlChannel) setMetadataLocation(offset, size uint32) {
	atomic.StoreUint32(c.u32(cbMetadataOffset), offset)
	atomic.StoreUint32(c.u32(cbMetadataSize), size)
}

// publishWrite makes frame index visible. The payload must be written first.
func (c *ControlChannel) publishWrite(index uint64, capacity uint64, nowNs uint64) {
	atomic.AddUint64(c.u64(cbTotalFramesWritten), 1)
	atomic.StoreUint64(c.u64(cbLastWriteTime), nowNs)
	count := atomic.AddUint64(c.u64(cbFrameCount), 1)
	if count > capacity {
		atomic.StoreUint64(c.u64(cbFrameCount), capacity)
		atomic.AddUint64(c.u64(cbDroppedFrames), count-capacity)
	}
	atomic.StoreUint64(c.u64(cbWriteIndex), index+1)
}
