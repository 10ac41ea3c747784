package decoder

import "encoding/binary"

// VectorWidth is the number of pixels the word-parallel path handles per
// step. Rows whose width is not a multiple fall back to the scalar path.
const VectorWidth = 8

// The vector converters work on 64-bit words, moving two RGBA pixels per
// store. They are portable Go and selected by DetectStrategy when the CPU
// has wide registers.

const (
	alpha2   = 0xFF000000FF000000
	keepGA2  = 0xFF00FF00FF00FF00
	lowByte2 = 0x000000FF000000FF
)

func grayRowsVector(dst, src []byte, width, _ int, y0, y1 int) {
	le := binary.LittleEndian
	for i := y0 * width; i < y1*width; i += 8 {
		g := le.Uint64(src[i:])
		d := dst[i*4 : i*4+32 : i*4+32]
		for k := 0; k < 4; k++ {
			a := g >> (16 * k) & 0xFF
			b := g >> (16*k + 8) & 0xFF
			le.PutUint64(d[k*8:], (a*0x010101|b*0x010101<<32)|alpha2)
		}
	}
}

func bgraRowsVector(dst, src []byte, width, _ int, y0, y1 int) {
	le := binary.LittleEndian
	for i := y0 * width * 4; i < y1*width*4; i += 32 {
		s := src[i : i+32 : i+32]
		d := dst[i : i+32 : i+32]
		for k := 0; k < 32; k += 8 {
			v := le.Uint64(s[k:])
			le.PutUint64(d[k:], v&keepGA2|v>>16&lowByte2|(v&lowByte2)<<16)
		}
	}
}

// bgrRowsVector converts four 3-byte pixels (12 bytes) per inner step.
func bgrRowsVector(dst, src []byte, width, _ int, y0, y1 int) {
	le := binary.LittleEndian
	for i := y0 * width; i < y1*width; i += 4 {
		s := src[i*3 : i*3+12 : i*3+12]
		a := le.Uint64(s)
		c := uint64(le.Uint32(s[8:]))
		p0 := a>>16&0xFF | a&0xFF00 | (a&0xFF)<<16
		p1 := a>>40&0xFF | a>>24&0xFF00 | (a>>24&0xFF)<<16
		p2 := c&0xFF | a>>48&0xFF00 | (a>>48&0xFF)<<16
		p3 := c>>24&0xFF | c&0xFF0000>>8 | (c>>8&0xFF)<<16
		d := dst[i*4 : i*4+16 : i*4+16]
		le.PutUint64(d, p0|p1<<32|alpha2)
		le.PutUint64(d[8:], p2|p3<<32|alpha2)
	}
}

func rgbRowsVector(dst, src []byte, width, _ int, y0, y1 int) {
	le := binary.LittleEndian
	for i := y0 * width; i < y1*width; i += 4 {
		s := src[i*3 : i*3+12 : i*3+12]
		a := le.Uint64(s)
		c := uint64(le.Uint32(s[8:]))
		p0 := a & 0xFFFFFF
		p1 := a >> 24 & 0xFFFFFF
		p2 := a>>48 | (c&0xFF)<<16
		p3 := c >> 8
		d := dst[i*4 : i*4+16 : i*4+16]
		le.PutUint64(d, p0|p1<<32|alpha2)
		le.PutUint64(d[8:], p2|p3<<32|alpha2)
	}
}

var vectorRows = map[Format]rowFunc{
	FormatGray8:  grayRowsVector,
	FormatYUV:    grayRowsVector,
	FormatBGR24:  bgrRowsVector,
	FormatRGB24:  rgbRowsVector,
	FormatBGRA32: bgraRowsVector,
	FormatRGBA32: rgbaRows,
}
