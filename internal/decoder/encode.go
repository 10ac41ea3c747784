package decoder

import (
	"encoding/binary"
	"fmt"
)

// EncodePixel writes one RGB pixel into dst in format. It is the inverse of
// the converters for producers and tests: luma formats store a BT.601 luma
// approximation, 10-bit formats store the 8-bit value shifted left by two.
// dst must hold at least format.BytesPerPixel() bytes.
func EncodePixel(format Format, dst []byte, r, g, b uint8) {
	switch format {
	case FormatGray8, FormatYUV:
		dst[0] = luma(r, g, b)
	case FormatYUV10, FormatGray16:
		binary.LittleEndian.PutUint16(dst, uint16(luma(r, g, b))<<2)
	case FormatBGR24:
		dst[0], dst[1], dst[2] = b, g, r
	case FormatRGB24:
		dst[0], dst[1], dst[2] = r, g, b
	case FormatBGRA32:
		dst[0], dst[1], dst[2], dst[3] = b, g, r, 0xFF
	case FormatRGBA32:
		dst[0], dst[1], dst[2], dst[3] = r, g, b, 0xFF
	case FormatRGB10:
		binary.LittleEndian.PutUint16(dst[0:], uint16(r)<<2)
		binary.LittleEndian.PutUint16(dst[2:], uint16(g)<<2)
		binary.LittleEndian.PutUint16(dst[4:], uint16(b)<<2)
	}
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}

// EncodeFrame fills a width x height payload in format by calling pixel for
// every coordinate.
func EncodeFrame(format Format, width, height int, pixel func(x, y int) (r, g, b uint8)) ([]byte, error) {
	if err := ValidateDimensions(width, height); err != nil {
		return nil, err
	}
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, NewError(ErrCodeUnsupportedFormat, fmt.Sprintf("cannot encode %s", format), nil)
	}
	out := make([]byte, width*height*bpp)
	for y := range height {
		for x := range width {
			r, g, b := pixel(x, y)
			i := (y*width + x) * bpp
			EncodePixel(format, out[i:i+bpp], r, g, b)
		}
	}
	return out, nil
}
