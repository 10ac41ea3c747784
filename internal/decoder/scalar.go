package decoder

import "encoding/binary"

// rowFunc converts rows [y0, y1) of src into RGBA8 rows of dst.
// src rows are width*bpp bytes, dst rows width*4 bytes.
type rowFunc func(dst, src []byte, width, bpp, y0, y1 int)

// Scalar reference converters. Every accelerated path must produce
// byte-identical output to these.

func grayRows(dst, src []byte, width, _ int, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		v := src[i]
		d := dst[i*4 : i*4+4 : i*4+4]
		d[0], d[1], d[2], d[3] = v, v, v, 0xFF
	}
}

func bgrRows(dst, src []byte, width, _ int, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		s := src[i*3 : i*3+3 : i*3+3]
		d := dst[i*4 : i*4+4 : i*4+4]
		d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xFF
	}
}

func rgbRows(dst, src []byte, width, _ int, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		s := src[i*3 : i*3+3 : i*3+3]
		d := dst[i*4 : i*4+4 : i*4+4]
		d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xFF
	}
}

func bgraRows(dst, src []byte, width, _ int, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		s := src[i*4 : i*4+4 : i*4+4]
		d := dst[i*4 : i*4+4 : i*4+4]
		d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
	}
}

func rgbaRows(dst, src []byte, width, _ int, y0, y1 int) {
	copy(dst[y0*width*4:y1*width*4], src[y0*width*4:y1*width*4])
}

// tenToEight drops the two low bits of a 10-bit sample. No rounding is
// applied; samples above 10 bits saturate.
func tenToEight(v uint16) byte {
	v >>= 2
	if v > 0xFF {
		return 0xFF
	}
	return byte(v)
}

func gray10Rows(dst, src []byte, width, _ int, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		v := tenToEight(binary.LittleEndian.Uint16(src[i*2:]))
		d := dst[i*4 : i*4+4 : i*4+4]
		d[0], d[1], d[2], d[3] = v, v, v, 0xFF
	}
}

func rgb10Rows(dst, src []byte, width, _ int, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		s := src[i*6 : i*6+6 : i*6+6]
		d := dst[i*4 : i*4+4 : i*4+4]
		d[0] = tenToEight(binary.LittleEndian.Uint16(s[0:]))
		d[1] = tenToEight(binary.LittleEndian.Uint16(s[2:]))
		d[2] = tenToEight(binary.LittleEndian.Uint16(s[4:]))
		d[3] = 0xFF
	}
}

// strideGrayRows treats the first byte of each bpp-sized pixel as luma.
// Used for payloads whose format could not be identified.
func strideGrayRows(dst, src []byte, width, bpp int, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		v := src[i*bpp]
		d := dst[i*4 : i*4+4 : i*4+4]
		d[0], d[1], d[2], d[3] = v, v, v, 0xFF
	}
}

var scalarRows = map[Format]rowFunc{
	FormatGray8:  grayRows,
	FormatYUV:    grayRows,
	FormatBGR24:  bgrRows,
	FormatRGB24:  rgbRows,
	FormatBGRA32: bgraRows,
	FormatRGBA32: rgbaRows,
	FormatYUV10:  gray10Rows,
	FormatGray16: gray10Rows,
	FormatRGB10:  rgb10Rows,
}
