package decoder

import (
	"fmt"
	"strings"
)

// Format is a producer pixel encoding.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatGray8
	// FormatYUV is decoded as luma only.
	FormatYUV
	FormatBGR24
	FormatRGB24
	FormatBGRA32
	FormatRGBA32
	FormatYUV10
	FormatGray16
	FormatRGB10
)

// Wire format codes carried in FrameHeader.FormatCode.
const (
	CodeYUV    uint32 = 0x01
	CodeBGR    uint32 = 0x02 // BGR24 or BGRA32, chosen by bytes per pixel
	CodeYUV10  uint32 = 0x03
	CodeRGB10  uint32 = 0x04
	CodeRGB    uint32 = 0x05
	CodeRGBA   uint32 = 0x06
	CodeBGRA   uint32 = 0x07
	CodeGray   uint32 = 0x10
	CodeGray16 uint32 = 0x11
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatGray8:   "grayscale",
	FormatYUV:     "yuv",
	FormatBGR24:   "bgr",
	FormatRGB24:   "rgb",
	FormatBGRA32:  "bgra",
	FormatRGBA32:  "rgba",
	FormatYUV10:   "yuv10",
	FormatGray16:  "gray16",
	FormatRGB10:   "rgb10",
}

var formatAliases = map[string]Format{
	"gray":      FormatGray8,
	"grayscale": FormatGray8,
	"gray8":     FormatGray8,
	"yuv":       FormatYUV,
	"bgr":       FormatBGR24,
	"bgr24":     FormatBGR24,
	"rgb":       FormatRGB24,
	"rgb24":     FormatRGB24,
	"bgra":      FormatBGRA32,
	"bgra32":    FormatBGRA32,
	"rgba":      FormatRGBA32,
	"rgba32":    FormatRGBA32,
	"yuv10":     FormatYUV10,
	"gray16":    FormatGray16,
	"rgb10":     FormatRGB10,
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// BytesPerPixel returns the payload bytes per pixel, or 0 for FormatUnknown.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatGray8, FormatYUV:
		return 1
	case FormatYUV10, FormatGray16:
		return 2
	case FormatBGR24, FormatRGB24:
		return 3
	case FormatBGRA32, FormatRGBA32:
		return 4
	case FormatRGB10:
		return 6
	default:
		return 0
	}
}

// Code returns the wire code for f.
func (f Format) Code() uint32 {
	switch f {
	case FormatGray8:
		return CodeGray
	case FormatYUV:
		return CodeYUV
	case FormatBGR24, FormatBGRA32:
		return CodeBGR
	case FormatRGB24:
		return CodeRGB
	case FormatRGBA32:
		return CodeRGBA
	case FormatYUV10:
		return CodeYUV10
	case FormatGray16:
		return CodeGray16
	case FormatRGB10:
		return CodeRGB10
	default:
		return 0
	}
}

// ParseFormat resolves a user-facing format name.
func ParseFormat(s string) (Format, error) {
	if f, ok := formatAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return FormatUnknown, NewError(ErrCodeUnsupportedFormat, fmt.Sprintf("unknown format %q", s), nil)
}

// FormatNames lists accepted format names for help output.
func FormatNames() []string {
	return []string{"yuv", "bgr", "bgra", "rgb", "rgba", "yuv10", "rgb10", "grayscale", "gray16"}
}

// FromCode maps a wire code to a format. BGR code 0x02 is split by bpp.
// The second result is false when the code is not recognised.
func FromCode(code, bpp uint32) (Format, bool) {
	switch code {
	case CodeYUV:
		return FormatYUV, true
	case CodeBGR:
		if bpp == 4 {
			return FormatBGRA32, true
		}
		return FormatBGR24, true
	case CodeYUV10:
		return FormatYUV10, true
	case CodeRGB10:
		return FormatRGB10, true
	case CodeRGB:
		return FormatRGB24, true
	case CodeRGBA:
		return FormatRGBA32, true
	case CodeBGRA:
		return FormatBGRA32, true
	case CodeGray:
		return FormatGray8, true
	case CodeGray16:
		return FormatGray16, true
	default:
		return FormatUnknown, false
	}
}

// FromBytesPerPixel guesses a format from its pixel size.
func FromBytesPerPixel(bpp uint32) Format {
	switch bpp {
	case 1:
		return FormatGray8
	case 2:
		return FormatGray16
	case 3:
		return FormatBGR24
	case 4:
		return FormatBGRA32
	case 6:
		return FormatRGB10
	default:
		return FormatUnknown
	}
}
