package decoder

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	const w, h = 16, 4
	pixel := func(x, y int) (uint8, uint8, uint8) {
		return uint8(x * 16), uint8(y * 60), uint8(255 - x*16)
	}
	d := New(Options{Strategy: StrategyScalar, Workers: 1, Logger: testLogger()})

	for _, format := range []Format{
		FormatGray8, FormatYUV, FormatYUV10, FormatGray16,
		FormatBGR24, FormatRGB24, FormatBGRA32, FormatRGBA32, FormatRGB10,
	} {
		t.Run(format.String(), func(t *testing.T) {
			data, err := EncodeFrame(format, w, h, pixel)
			if err != nil {
				t.Fatal(err)
			}
			if len(data) != FrameSize(format, w, h) {
				t.Fatalf("payload = %d bytes, want %d", len(data), FrameSize(format, w, h))
			}
			out, err := d.Convert(format, w, h, format.BytesPerPixel(), data)
			if err != nil {
				t.Fatal(err)
			}

			lumaOnly := format.BytesPerPixel() <= 2
			for y := range h {
				for x := range w {
					r, g, b := pixel(x, y)
					if lumaOnly {
						l := luma(r, g, b)
						r, g, b = l, l, l
					}
					i := (y*w + x) * 4
					if got := out[i : i+4]; got[0] != r || got[1] != g || got[2] != b || got[3] != 0xFF {
						t.Fatalf("pixel (%d,%d) = %v, want [%d %d %d 255]", x, y, got, r, g, b)
					}
				}
			}
		})
	}
}

func TestEncodeFrameRejects(t *testing.T) {
	pixel := func(int, int) (uint8, uint8, uint8) { return 0, 0, 0 }
	if _, err := EncodeFrame(FormatUnknown, 4, 4, pixel); !IsCode(err, ErrCodeUnsupportedFormat) {
		t.Errorf("unknown format: err = %v", err)
	}
	if _, err := EncodeFrame(FormatRGB24, 0, 4, pixel); !IsCode(err, ErrCodeInvalidDimensions) {
		t.Errorf("zero width: err = %v", err)
	}
}
