package preview

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/smazurov/shmview/internal/decoder"
)

func testFrame(w, h int) *decoder.ProcessedFrame {
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	return &decoder.ProcessedFrame{Width: w, Height: h, Pixels: pixels, Format: decoder.FormatRGBA32}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		width        int
		wantW, wantH int
	}{
		{"scaled", 160, 160, 120},
		{"full size", 0, 640, 480},
		{"wider than frame", 1000, 640, 480},
		{"tiny", 1, 1, 1},
	}

	frame := testFrame(640, 480)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Thumbnail(frame, tt.width)
			if err != nil {
				t.Fatalf("Thumbnail: %v", err)
			}
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("decode png: %v", err)
			}
			b := img.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}
