package preview

import (
	"bytes"
	"image"
	"image/png"

	"github.com/smazurov/shmview/internal/decoder"
	"golang.org/x/image/draw"
)

var pngEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

// Thumbnail scales frame to width, keeping the aspect ratio, and encodes it
// as PNG. A width of zero or one at least as wide as the frame encodes the
// frame at full size.
func Thumbnail(frame *decoder.ProcessedFrame, width int) ([]byte, error) {
	var img image.Image = frame.Image()
	if width > 0 && width < frame.Width {
		height := max(1, frame.Height*width/frame.Width)
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
