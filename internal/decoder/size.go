package decoder

import "fmt"

// MaxDimension is the largest accepted frame width or height.
const MaxDimension = 8192

// ValidateDimensions checks frame dimensions against supported bounds,
// including an aspect ratio between 1:10 and 10:1.
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return NewError(ErrCodeInvalidDimensions, fmt.Sprintf("dimensions must be positive, got %dx%d", width, height), nil)
	}
	if width > MaxDimension || height > MaxDimension {
		return NewError(ErrCodeInvalidDimensions,
			fmt.Sprintf("dimensions %dx%d exceed %d", width, height, MaxDimension), nil)
	}
	ratio := float64(width) / float64(height)
	if ratio < 0.1 || ratio > 10 {
		return NewError(ErrCodeInvalidDimensions,
			fmt.Sprintf("aspect ratio %.2f outside 0.1..10", ratio), nil)
	}
	return nil
}

// FrameSize returns the payload bytes of a width x height frame in format.
func FrameSize(format Format, width, height int) int {
	return width * height * format.BytesPerPixel()
}
