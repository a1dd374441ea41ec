// Package vision implements the pixel-level frame comparison used by the
// motion detector. Frames are encoded JPEG images; comparison happens on a
// grayscale projection of each pixel.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"image/jpeg"
)

// noiseThreshold is the per-pixel intensity delta (0-255 scale) below which
// a pixel is not counted as changed. Fixed so that change percentages stay
// comparable across versions; not exposed in configuration.
const noiseThreshold = 25

// ErrIncompatibleFrames is returned when two frames cannot be compared,
// either because one of them does not decode or because their dimensions
// differ.
var ErrIncompatibleFrames = errors.New("frames are not comparable")

// Compare decodes two JPEG frames and returns the percentage of pixels
// (0-100) whose grayscale intensity differs by more than the noise
// threshold. It is pure and safe for concurrent use on independent frames.
func Compare(a, b []byte) (float64, error) {
	imgA, err := jpeg.Decode(bytes.NewReader(a))
	if err != nil {
		return 0, fmt.Errorf("%w: first frame: %v", ErrIncompatibleFrames, err)
	}
	imgB, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return 0, fmt.Errorf("%w: second frame: %v", ErrIncompatibleFrames, err)
	}

	boundsA := imgA.Bounds()
	boundsB := imgB.Bounds()
	if boundsA.Dx() != boundsB.Dx() || boundsA.Dy() != boundsB.Dy() {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d",
			ErrIncompatibleFrames, boundsA.Dx(), boundsA.Dy(), boundsB.Dx(), boundsB.Dy())
	}

	width := boundsA.Dx()
	height := boundsA.Dy()
	total := width * height
	if total == 0 {
		return 0, nil
	}

	// Single pass over both images. Each pixel is read exactly once.
	changed := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			grayA := color.GrayModel.Convert(imgA.At(boundsA.Min.X+x, boundsA.Min.Y+y)).(color.Gray).Y
			grayB := color.GrayModel.Convert(imgB.At(boundsB.Min.X+x, boundsB.Min.Y+y)).(color.Gray).Y

			diff := int(grayA) - int(grayB)
			if diff < 0 {
				diff = -diff
			}
			if diff > noiseThreshold {
				changed++
			}
		}
	}

	return 100 * float64(changed) / float64(total), nil
}
