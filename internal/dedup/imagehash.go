package dedup

import (
	"fmt"
	"image"
	"math/bits"
	"sort"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

const (
	// hashGrid is the sampling resolution: block luminance means are taken
	// on a hashGrid x hashGrid grid and folded 2x2 into the signature.
	hashGrid = 16

	// HashBits is the signature length. Folding the 16x16 grid 2x2 yields
	// an 8x8 field of one bit each.
	HashBits = 64
)

// HashImage computes a 64-bit perceptual hash of the image. Block means are
// sampled on a 16x16 grid, folded into 8x8 groups, and each group is
// thresholded against the median, so the signature survives re-encoding,
// re-hosting, and mild cropping.
func HashImage(img image.Image) (uint64, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < hashGrid || h < hashGrid {
		return 0, fmt.Errorf("image %dx%d too small to hash", w, h)
	}

	var blocks [hashGrid][hashGrid]float64
	for by := 0; by < hashGrid; by++ {
		for bx := 0; bx < hashGrid; bx++ {
			x0 := bounds.Min.X + bx*w/hashGrid
			x1 := bounds.Min.X + (bx+1)*w/hashGrid
			y0 := bounds.Min.Y + by*h/hashGrid
			y1 := bounds.Min.Y + (by+1)*h/hashGrid

			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					// ITU-R BT.601 luminance on 16-bit channels.
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
				}
			}
			blocks[by][bx] = sum / float64((x1-x0)*(y1-y0))
		}
	}

	groups := make([]float64, 0, HashBits)
	for gy := 0; gy < hashGrid/2; gy++ {
		for gx := 0; gx < hashGrid/2; gx++ {
			g := blocks[gy*2][gx*2] + blocks[gy*2][gx*2+1] +
				blocks[gy*2+1][gx*2] + blocks[gy*2+1][gx*2+1]
			groups = append(groups, g/4)
		}
	}

	median := medianOf(groups)

	var hash uint64
	for i, g := range groups {
		if g > median {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}

// HammingDistance counts differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
