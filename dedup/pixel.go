package dedup

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/errors"
)

// PixelGrid is the side of the luminance grid the pixel embedder samples.
const PixelGrid = 16

// PixelEmbedder is the heuristic capability: a mean-centred 16×16 luminance
// thumbnail. It survives re-encoding and mild resizing, not crops or rotation.
type PixelEmbedder struct{}

// NewPixelEmbedder returns the heuristic embedder.
func NewPixelEmbedder() *PixelEmbedder { return &PixelEmbedder{} }

func (PixelEmbedder) Dimensions() int { return PixelGrid * PixelGrid }

func (PixelEmbedder) Name() string { return am.CapabilityHeuristic }

// Embed decodes PNG, JPEG, GIF, BMP or WebP bytes.
func (p PixelEmbedder) Embed(ctx context.Context, data []byte) ([]float32, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Newf("%s image has no pixels", format)
	}
	return Normalize(luminanceGrid(img, PixelGrid)), nil
}

// luminanceGrid area-averages Rec. 601 luma into an n×n grid and mean-centres it.
// A flat image has nothing to centre; its uncentred grid is kept so flat
// images still match each other.
func luminanceGrid(img image.Image, n int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, n*n)

	var mean float64
	for gy := 0; gy < n; gy++ {
		y0, y1 := span(b.Min.Y, h, gy, n)
		for gx := 0; gx < n; gx++ {
			x0, x1 := span(b.Min.X, w, gx, n)
			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, bl, _ := img.At(x, y).RGBA()
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)
				}
			}
			v := sum / float64((y1-y0)*(x1-x0)) / 0xffff
			out[gy*n+gx] = float32(v)
			mean += v
		}
	}
	mean /= float64(n * n)

	centred := make([]float32, len(out))
	flat := true
	for i, v := range out {
		centred[i] = float32(float64(v) - mean)
		if centred[i] > 1e-6 || centred[i] < -1e-6 {
			flat = false
		}
	}
	if flat {
		return out
	}
	return centred
}

// span returns the pixel range of cell i of n over a dimension of size px.
// Every cell covers at least one pixel.
func span(origin, px, i, n int) (int, int) {
	lo := i * px / n
	hi := (i + 1) * px / n
	if hi <= lo {
		hi = lo + 1
	}
	if hi > px {
		hi = px
		lo = hi - 1
	}
	return origin + lo, origin + hi
}
