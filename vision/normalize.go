// Package vision prepares user-sent images for the vision model and stores
// them on disk per user.
package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// edgeMultiple is the patch size the vision model tiles images with; both
	// output edges are multiples of it.
	edgeMultiple = 28
	// shortEdge is the fixed short-edge size, 27 patches.
	shortEdge = 27 * edgeMultiple

	jpegQuality = 85
)

// Normalize re-encodes an image as JPEG with the short edge fixed at
// shortEdge pixels and the long edge scaled proportionally, floored to a
// multiple of edgeMultiple.
func Normalize(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decode image: empty bounds")
	}

	var dw, dh int
	if w <= h {
		dw = shortEdge
		dh = scaleLong(h, w)
	} else {
		dh = shortEdge
		dw = scaleLong(w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}

func scaleLong(long, short int) int {
	scaled := long * shortEdge / short
	floored := scaled / edgeMultiple * edgeMultiple
	if floored < edgeMultiple {
		floored = edgeMultiple
	}
	return floored
}
