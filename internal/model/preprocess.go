package model

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

const padValue = 114.0 / 255.0

// letterbox is an image scaled to fit a size x size square, centred on a grey
// background, flattened into CHW float32 in [0,1].
type letterbox struct {
	data   []float32
	size   int
	scale  float64
	padX   int
	padY   int
	bounds image.Rectangle
}

func newLetterbox(img image.Image, size int) *letterbox {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)

	lb := &letterbox{
		data:   make([]float32, 3*size*size),
		size:   size,
		scale:  scale,
		padX:   (size - nw) / 2,
		padY:   (size - nh) / 2,
		bounds: b,
	}
	for i := range lb.data {
		lb.data[i] = padValue
	}

	plane := size * size
	rb := resized.Bounds()
	for y := 0; y < nh && y+lb.padY < size; y++ {
		for x := 0; x < nw && x+lb.padX < size; x++ {
			r, g, bl, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			idx := (y+lb.padY)*size + x + lb.padX
			lb.data[idx] = float32(r) / 65535.0
			lb.data[plane+idx] = float32(g) / 65535.0
			lb.data[2*plane+idx] = float32(bl) / 65535.0
		}
	}
	return lb
}

// restore maps a box from model input coordinates back onto the source image.
func (lb *letterbox) restore(c candidate) (x1, y1, x2, y2 int) {
	fx := func(v float32) int {
		p := (float64(v)-float64(lb.padX))/lb.scale + float64(lb.bounds.Min.X)
		return clamp(int(math.Round(p)), lb.bounds.Min.X, lb.bounds.Max.X)
	}
	fy := func(v float32) int {
		p := (float64(v)-float64(lb.padY))/lb.scale + float64(lb.bounds.Min.Y)
		return clamp(int(math.Round(p)), lb.bounds.Min.Y, lb.bounds.Max.Y)
	}
	return fx(c.x1), fy(c.y1), fx(c.x2), fy(c.y2)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
