package model

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/Brownie44l1/detect-offload/pkg/api"
)

const boxThickness = 2

var palette = []color.RGBA{
	{255, 56, 56, 255},
	{255, 157, 151, 255},
	{255, 112, 31, 255},
	{255, 178, 29, 255},
	{72, 249, 10, 255},
	{26, 147, 52, 255},
	{0, 194, 255, 255},
	{52, 69, 147, 255},
}

// annotate returns a copy of img with the outline of every detection drawn on it.
func annotate(img image.Image, dets []api.Detection) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	for _, d := range dets {
		c := palette[0]
		if d.ClassID > 0 {
			c = palette[d.ClassID%len(palette)]
		}
		r := image.Rect(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2).Intersect(b)
		if r.Empty() {
			continue
		}
		fill := image.NewUniform(c)
		t := min(boxThickness, r.Dx(), r.Dy())
		draw.Draw(out, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), fill, image.Point{}, draw.Src)
		draw.Draw(out, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), fill, image.Point{}, draw.Src)
		draw.Draw(out, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), fill, image.Point{}, draw.Src)
		draw.Draw(out, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), fill, image.Point{}, draw.Src)
	}
	return out
}
