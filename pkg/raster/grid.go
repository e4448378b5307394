// Package raster holds the single channel 8-bit images that the change detector works on.
package raster

import (
	"errors"
	"image"
	"image/png"
	"io"
)

var ErrEmptyGrid = errors.New("Raster is empty")

// Grid is a single channel 8-bit raster. Stride is always equal to Width.
// Once a Grid has been handed to the analysis pipeline, it is treated as immutable.
type Grid struct {
	Width  int
	Height int
	Pixels []byte
}

// Create a new zero-filled grid
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Pixels: make([]byte, width*height),
	}
}

// Wrap an existing pixel buffer. The buffer is not copied.
func WrapGrid(width, height int, pixels []byte) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrEmptyGrid
	}
	if len(pixels) != width*height {
		return nil, errors.New("Pixel buffer size does not match dimensions")
	}
	return &Grid{
		Width:  width,
		Height: height,
		Pixels: pixels,
	}, nil
}

// Returns true if the grid has no pixels
func (g *Grid) Empty() bool {
	return g == nil || g.Width <= 0 || g.Height <= 0 || len(g.Pixels) < g.Width*g.Height
}

func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

func (g *Grid) At(x, y int) byte {
	return g.Pixels[y*g.Width+x]
}

func (g *Grid) Set(x, y int, v byte) {
	g.Pixels[y*g.Width+x] = v
}

func (g *Grid) SameSize(b *Grid) bool {
	return g.Width == b.Width && g.Height == b.Height
}

func (g *Grid) Clone() *Grid {
	c := &Grid{
		Width:  g.Width,
		Height: g.Height,
		Pixels: make([]byte, len(g.Pixels)),
	}
	copy(c.Pixels, g.Pixels)
	return c
}

// Count the number of pixels that are not zero
func (g *Grid) CountNonZero() int {
	n := 0
	for _, v := range g.Pixels {
		if v != 0 {
			n++
		}
	}
	return n
}

// Fill a rectangle with the value v. The rectangle is clipped to the grid.
func (g *Grid) FillRect(x1, y1, x2, y2 int, v byte) {
	x1 = max(x1, 0)
	y1 = max(y1, 0)
	x2 = min(x2, g.Width)
	y2 = min(y2, g.Height)
	for y := y1; y < y2; y++ {
		row := g.Pixels[y*g.Width : (y+1)*g.Width]
		for x := x1; x < x2; x++ {
			row[x] = v
		}
	}
}

// ToImage wraps the grid as an image.Gray, without copying pixels.
func (g *Grid) ToImage() *image.Gray {
	return &image.Gray{
		Pix:    g.Pixels,
		Stride: g.Width,
		Rect:   image.Rect(0, 0, g.Width, g.Height),
	}
}

// EncodePNG writes the grid as an 8-bit grayscale PNG
func (g *Grid) EncodePNG(w io.Writer) error {
	if g.Empty() {
		return ErrEmptyGrid
	}
	return png.Encode(w, g.ToImage())
}
