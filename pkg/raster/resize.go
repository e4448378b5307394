package raster

import (
	"github.com/disintegration/imaging"
)

// Resize returns a bilinear resampled copy of g with the given dimensions.
// If g already has the requested size, g itself is returned.
func Resize(g *Grid, width, height int) *Grid {
	if g.Width == width && g.Height == height {
		return g
	}
	// imaging always produces NRGBA, so we pick the red channel back out
	resized := imaging.Resize(g.ToImage(), width, height, imaging.Linear)
	out := NewGrid(width, height)
	for y := 0; y < height; y++ {
		row := resized.Pix[y*resized.Stride:]
		dst := out.Pixels[y*width : (y+1)*width]
		for x := range dst {
			dst[x] = row[x*4]
		}
	}
	return out
}

// MatchSize resamples 'after' so that it has the same dimensions as 'before'
func MatchSize(before, after *Grid) *Grid {
	return Resize(after, before.Width, before.Height)
}
