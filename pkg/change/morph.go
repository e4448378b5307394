package change

import "github.com/cyclopcam/geochange/pkg/raster"

// Binary morphology with a square structuring element.
// A square element is separable, so each pass is a 1D min or max along rows,
// followed by the same along columns.
// Pixels outside the raster do not participate, so erosion never eats in from
// the image border, and dilation never grows in from it.

func Erode(g *raster.Grid, kernelSize, iterations int) *raster.Grid {
	return morphRepeat(g, kernelSize, iterations, true)
}

func Dilate(g *raster.Grid, kernelSize, iterations int) *raster.Grid {
	return morphRepeat(g, kernelSize, iterations, false)
}

// Open removes specks smaller than the structuring element.
// All erosions happen before all dilations.
func Open(g *raster.Grid, kernelSize, iterations int) *raster.Grid {
	return Dilate(Erode(g, kernelSize, iterations), kernelSize, iterations)
}

// Close fills gaps smaller than the structuring element.
// All dilations happen before all erosions.
func Close(g *raster.Grid, kernelSize, iterations int) *raster.Grid {
	return Erode(Dilate(g, kernelSize, iterations), kernelSize, iterations)
}

func morphRepeat(g *raster.Grid, kernelSize, iterations int, isMin bool) *raster.Grid {
	out := g.Clone()
	if kernelSize <= 1 {
		return out
	}
	tmp := raster.NewGrid(g.Width, g.Height)
	radius := kernelSize / 2
	for i := 0; i < iterations; i++ {
		morphRows(out, tmp, radius, isMin)
		morphCols(tmp, out, radius, isMin)
	}
	return out
}

func morphRows(src, dst *raster.Grid, radius int, isMin bool) {
	w := src.Width
	for y := 0; y < src.Height; y++ {
		row := src.Pixels[y*w : (y+1)*w]
		out := dst.Pixels[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			x1 := max(x-radius, 0)
			x2 := min(x+radius, w-1)
			v := row[x1]
			for i := x1 + 1; i <= x2; i++ {
				if isMin {
					v = min(v, row[i])
				} else {
					v = max(v, row[i])
				}
			}
			out[x] = v
		}
	}
}

func morphCols(src, dst *raster.Grid, radius int, isMin bool) {
	w := src.Width
	h := src.Height
	for y := 0; y < h; y++ {
		y1 := max(y-radius, 0)
		y2 := min(y+radius, h-1)
		out := dst.Pixels[y*w : (y+1)*w]
		copy(out, src.Pixels[y1*w:(y1+1)*w])
		for yy := y1 + 1; yy <= y2; yy++ {
			row := src.Pixels[yy*w : (yy+1)*w]
			if isMin {
				for x, v := range row {
					out[x] = min(out[x], v)
				}
			} else {
				for x, v := range row {
					out[x] = max(out[x], v)
				}
			}
		}
	}
}
