package change

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/geochange/pkg/raster"
)

var ErrSizeMismatch = errors.New("Rasters have different dimensions")

// Summed area tables over a reflect-padded image pair.
// All quantities are integers, so window sums are exact, and variances are
// computed from exact numerators.
type windowSums struct {
	width  int // padded width + 1
	height int // padded height + 1
	sx     []int64
	sy     []int64
	sxx    []int64
	syy    []int64
	sxy    []int64
}

// Map i into [0, n) by mirroring about the edge pixels: (c b a | a b c | c b a)
func reflectIndex(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		} else {
			i = 2*n - i - 1
		}
	}
	return i
}

func buildWindowSums(a, b *raster.Grid, pad int) *windowSums {
	pw := a.Width + 2*pad
	ph := a.Height + 2*pad
	ws := &windowSums{
		width:  pw + 1,
		height: ph + 1,
	}
	n := ws.width * ws.height
	ws.sx = make([]int64, n)
	ws.sy = make([]int64, n)
	ws.sxx = make([]int64, n)
	ws.syy = make([]int64, n)
	ws.sxy = make([]int64, n)

	// Precompute the source column for every padded column
	srcX := make([]int, pw)
	for x := range srcX {
		srcX[x] = reflectIndex(x-pad, a.Width)
	}

	stride := ws.width
	for y := 0; y < ph; y++ {
		sy := reflectIndex(y-pad, a.Height)
		rowA := a.Pixels[sy*a.Width : (sy+1)*a.Width]
		rowB := b.Pixels[sy*b.Width : (sy+1)*b.Width]
		var rx, ry, rxx, ryy, rxy int64
		above := y * stride
		here := (y + 1) * stride
		for x := 0; x < pw; x++ {
			va := int64(rowA[srcX[x]])
			vb := int64(rowB[srcX[x]])
			rx += va
			ry += vb
			rxx += va * va
			ryy += vb * vb
			rxy += va * vb
			ws.sx[here+x+1] = ws.sx[above+x+1] + rx
			ws.sy[here+x+1] = ws.sy[above+x+1] + ry
			ws.sxx[here+x+1] = ws.sxx[above+x+1] + rxx
			ws.syy[here+x+1] = ws.syy[above+x+1] + ryy
			ws.sxy[here+x+1] = ws.sxy[above+x+1] + rxy
		}
	}
	return ws
}

func boxSum(table []int64, stride, x1, y1, x2, y2 int) int64 {
	return table[y2*stride+x2] - table[y1*stride+x2] - table[y2*stride+x1] + table[y1*stride+x1]
}

// SSIM computes the per-pixel structural similarity map of two equally sized rasters,
// using a uniform window of side windowSize and the sample covariance.
// The returned score is the mean of the map, excluding a border of windowSize/2
// pixels where the window reaches into the padding.
// The map is not clamped. Values lie in [-1, 1].
func SSIM(a, b *raster.Grid, windowSize int, k1, k2 float64) (score float64, ssimMap []float64, err error) {
	if a.Empty() || b.Empty() {
		return 0, nil, raster.ErrEmptyGrid
	}
	if !a.SameSize(b) {
		return 0, nil, ErrSizeMismatch
	}
	if a.Width < windowSize || a.Height < windowSize {
		return 0, nil, fmt.Errorf("Raster %v x %v is smaller than the SSIM window %v", a.Width, a.Height, windowSize)
	}

	const dataRange = 255.0
	c1 := (k1 * dataRange) * (k1 * dataRange)
	c2 := (k2 * dataRange) * (k2 * dataRange)

	pad := windowSize / 2
	ws := buildWindowSums(a, b, pad)
	np := int64(windowSize * windowSize)
	fnp := float64(np)
	// Sample covariance normalization
	covDenom := float64(np * (np - 1))

	ssimMap = make([]float64, a.Width*a.Height)
	for y := 0; y < a.Height; y++ {
		// Window in padded coordinates is [x, x+windowSize) x [y, y+windowSize)
		y1 := y
		y2 := y + windowSize
		for x := 0; x < a.Width; x++ {
			x1 := x
			x2 := x + windowSize
			sx := boxSum(ws.sx, ws.width, x1, y1, x2, y2)
			sy := boxSum(ws.sy, ws.width, x1, y1, x2, y2)
			sxx := boxSum(ws.sxx, ws.width, x1, y1, x2, y2)
			syy := boxSum(ws.syy, ws.width, x1, y1, x2, y2)
			sxy := boxSum(ws.sxy, ws.width, x1, y1, x2, y2)

			ux := float64(sx) / fnp
			uy := float64(sy) / fnp
			vx := float64(np*sxx-sx*sx) / covDenom
			vy := float64(np*syy-sy*sy) / covDenom
			vxy := float64(np*sxy-sx*sy) / covDenom

			a1 := 2*ux*uy + c1
			a2 := 2*vxy + c2
			b1 := ux*ux + uy*uy + c1
			b2 := vx + vy + c2
			ssimMap[y*a.Width+x] = (a1 * a2) / (b1 * b2)
		}
	}

	sum := 0.0
	count := 0
	for y := pad; y < a.Height-pad; y++ {
		row := ssimMap[y*a.Width : (y+1)*a.Width]
		for x := pad; x < a.Width-pad; x++ {
			sum += row[x]
			count++
		}
	}
	if count == 0 {
		return 0, nil, fmt.Errorf("Raster %v x %v has no interior for the SSIM window", a.Width, a.Height)
	}
	score = sum / float64(count)
	return score, ssimMap, nil
}

// ChangeImage maps similarity to an 8-bit change intensity.
// Similarity 1 becomes 0, and similarity <= 0 becomes 255.
func ChangeImage(width, height int, ssimMap []float64) *raster.Grid {
	out := raster.NewGrid(width, height)
	for i, s := range ssimMap {
		s = min(max(s, 0), 1)
		v := (1-s)*255 + 0.5
		out.Pixels[i] = byte(min(v, 255))
	}
	return out
}
