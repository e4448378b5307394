package change

import "github.com/cyclopcam/geochange/pkg/raster"

// Histogram of an 8-bit raster
func Histogram(g *raster.Grid) [256]int {
	var h [256]int
	for _, v := range g.Pixels {
		h[v]++
	}
	return h
}

// OtsuThreshold returns the threshold t that maximizes the between-class variance
// of the two classes [0, t] and (t, 255].
// ok is false when the histogram has fewer than two occupied bins, in which case
// there is no meaningful split.
func OtsuThreshold(hist [256]int) (t uint8, ok bool) {
	total := 0
	sum := 0.0
	for i, n := range hist {
		total += n
		sum += float64(i * n)
	}
	if total == 0 {
		return 0, false
	}

	best := -1.0
	w0 := 0
	sum0 := 0.0
	for i := 0; i < 255; i++ {
		w0 += hist[i]
		sum0 += float64(i * hist[i])
		w1 := total - w0
		if w0 == 0 || w1 == 0 {
			continue
		}
		mu0 := sum0 / float64(w0)
		mu1 := (sum - sum0) / float64(w1)
		p0 := float64(w0) / float64(total)
		p1 := float64(w1) / float64(total)
		v := p0 * p1 * (mu0 - mu1) * (mu0 - mu1)
		// Ties resolve to the lowest threshold
		if v > best {
			best = v
			t = uint8(i)
			ok = true
		}
	}
	return
}

// Binarize writes 255 where g > t, and 0 elsewhere
func Binarize(g *raster.Grid, t uint8) *raster.Grid {
	out := raster.NewGrid(g.Width, g.Height)
	for i, v := range g.Pixels {
		if v > t {
			out.Pixels[i] = 255
		}
	}
	return out
}
