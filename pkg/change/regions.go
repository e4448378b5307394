package change

import (
	"sort"

	"github.com/cyclopcam/geochange/pkg/geom"
	"github.com/cyclopcam/geochange/pkg/raster"
)

// Region is one external blob of change, after hole filling
type Region struct {
	ID       int        `json:"id"`
	Bounds   geom.Rect  `json:"bounds"`
	Area     int        `json:"area"` // Filled pixel count, holes included
	Centroid geom.Point `json:"centroid"`
}

type component struct {
	label  int32
	first  int // index of the first pixel found, in raster order
	bounds geom.Rect
}

// Label the 8-connected foreground components of mask.
// labels[i] is 0 for background, and 1-based otherwise.
func labelComponents(mask *raster.Grid) (labels []int32, comps []component) {
	w, h := mask.Width, mask.Height
	labels = make([]int32, w*h)
	stack := []int{}
	for start, v := range mask.Pixels {
		if v == 0 || labels[start] != 0 {
			continue
		}
		label := int32(len(comps) + 1)
		minX, minY := w, h
		maxX, maxY := -1, -1
		labels[start] = label
		stack = append(stack[:0], start)
		for len(stack) != 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			px, py := p%w, p/w
			minX = min(minX, px)
			minY = min(minY, py)
			maxX = max(maxX, px)
			maxY = max(maxY, py)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if mask.Pixels[n] != 0 && labels[n] == 0 {
						labels[n] = label
						stack = append(stack, n)
					}
				}
			}
		}
		comps = append(comps, component{
			label:  label,
			first:  start,
			bounds: geom.RectFromCorners(minX, minY, maxX, maxY),
		})
	}
	return
}

// fillComponent returns the pixels enclosed by the outline of one component
// (the component itself plus its holes), as indices into the full raster.
// We flood the background from a one pixel ring around the component's bounding box.
// Only the component's own pixels act as walls, so other blobs sitting inside a
// hole are swallowed by the fill.
func fillComponent(labels []int32, width int, c *component, buf []byte, stack []int) ([]int, []byte, []int) {
	bw := c.bounds.Width + 2
	bh := c.bounds.Height + 2
	if cap(buf) < bw*bh {
		buf = make([]byte, bw*bh)
	}
	buf = buf[:bw*bh]
	const (
		open    = 0
		wall    = 1
		outside = 2
	)
	for ly := 0; ly < bh; ly++ {
		for lx := 0; lx < bw; lx++ {
			gx := c.bounds.X + lx - 1
			gy := c.bounds.Y + ly - 1
			buf[ly*bw+lx] = open
			if lx > 0 && ly > 0 && lx < bw-1 && ly < bh-1 && labels[gy*width+gx] == c.label {
				buf[ly*bw+lx] = wall
			}
		}
	}
	// The ring is never a wall, and it is connected, so a single seed floods all of it
	buf[0] = outside
	stack = append(stack[:0], 0)
	for len(stack) != 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		lx, ly := p%bw, p/bw
		// 4-connected, so that diagonal steps through an 8-connected outline are blocked
		if lx > 0 && buf[p-1] == open {
			buf[p-1] = outside
			stack = append(stack, p-1)
		}
		if lx < bw-1 && buf[p+1] == open {
			buf[p+1] = outside
			stack = append(stack, p+1)
		}
		if ly > 0 && buf[p-bw] == open {
			buf[p-bw] = outside
			stack = append(stack, p-bw)
		}
		if ly < bh-1 && buf[p+bw] == open {
			buf[p+bw] = outside
			stack = append(stack, p+bw)
		}
	}
	filled := []int{}
	for ly := 1; ly < bh-1; ly++ {
		for lx := 1; lx < bw-1; lx++ {
			if buf[ly*bw+lx] != outside {
				gx := c.bounds.X + lx - 1
				gy := c.bounds.Y + ly - 1
				filled = append(filled, gy*width+gx)
			}
		}
	}
	return filled, buf, stack
}

// ExtractRegions finds the external regions of a binary mask, fills each one solid,
// and drops those whose filled area is <= minArea.
// Components that lie inside another component's filled area are not external,
// and are absorbed by it.
// Returns a new {0,255} mask containing only the kept regions.
func ExtractRegions(mask *raster.Grid, minArea int) (*raster.Grid, []Region) {
	out := raster.NewGrid(mask.Width, mask.Height)
	labels, comps := labelComponents(mask)

	// A component can only be enclosed by a component with a strictly larger bounding box
	sort.SliceStable(comps, func(i, j int) bool {
		return comps[i].bounds.Area() > comps[j].bounds.Area()
	})

	covered := make([]bool, len(labels))
	regions := []Region{}
	var buf []byte
	var stack []int
	var filled []int
	for i := range comps {
		c := &comps[i]
		if covered[c.first] {
			continue
		}
		filled, buf, stack = fillComponent(labels, mask.Width, c, buf, stack)
		sumX, sumY := 0, 0
		for _, p := range filled {
			covered[p] = true
			sumX += p % mask.Width
			sumY += p / mask.Width
		}
		if len(filled) <= minArea {
			continue
		}
		for _, p := range filled {
			out.Pixels[p] = 255
		}
		regions = append(regions, Region{
			Bounds: c.bounds,
			Area:   len(filled),
			Centroid: geom.Point{
				X: sumX / len(filled),
				Y: sumY / len(filled),
			},
		})
	}

	// Stable, reading-order IDs
	sort.SliceStable(regions, func(i, j int) bool {
		a, b := regions[i].Bounds, regions[j].Bounds
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	for i := range regions {
		regions[i].ID = i
	}
	return out, regions
}
