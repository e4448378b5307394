// Package fusion combines externally produced point detections with a change mask,
// and scores the overall risk of an area.
package fusion

import (
	"fmt"
	"math"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/geochange/pkg/change"
	"github.com/cyclopcam/geochange/pkg/geom"
	"github.com/cyclopcam/geochange/pkg/raster"
)

type Tag string

const (
	TagNewAnomaly     Tag = "NEW_ANOMALY"     // Detection center sits on changed pixels
	TagExistingObject Tag = "EXISTING_OBJECT" // Detection center sits on unchanged pixels, or outside the mask
)

// OutOfRangePolicy decides what happens to a detection whose center falls outside the mask
type OutOfRangePolicy int

const (
	OutOfRangeExisting OutOfRangePolicy = iota // Treat it as an existing object
)

// The policy applied by every Fuser
const DefaultOutOfRangePolicy = OutOfRangeExisting

const (
	riskPerAnomaly    = 3.0
	riskDissimilarity = 10.0
	MaxRisk           = 10.0
)

// Detection is one object found by an external detector.
// BBox is [x1, y1, x2, y2] in pixel coordinates of the 'before' raster.
type Detection struct {
	BBox       []float64 `json:"bbox,omitempty"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
}

// Validate returns a description of what is wrong with the bounding box,
// or an empty string if it's usable.
func (d *Detection) Validate() string {
	if d.BBox == nil {
		return "missing bbox"
	}
	if len(d.BBox) != 4 {
		return fmt.Sprintf("bbox has %v elements instead of 4", len(d.BBox))
	}
	for _, v := range d.BBox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "bbox is not finite"
		}
	}
	if d.BBox[0] >= d.BBox[2] || d.BBox[1] >= d.BBox[3] {
		return "bbox has zero or negative size"
	}
	return ""
}

// Center of the bounding box, not rounded. Only valid if Validate() succeeds.
func (d *Detection) Center() (x, y float64) {
	return (d.BBox[0] + d.BBox[2]) / 2, (d.BBox[1] + d.BBox[3]) / 2
}

// PixelCenter is the center of the bounding box, rounded half away from zero
func (d *Detection) PixelCenter() geom.Point {
	x, y := d.Center()
	return geom.Point{
		X: int(math.Round(x)),
		Y: int(math.Round(y)),
	}
}

// FusedAnomaly is a detection, tagged according to the change mask underneath it
type FusedAnomaly struct {
	Detection
	Tag      Tag        `json:"type"`
	Center   geom.Point `json:"center"`    // Rounded pixel center that was tested against the mask
	RegionID int        `json:"region_id"` // ID of the change region holding Center, or -1
}

// MalformedDetectionError is produced for each detection that was skipped
type MalformedDetectionError struct {
	Index  int // Position in the input list
	Reason string
}

func (e *MalformedDetectionError) Error() string {
	return fmt.Sprintf("Detection %v skipped: %v", e.Index, e.Reason)
}

// RiskScore combines the number of new anomalies and the global similarity into [0, 10].
// It is non-decreasing in newAnomalies, and non-increasing in similarity.
func RiskScore(newAnomalies int, similarity float64) float64 {
	risk := float64(newAnomalies)*riskPerAnomaly + (1-similarity)*riskDissimilarity
	return min(max(risk, 0), MaxRisk)
}

// Fuser tags detections against a change mask
type Fuser struct {
	// If true, EXISTING_OBJECT entries are returned along with NEW_ANOMALY entries.
	// They never contribute to the risk score.
	SurfaceExisting bool
}

// FuseAndScore tags each detection against mask, and computes the risk score.
// Only NEW_ANOMALY entries are returned.
// Malformed detections are skipped, and reported in the returned error list.
func FuseAndScore(detections []Detection, mask *raster.Grid, similarity float64) ([]FusedAnomaly, float64, []error) {
	f := Fuser{}
	return f.fuse(detections, mask, similarity, nil)
}

// Fuse tags each detection against the mask of res, links it to the change region
// that contains it, and computes the risk score.
func (f *Fuser) Fuse(detections []Detection, res *change.Result) ([]FusedAnomaly, float64, []error) {
	return f.fuse(detections, res.Mask, res.Similarity, res.Regions)
}

func (f *Fuser) fuse(detections []Detection, mask *raster.Grid, similarity float64, regions []change.Region) ([]FusedAnomaly, float64, []error) {
	index := newRegionIndex(regions)
	out := []FusedAnomaly{}
	skipped := []error{}
	nNew := 0
	for i := range detections {
		det := &detections[i]
		if reason := det.Validate(); reason != "" {
			skipped = append(skipped, &MalformedDetectionError{Index: i, Reason: reason})
			continue
		}
		center := det.PixelCenter()
		tag := classify(mask, center)
		if tag == TagNewAnomaly {
			nNew++
		} else if !f.SurfaceExisting {
			continue
		}
		out = append(out, FusedAnomaly{
			Detection: *det,
			Tag:       tag,
			Center:    center,
			RegionID:  index.find(center),
		})
	}
	return out, RiskScore(nNew, similarity), skipped
}

func classify(mask *raster.Grid, p geom.Point) Tag {
	if mask == nil || !mask.InBounds(p.X, p.Y) {
		return outOfRangeTag(DefaultOutOfRangePolicy)
	}
	if mask.At(p.X, p.Y) == 255 {
		return TagNewAnomaly
	}
	return TagExistingObject
}

func outOfRangeTag(policy OutOfRangePolicy) Tag {
	switch policy {
	case OutOfRangeExisting:
		return TagExistingObject
	}
	panic(fmt.Sprintf("Unknown out of range policy %v", policy))
}

// regionIndex finds the change region under a point
type regionIndex struct {
	regions []change.Region
	fb      *flatbush.Flatbush[int32]
}

func newRegionIndex(regions []change.Region) *regionIndex {
	idx := &regionIndex{
		regions: regions,
	}
	if len(regions) == 0 {
		return idx
	}
	idx.fb = flatbush.NewFlatbush[int32]()
	idx.fb.Reserve(len(regions))
	for _, r := range regions {
		// flatbush boxes are inclusive
		idx.fb.Add(int32(r.Bounds.X), int32(r.Bounds.Y), int32(r.Bounds.X2()-1), int32(r.Bounds.Y2()-1))
	}
	idx.fb.Finish()
	return idx
}

// Returns the ID of the region whose bounds contain p, or -1.
// If several bounding boxes overlap p, the region with the closest centroid wins.
func (idx *regionIndex) find(p geom.Point) int {
	if idx.fb == nil {
		return -1
	}
	best := -1
	bestDistance := float32(9e20)
	for _, j := range idx.fb.Search(int32(p.X), int32(p.Y), int32(p.X), int32(p.Y)) {
		r := &idx.regions[j]
		if !r.Bounds.Contains(p) {
			continue
		}
		d := p.Distance(r.Centroid)
		if d < bestDistance {
			bestDistance = d
			best = r.ID
		}
	}
	return best
}
