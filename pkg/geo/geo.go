// Package geo maps pixel coordinates onto an area of interest (AOI), and emits GeoJSON.
//
// The mapping is a linear interpolation between the AOI corners. It ignores the raster's
// real georeferencing and the curvature of the earth, so it is only an approximation,
// and it gets worse as the AOI gets larger.
package geo

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type LatLng struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// AOIBounds is the rectangle on the earth that the rasters cover.
// The top-left pixel maps to (NorthEast.Lat, SouthWest.Lng), and the bottom-right
// pixel maps to (SouthWest.Lat, NorthEast.Lng).
type AOIBounds struct {
	SouthWest LatLng `json:"south_west"`
	NorthEast LatLng `json:"north_east"`
}

// A missing corner or coordinate must not decode as zero, which is a valid coordinate
type latLngJSON struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type aoiBoundsJSON struct {
	SouthWest *LatLng `json:"south_west"`
	NorthEast *LatLng `json:"north_east"`
}

func (l *LatLng) UnmarshalJSON(b []byte) error {
	raw := latLngJSON{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Lat == nil || raw.Lng == nil {
		return &InvalidAOIError{Reason: "corner must have both lat and lng"}
	}
	l.Lat = *raw.Lat
	l.Lng = *raw.Lng
	return nil
}

func (a *AOIBounds) UnmarshalJSON(b []byte) error {
	raw := aoiBoundsJSON{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.SouthWest == nil {
		return &InvalidAOIError{Reason: "south_west is required"}
	}
	if raw.NorthEast == nil {
		return &InvalidAOIError{Reason: "north_east is required"}
	}
	a.SouthWest = *raw.SouthWest
	a.NorthEast = *raw.NorthEast
	return nil
}

// InvalidAOIError is returned when the AOI corners are missing, are not strictly ordered,
// or are not finite WGS84 coordinates.
type InvalidAOIError struct {
	Reason string
}

func (e *InvalidAOIError) Error() string {
	return "Invalid AOI: " + e.Reason
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (a *AOIBounds) Validate() error {
	for _, v := range []float64{a.SouthWest.Lat, a.SouthWest.Lng, a.NorthEast.Lat, a.NorthEast.Lng} {
		if !finite(v) {
			return &InvalidAOIError{Reason: "coordinates must be finite"}
		}
	}
	if a.SouthWest.Lat < -90 || a.NorthEast.Lat > 90 || a.SouthWest.Lng < -180 || a.NorthEast.Lng > 180 {
		return &InvalidAOIError{Reason: "coordinates out of range"}
	}
	if a.SouthWest.Lat >= a.NorthEast.Lat {
		return &InvalidAOIError{Reason: fmt.Sprintf("south west latitude %v must be less than north east latitude %v", a.SouthWest.Lat, a.NorthEast.Lat)}
	}
	if a.SouthWest.Lng >= a.NorthEast.Lng {
		return &InvalidAOIError{Reason: fmt.Sprintf("south west longitude %v must be less than north east longitude %v", a.SouthWest.Lng, a.NorthEast.Lng)}
	}
	return nil
}

// Bound returns the AOI as an orb.Bound, with points in [lng, lat] order
func (a *AOIBounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{a.SouthWest.Lng, a.SouthWest.Lat},
		Max: orb.Point{a.NorthEast.Lng, a.NorthEast.Lat},
	}
}

// LinearProjector maps pixels of a Width x Height raster onto AOI
type LinearProjector struct {
	AOI    AOIBounds
	Width  int
	Height int
}

func NewLinearProjector(aoi AOIBounds, width, height int) (*LinearProjector, error) {
	if err := aoi.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("Invalid raster dimensions %v x %v", width, height)
	}
	return &LinearProjector{
		AOI:    aoi,
		Width:  width,
		Height: height,
	}, nil
}

// PixelToGeo returns [lng, lat] for a pixel coordinate.
// Coordinates outside the raster extrapolate linearly.
func (p *LinearProjector) PixelToGeo(px, py float64) orb.Point {
	sw := p.AOI.SouthWest
	ne := p.AOI.NorthEast
	lng := sw.Lng + (px/float64(p.Width))*(ne.Lng-sw.Lng)
	lat := ne.Lat - (py/float64(p.Height))*(ne.Lat-sw.Lat)
	return orb.Point{lng, lat}
}

// GeoToPixel is the inverse of PixelToGeo, for callers that hold geographic coordinates
func (p *LinearProjector) GeoToPixel(pt orb.Point) (px, py float64) {
	sw := p.AOI.SouthWest
	ne := p.AOI.NorthEast
	px = (pt.Lon() - sw.Lng) / (ne.Lng - sw.Lng) * float64(p.Width)
	py = (ne.Lat - pt.Lat()) / (ne.Lat - sw.Lat) * float64(p.Height)
	return
}

// Project produces one point feature per anomaly, located at the unrounded center
// of its bounding box. Anomalies without a usable bounding box are skipped.
// The collection's bbox is the AOI.
// height and width are the dimensions of the raster that the boxes refer to.
func Project(anomalies []fusion.FusedAnomaly, aoi AOIBounds, height, width int) (*geojson.FeatureCollection, error) {
	proj, err := NewLinearProjector(aoi, width, height)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	fc.BBox = geojson.NewBBox(aoi.Bound())
	for i := range anomalies {
		a := &anomalies[i]
		if a.Validate() != "" {
			continue
		}
		f := proj.feature(&a.Detection)
		f.Properties["type"] = string(a.Tag)
		if a.RegionID >= 0 {
			f.Properties["region_id"] = a.RegionID
		}
		fc.Append(f)
	}
	return fc, nil
}

// ProjectDetections is like Project, but for raw detections that have not been fused
func ProjectDetections(detections []fusion.Detection, aoi AOIBounds, height, width int) (*geojson.FeatureCollection, error) {
	proj, err := NewLinearProjector(aoi, width, height)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	fc.BBox = geojson.NewBBox(aoi.Bound())
	for i := range detections {
		d := &detections[i]
		if d.Validate() != "" {
			continue
		}
		f := proj.feature(d)
		f.Properties["type"] = "Detection"
		fc.Append(f)
	}
	return fc, nil
}

func (p *LinearProjector) feature(d *fusion.Detection) *geojson.Feature {
	cx, cy := d.Center()
	f := geojson.NewFeature(p.PixelToGeo(cx, cy))
	f.Properties["class"] = d.Class
	f.Properties["confidence"] = d.Confidence
	return f
}
