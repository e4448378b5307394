package archive

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/paulmach/orb/geojson"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"-"`
}

// Analysis is one completed run of the pipeline.
// SYNC-ARCHIVE-ANALYSIS
type Analysis struct {
	BaseModel
	PublicID       string                                    `json:"id"`        // UUID, also the storage prefix of the mask and overlay
	CreatedAt      dbh.IntTime                               `json:"createdAt"` // Unix milliseconds
	Scene          string                                    `json:"scene"`     // Empty for uploaded images
	Width          int                                       `json:"width"`     // Dimensions of the 'before' raster
	Height         int                                       `json:"height"`
	Similarity     float64                                   `json:"similarity"`
	RiskScore      float64                                   `json:"riskScore"`
	Degraded       bool                                      `json:"degraded"`
	DegradedReason string                                    `json:"degradedReason"`
	NumAnomalies   int                                       `json:"numAnomalies"`
	NumRegions     int                                       `json:"numRegions"`
	Summary        string                                    `json:"summary"`
	MaskPath       string                                    `json:"maskPath"`    // Blob storage name
	OverlayPath    string                                    `json:"overlayPath"` // Blob storage name
	DurationMS     int64                                     `json:"durationMS"`
	AOI            *dbh.JSONField[geo.AOIBounds]             `json:"aoi,omitempty"`
	Anomalies      *dbh.JSONField[[]fusion.FusedAnomaly]     `json:"anomalies,omitempty"`
	GeoJSON        *dbh.JSONField[geojson.FeatureCollection] `json:"geojson,omitempty"`
}
