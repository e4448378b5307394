package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/geochange/pkg/change"
	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/cyclopcam/geochange/pkg/pipeline"
	"github.com/cyclopcam/geochange/pkg/raster"
	"github.com/cyclopcam/geochange/server/archive"
	"github.com/cyclopcam/geochange/server/feed"
	"github.com/cyclopcam/geochange/server/storage"
	"github.com/cyclopcam/www"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/paulmach/orb/geojson"
)

// Image extensions that we look for when fetching scene imagery from blob storage
var sceneExtensions = []string{"png", "jpg", "jpeg", "tif", "tiff", "webp", "bmp"}

// Body of analyze_aoi, and the form fields of analyze
type analyzeRequest struct {
	AOI        *geo.AOIBounds     `json:"aoi_bounds" validate:"required"`
	Detections []fusion.Detection `json:"detections" validate:"max=10000"`
	Scene      string             `json:"scene" validate:"omitempty,max=64,excludesall=./\\"`
}

type analyzeResponse struct {
	ID                string                     `json:"id"`
	ReportSummary     string                     `json:"report_summary"`
	ChangeMaskURL     string                     `json:"change_mask_url,omitempty"`
	OverlayURL        string                     `json:"overlay_url,omitempty"`
	AnomaliesGeoJSON  *geojson.FeatureCollection `json:"anomalies_geojson"`
	ImageBounds       geo.AOIBounds              `json:"image_bounds"`
	ImageWidth        int                        `json:"image_width"`
	ImageHeight       int                        `json:"image_height"`
	RiskScore         float64                    `json:"risk_score"`
	SimilarityScore   float64                    `json:"similarity_score"`
	Degraded          bool                       `json:"degraded"`
	DegradedReason    string                     `json:"degraded_reason,omitempty"`
	FusedData         []fusion.FusedAnomaly      `json:"fused_data"`
	SkippedDetections []string                   `json:"skipped_detections"`
	Regions           []change.Region            `json:"regions"`
	DurationMS        int64                      `json:"duration_ms"`
}

// Multipart upload of two images, plus the AOI and optional detections as JSON form fields
func (s *Server) httpAnalyze(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(32 * 1024 * 1024); err != nil {
		www.PanicBadRequestf("Failed to parse multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	req := analyzeRequest{}
	aoiJSON := r.FormValue("aoi_bounds")
	if aoiJSON == "" {
		s.panicPipelineError(pipeline.NewError(pipeline.KindInvalidRequest, "aoi_bounds is required"))
	}
	s.decodeJSON([]byte(aoiJSON), "aoi_bounds", &req.AOI)
	if detJSON := r.FormValue("detections"); detJSON != "" {
		s.decodeJSON([]byte(detJSON), "detections", &req.Detections)
	}
	s.validateRequest(&req)

	before := s.readFormImage(r, "image_before")
	after := s.readFormImage(r, "image_after")
	s.analyzeAndRespond(w, r, &req, before, after)
}

// JSON request naming a scene whose imagery lives in blob storage, under scenes/<scene>/before.* and after.*
func (s *Server) httpAnalyzeAOI(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16*1024*1024))
	if err != nil {
		www.PanicBadRequestf("Failed to read request body: %v", err)
	}
	req := analyzeRequest{}
	s.decodeJSON(body, "request", &req)
	if req.Scene == "" {
		req.Scene = s.Config.DefaultScene
	}
	s.validateRequest(&req)

	before := s.readSceneImage(req.Scene, "before")
	after := s.readSceneImage(req.Scene, "after")
	s.analyzeAndRespond(w, r, &req, before, after)
}

// An incomplete AOI is reported as InvalidAOI. Any other decoding failure is an InvalidRequest.
func (s *Server) decodeJSON(data []byte, what string, obj any) {
	if err := json.Unmarshal(data, obj); err != nil {
		var aoiErr *geo.InvalidAOIError
		if errors.As(err, &aoiErr) {
			s.panicPipelineError(pipeline.AsError(err))
		}
		s.panicPipelineError(pipeline.NewError(pipeline.KindInvalidRequest, "Invalid %v JSON: %v", what, err))
	}
}

func (s *Server) validateRequest(req *analyzeRequest) {
	if err := s.validator.Struct(req); err != nil {
		s.panicPipelineError(pipeline.NewError(pipeline.KindInvalidRequest, "%v", err))
	}
}

func (s *Server) readFormImage(r *http.Request, field string) *raster.Grid {
	f, _, err := r.FormFile(field)
	if err != nil {
		s.panicPipelineError(pipeline.AsError(&raster.LoadError{Name: field, Err: err}))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.panicPipelineError(pipeline.AsError(&raster.LoadError{Name: field, Err: err}))
	}
	g, err := raster.Decode(field, data)
	if err != nil {
		s.panicPipelineError(pipeline.AsError(err))
	}
	return g
}

func (s *Server) readSceneImage(scene, which string) *raster.Grid {
	names := make([]string, 0, len(sceneExtensions))
	for _, ext := range sceneExtensions {
		names = append(names, fmt.Sprintf("scenes/%v/%v.%v", scene, which, ext))
	}
	data, name, err := storage.ReadFirst(s.storage, names)
	if err != nil {
		s.panicPipelineError(pipeline.AsError(&raster.LoadError{Name: fmt.Sprintf("scenes/%v/%v", scene, which), Err: err}))
	}
	g, err := raster.Decode(name, data)
	if err != nil {
		s.panicPipelineError(pipeline.AsError(err))
	}
	return g
}

func (s *Server) analyzeAndRespond(w http.ResponseWriter, r *http.Request, req *analyzeRequest, before, after *raster.Grid) {
	ctx, cancel := context.WithTimeout(r.Context(), s.analysisTimeout())
	defer cancel()

	// Wait for a free analysis slot. The slot is held until the pipeline stops
	// computing, which can be after we give up on a timed out run.
	select {
	case s.semaphore <- true:
	case <-ctx.Done():
		s.panicPipelineError(pipeline.NewError(pipeline.KindTimeout, "Server is busy"))
	}

	start := time.Now()
	out, err := s.pipeline.RunContext(ctx, &pipeline.Input{
		Before:     before,
		After:      after,
		Detections: req.Detections,
		AOI:        *req.AOI,
		Finished:   func() { <-s.semaphore },
	})
	if err != nil {
		s.panicPipelineError(pipeline.AsError(err))
	}
	duration := time.Since(start)
	s.perf.Add("change", out.Timings.Change)
	s.perf.Add("fusion", out.Timings.Fusion)
	s.perf.Add("projection", out.Timings.Projection)
	s.perf.Add("report", out.Timings.Report)
	s.perf.Add("total", duration)

	publicID := uuid.NewString()
	resp := &analyzeResponse{
		ID:                publicID,
		ReportSummary:     out.Summary,
		AnomaliesGeoJSON:  out.GeoJSON,
		ImageBounds:       *req.AOI,
		ImageWidth:        out.Width,
		ImageHeight:       out.Height,
		RiskScore:         out.RiskScore,
		SimilarityScore:   out.Change.Similarity,
		Degraded:          out.Change.Degraded,
		DegradedReason:    out.Change.DegradedReason,
		FusedData:         out.Anomalies,
		SkippedDetections: []string{},
		Regions:           out.Change.Regions,
		DurationMS:        duration.Milliseconds(),
	}
	if resp.FusedData == nil {
		resp.FusedData = []fusion.FusedAnomaly{}
	}
	if resp.Regions == nil {
		resp.Regions = []change.Region{}
	}
	for _, skip := range out.Skipped {
		resp.SkippedDetections = append(resp.SkippedDetections, skip.Error())
	}

	maskPath := s.storeBlob(publicID, "mask.png", out.MaskPNG)
	overlayPath := s.storeBlob(publicID, "overlay.png", func() ([]byte, error) { return out.OverlayPNG(after) })
	if maskPath != "" {
		resp.ChangeMaskURL = s.blobURL(maskPath)
	}
	if overlayPath != "" {
		resp.OverlayURL = s.blobURL(overlayPath)
	}

	rec := &archive.Analysis{
		PublicID:       publicID,
		CreatedAt:      dbh.MakeIntTime(time.Now()),
		Scene:          req.Scene,
		Width:          out.Width,
		Height:         out.Height,
		Similarity:     out.Change.Similarity,
		RiskScore:      out.RiskScore,
		Degraded:       out.Change.Degraded,
		DegradedReason: out.Change.DegradedReason,
		NumAnomalies:   len(out.Anomalies),
		NumRegions:     len(out.Change.Regions),
		Summary:        out.Summary,
		MaskPath:       maskPath,
		OverlayPath:    overlayPath,
		DurationMS:     duration.Milliseconds(),
		AOI:            &dbh.JSONField[geo.AOIBounds]{Data: *req.AOI},
		Anomalies:      &dbh.JSONField[[]fusion.FusedAnomaly]{Data: resp.FusedData},
		GeoJSON:        &dbh.JSONField[geojson.FeatureCollection]{Data: *out.GeoJSON},
	}
	if err := s.archive.Insert(rec); err != nil {
		s.Log.Errorf("Failed to archive analysis %v: %v", publicID, err)
	} else {
		s.pruneArchive()
	}

	s.feed.Publish(feed.Event{
		ID:         publicID,
		Time:       time.Now(),
		Scene:      req.Scene,
		RiskScore:  out.RiskScore,
		Similarity: out.Change.Similarity,
		Anomalies:  len(out.Anomalies),
		Degraded:   out.Change.Degraded,
		Summary:    out.Summary,
	})

	www.SendJSON(w, resp)
}

// Encode and write a blob. Returns the blob name, or an empty string on failure.
// A failure to store an image is logged, but does not fail the analysis.
func (s *Server) storeBlob(publicID, file string, encode func() ([]byte, error)) string {
	name := blobName(publicID, file)
	data, err := encode()
	if err == nil {
		err = storage.WriteBytes(s.storage, name, data)
	}
	if err != nil {
		s.Log.Errorf("Failed to store %v: %v", name, err)
		return ""
	}
	return name
}

func (s *Server) blobURL(name string) string {
	if u, err := s.storage.URL(name); err == nil {
		return u
	}
	return "/api/v1/blob/" + name
}

func (s *Server) pruneArchive() {
	if s.Config.KeepAnalyses <= 0 {
		return
	}
	old, err := s.archive.Prune(s.Config.KeepAnalyses)
	if err != nil {
		s.Log.Errorf("Failed to prune analysis archive: %v", err)
		return
	}
	for _, rec := range old {
		for _, name := range []string{rec.MaskPath, rec.OverlayPath} {
			if name == "" {
				continue
			}
			if err := s.storage.DeleteFile(name); err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.Log.Warnf("Failed to delete blob %v: %v", name, err)
			}
		}
	}
}

func pipelineErrorStatus(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindRasterLoad, pipeline.KindInvalidAOI, pipeline.KindInvalidRequest:
		return http.StatusBadRequest
	case pipeline.KindTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) panicPipelineError(err *pipeline.Error) {
	www.Panic(pipelineErrorStatus(err.Kind), err.Error())
}
