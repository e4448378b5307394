// Package change finds regions that differ between two co-registered rasters.
//
// The pipeline is: structural similarity (SSIM) -> 8-bit change image -> Otsu
// threshold -> morphological open then close -> external region fill and
// area filter.
package change

import (
	"fmt"
	"math"
	"runtime/debug"

	"github.com/cyclopcam/geochange/pkg/raster"
	"github.com/cyclopcam/logs"
)

// Result of change detection.
// Mask holds only 0 and 255, and has the dimensions of the 'before' raster,
// unless the result is degraded.
type Result struct {
	Mask           *raster.Grid
	Similarity     float64 // Mean SSIM, in [0,1]. 1 means identical.
	Degraded       bool    // Detection failed internally, and Mask is an empty placeholder
	DegradedReason string
	Threshold      uint8 // Otsu threshold applied to the change image
	Regions        []Region
}

// DetectChange compares before and after, and returns a mask of the regions that changed.
// If after has different dimensions to before, it is resampled to match.
// Missing rasters produce a *raster.LoadError. Any other failure produces a degraded
// result (an empty mask, similarity 1) instead of an error.
func DetectChange(log logs.Log, before, after *raster.Grid, params *Params) (*Result, error) {
	if before.Empty() {
		return nil, &raster.LoadError{Name: "before", Err: raster.ErrEmptyGrid}
	}
	if after.Empty() {
		return nil, &raster.LoadError{Name: "after", Err: raster.ErrEmptyGrid}
	}
	if params == nil {
		params = NewParams()
	}

	res, err := detectProtected(before, after, params)
	if err != nil {
		log.Warnf("Change detection degraded, returning empty mask: %v", err)
		return degradedResult(params, err), nil
	}
	return res, nil
}

func degradedResult(params *Params, reason error) *Result {
	width := params.FallbackWidth
	height := params.FallbackHeight
	if width <= 0 || height <= 0 {
		width, height = DefaultFallbackSize, DefaultFallbackSize
	}
	return &Result{
		Mask:           raster.NewGrid(width, height),
		Similarity:     1,
		Degraded:       true,
		DegradedReason: reason.Error(),
		Regions:        []Region{},
	}
}

// Replaced in tests
var detectImpl = detect

func detectProtected(before, after *raster.Grid, params *Params) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("Panic during change detection: %v\n%s", r, debug.Stack())
		}
	}()
	return detectImpl(before, after, params)
}

func detect(before, after *raster.Grid, params *Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	after = raster.MatchSize(before, after)
	if !after.SameSize(before) {
		return nil, ErrSizeMismatch
	}

	score, ssimMap, err := SSIM(before, after, params.WindowSize, params.K1, params.K2)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, fmt.Errorf("SSIM score is not finite")
	}
	score = min(max(score, 0), 1)

	changeImg := ChangeImage(before.Width, before.Height, ssimMap)
	threshold, ok := OtsuThreshold(Histogram(changeImg))
	var binary *raster.Grid
	if ok {
		binary = Binarize(changeImg, threshold)
	} else {
		// A single intensity everywhere has nothing to separate
		binary = raster.NewGrid(before.Width, before.Height)
	}

	binary = Open(binary, params.KernelSize, params.OpenIterations)
	binary = Close(binary, params.KernelSize, params.CloseIterations)
	mask, regions := ExtractRegions(binary, params.MinRegionArea)

	return &Result{
		Mask:       mask,
		Similarity: score,
		Threshold:  threshold,
		Regions:    regions,
	}, nil
}
