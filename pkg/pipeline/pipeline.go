// Package pipeline runs a complete analysis: change detection, fusion with detections,
// projection onto the AOI, and the report.
package pipeline

import (
	"bytes"
	"context"
	"time"

	"github.com/cyclopcam/geochange/pkg/change"
	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/cyclopcam/geochange/pkg/overlay"
	"github.com/cyclopcam/geochange/pkg/raster"
	"github.com/cyclopcam/geochange/pkg/report"
	"github.com/cyclopcam/logs"
	"github.com/paulmach/orb/geojson"
)

// Pipeline holds configuration only, so a single Pipeline can serve
// any number of concurrent runs.
type Pipeline struct {
	Log        logs.Log
	Params     *change.Params
	Fuser      fusion.Fuser
	Summarizer report.Summarizer
}

func New(log logs.Log, params *change.Params) *Pipeline {
	if params == nil {
		params = change.NewParams()
	}
	return &Pipeline{
		Log:        log,
		Params:     params,
		Summarizer: &report.TemplateSummarizer{},
	}
}

type Input struct {
	Before     *raster.Grid
	After      *raster.Grid
	Detections []fusion.Detection
	AOI        geo.AOIBounds

	// If not nil, Finished is called once the run has stopped computing.
	// For a run abandoned by RunContext, this is later than RunContext's return.
	Finished func()
}

type Timings struct {
	Change     time.Duration
	Fusion     time.Duration
	Projection time.Duration
	Report     time.Duration
}

func (t *Timings) Total() time.Duration {
	return t.Change + t.Fusion + t.Projection + t.Report
}

type Output struct {
	Change    *change.Result
	Anomalies []fusion.FusedAnomaly
	RiskScore float64
	GeoJSON   *geojson.FeatureCollection
	Skipped   []error // One *fusion.MalformedDetectionError per skipped detection
	Report    *report.Context
	Summary   string
	Width     int // Dimensions of the 'before' raster, which the bounding boxes refer to
	Height    int
	Timings   Timings
}

// Run executes the analysis synchronously.
// The only errors are of type *Error. A degraded change detection is not an error;
// see Output.Change.Degraded.
func (p *Pipeline) Run(ctx context.Context, in *Input) (*Output, error) {
	if in.Finished != nil {
		defer in.Finished()
	}
	if err := in.AOI.Validate(); err != nil {
		return nil, AsError(err)
	}
	if err := checkContext(ctx, "change detection"); err != nil {
		return nil, err
	}

	out := &Output{}
	start := time.Now()
	res, err := change.DetectChange(p.Log, in.Before, in.After, p.Params)
	if err != nil {
		return nil, AsError(err)
	}
	out.Change = res
	out.Width = in.Before.Width
	out.Height = in.Before.Height
	out.Timings.Change = time.Since(start)
	if err := checkContext(ctx, "fusion"); err != nil {
		return nil, err
	}

	start = time.Now()
	out.Anomalies, out.RiskScore, out.Skipped = p.Fuser.Fuse(in.Detections, res)
	for _, skip := range out.Skipped {
		p.Log.Warnf("%v", skip)
	}
	out.Timings.Fusion = time.Since(start)
	if err := checkContext(ctx, "projection"); err != nil {
		return nil, err
	}

	start = time.Now()
	out.GeoJSON, err = geo.Project(out.Anomalies, in.AOI, out.Height, out.Width)
	if err != nil {
		return nil, AsError(err)
	}
	out.Timings.Projection = time.Since(start)

	start = time.Now()
	out.Report = &report.Context{
		AOI:        in.AOI,
		Anomalies:  out.Anomalies,
		Similarity: res.Similarity,
		RiskScore:  out.RiskScore,
		Regions:    res.Regions,
		Degraded:   res.Degraded,
	}
	summarizer := p.Summarizer
	if summarizer == nil {
		summarizer = &report.TemplateSummarizer{}
	}
	out.Summary = report.Generate(ctx, p.Log, summarizer, out.Report)
	out.Timings.Report = time.Since(start)

	p.Log.Infof("Analysis of %v x %v raster: similarity %.3f, %v anomalies, risk %.1f (%v)",
		out.Width, out.Height, res.Similarity, len(out.Anomalies), out.RiskScore, out.Timings.Total())
	return out, nil
}

// Abandon the run between stages once nobody is waiting for it
func checkContext(ctx context.Context, nextStage string) *Error {
	if err := ctx.Err(); err != nil {
		return NewError(KindTimeout, "Analysis stopped before %v: %v", nextStage, err)
	}
	return nil
}

// RunContext runs the analysis on its own goroutine, and gives up waiting when ctx is done.
// An abandoned run stops at the next stage boundary, and its result is discarded.
// Use Input.Finished to learn when the background work has actually stopped.
func (p *Pipeline) RunContext(ctx context.Context, in *Input) (*Output, error) {
	type result struct {
		out *Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := p.Run(ctx, in)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, NewError(KindTimeout, "Analysis did not complete in time: %v", ctx.Err())
	}
}

// MaskPNG encodes the change mask as a grayscale PNG
func (o *Output) MaskPNG() ([]byte, error) {
	buf := bytes.Buffer{}
	if err := o.Change.Mask.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OverlayPNG draws the mask and anomalies over the 'after' raster
func (o *Output) OverlayPNG(after *raster.Grid) ([]byte, error) {
	return overlay.RenderPNG(after, o.Change.Mask, o.Change.Regions, o.Anomalies, overlay.DefaultOptions())
}
