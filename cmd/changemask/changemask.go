// changemask runs a single before/after analysis on local files, and writes the
// change mask, an overlay, and the anomalies as GeoJSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/cyclopcam/geochange/pkg/overlay"
	"github.com/cyclopcam/geochange/pkg/pipeline"
	"github.com/cyclopcam/geochange/pkg/raster"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("changemask", "Detect changes between two images, and geolocate the new anomalies")
	beforeFile := parser.String("b", "before", &argparse.Options{Required: true, Help: "Before image"})
	afterFile := parser.String("a", "after", &argparse.Options{Required: true, Help: "After image"})
	aoiJSON := parser.String("", "aoi", &argparse.Options{Required: true, Help: `AOI as JSON, eg {"south_west":{"lat":40.7,"lng":-74.3},"north_east":{"lat":40.8,"lng":-74.1}}`})
	detectionsFile := parser.String("d", "detections", &argparse.Options{Help: "JSON file with an array of detections ({bbox, class, confidence})", Default: ""})
	outDir := parser.String("o", "out", &argparse.Options{Help: "Output directory", Default: "."})
	jpegQuality := parser.Int("", "jpeg", &argparse.Options{Help: "Write the overlay as JPEG with this quality, instead of PNG", Default: 0})
	surfaceExisting := parser.Flag("", "existing", &argparse.Options{Help: "Include EXISTING_OBJECT detections in the output", Default: false})
	allDetections := parser.Flag("", "all-detections", &argparse.Options{Help: "Also write every detection as GeoJSON, regardless of change", Default: false})
	timeout := parser.Int("t", "timeout", &argparse.Options{Help: "Timeout in seconds", Default: 60})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	aoi := geo.AOIBounds{}
	check(json.Unmarshal([]byte(*aoiJSON), &aoi))

	detections := []fusion.Detection{}
	if *detectionsFile != "" {
		raw, err := os.ReadFile(*detectionsFile)
		check(err)
		check(json.Unmarshal(raw, &detections))
	}

	before, err := raster.LoadFile(*beforeFile)
	check(err)
	after, err := raster.LoadFile(*afterFile)
	check(err)

	p := pipeline.New(logger, nil)
	p.Fuser.SurfaceExisting = *surfaceExisting
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()
	out, err := p.RunContext(ctx, &pipeline.Input{
		Before:     before,
		After:      after,
		Detections: detections,
		AOI:        aoi,
	})
	check(err)

	check(os.MkdirAll(*outDir, 0755))
	maskPNG, err := out.MaskPNG()
	check(err)
	check(os.WriteFile(filepath.Join(*outDir, "mask.png"), maskPNG, 0644))

	if *jpegQuality > 0 {
		img := overlay.Render(after, out.Change.Mask, out.Change.Regions, out.Anomalies, overlay.DefaultOptions())
		jpg, err := overlay.EncodeJPEG(img, *jpegQuality)
		check(err)
		check(os.WriteFile(filepath.Join(*outDir, "overlay.jpg"), jpg, 0644))
	} else {
		overlayPNG, err := out.OverlayPNG(after)
		check(err)
		check(os.WriteFile(filepath.Join(*outDir, "overlay.png"), overlayPNG, 0644))
	}

	gj, err := out.GeoJSON.MarshalJSON()
	check(err)
	check(os.WriteFile(filepath.Join(*outDir, "anomalies.geojson"), gj, 0644))

	if *allDetections {
		all, err := geo.ProjectDetections(detections, aoi, out.Height, out.Width)
		check(err)
		gj, err := all.MarshalJSON()
		check(err)
		check(os.WriteFile(filepath.Join(*outDir, "detections.geojson"), gj, 0644))
	}

	if out.Change.Degraded {
		logger.Warnf("Change detection degraded: %v", out.Change.DegradedReason)
	}
	fmt.Printf("%v\n", out.Summary)
}
