// Package overlay draws change masks and anomalies on top of the 'after' image,
// for a human to look at.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/geochange/pkg/change"
	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/raster"
	"github.com/fogleman/gg"
)

type Options struct {
	MaskOpacity float64 // 0..1, strength of the red tint on changed pixels
	LineWidth   float64
	Labels      bool // Draw the class name above each anomaly
}

func DefaultOptions() Options {
	return Options{
		MaskOpacity: 0.45,
		LineWidth:   2,
		Labels:      true,
	}
}

// Render draws base in grayscale, tints the changed pixels of mask red, outlines the
// change regions, and draws a box around each anomaly.
// The output has the dimensions of mask. base is resampled if necessary.
func Render(base, mask *raster.Grid, regions []change.Region, anomalies []fusion.FusedAnomaly, opt Options) *image.RGBA {
	width, height := mask.Width, mask.Height
	if base.Empty() {
		base = raster.NewGrid(width, height)
	}
	base = raster.Resize(base, width, height)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	tint := uint32(opt.MaskOpacity * 256)
	for y := 0; y < height; y++ {
		src := base.Pixels[y*width : (y+1)*width]
		m := mask.Pixels[y*width : (y+1)*width]
		dst := img.Pix[y*img.Stride:]
		for x, v := range src {
			r, g, b := uint32(v), uint32(v), uint32(v)
			if m[x] != 0 {
				r = (r*(256-tint) + 255*tint) >> 8
				g = (g * (256 - tint)) >> 8
				b = (b * (256 - tint)) >> 8
			}
			dst[x*4] = byte(r)
			dst[x*4+1] = byte(g)
			dst[x*4+2] = byte(b)
			dst[x*4+3] = 255
		}
	}

	dc := gg.NewContextForRGBA(img)
	dc.SetLineWidth(opt.LineWidth)

	dc.SetRGBA(1, 0.8, 0, 0.9)
	for _, r := range regions {
		dc.DrawRectangle(float64(r.Bounds.X), float64(r.Bounds.Y), float64(r.Bounds.Width), float64(r.Bounds.Height))
		dc.Stroke()
	}

	for _, a := range anomalies {
		if a.Validate() != "" {
			continue
		}
		if a.Tag == fusion.TagNewAnomaly {
			dc.SetRGB(1, 0.1, 0.1)
		} else {
			dc.SetRGB(0.2, 0.6, 1)
		}
		x1, y1, x2, y2 := a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3]
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()
		dc.DrawCircle(float64(a.Center.X), float64(a.Center.Y), 2)
		dc.Fill()
		if opt.Labels && a.Class != "" {
			dc.DrawStringAnchored(a.Class, x1, y1-2, 0, 0)
		}
	}
	return img
}

func EncodePNG(w io.Writer, img *image.RGBA) error {
	dc := gg.NewContextForRGBA(img)
	return dc.EncodePNG(w)
}

// EncodeJPEG compresses img with libjpeg-turbo
func EncodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	width := img.Rect.Dx()
	height := img.Rect.Dy()
	rgb := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		src := img.Pix[y*img.Stride:]
		dst := rgb[y*width*3:]
		for x := 0; x < width; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	wrapped := cimg.WrapImage(width, height, cimg.PixelFormatRGB, rgb)
	jpg, err := cimg.Compress(wrapped, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to compress overlay: %w", err)
	}
	return jpg, nil
}

// RenderPNG is Render followed by EncodePNG
func RenderPNG(base, mask *raster.Grid, regions []change.Region, anomalies []fusion.FusedAnomaly, opt Options) ([]byte, error) {
	img := Render(base, mask, regions, anomalies, opt)
	buf := bytes.Buffer{}
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
