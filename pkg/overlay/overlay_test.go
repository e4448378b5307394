package overlay

import (
	"testing"

	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geom"
	"github.com/cyclopcam/geochange/pkg/raster"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	base := raster.NewGrid(64, 64)
	base.FillRect(0, 0, 64, 64, 100)
	mask := raster.NewGrid(64, 64)
	mask.FillRect(40, 40, 60, 60, 255)

	anomalies := []fusion.FusedAnomaly{
		{Detection: fusion.Detection{BBox: []float64{5, 5, 20, 20}, Class: "vehicle"}, Tag: fusion.TagNewAnomaly, Center: geom.Point{X: 12, Y: 12}},
	}
	img := Render(base, mask, nil, anomalies, DefaultOptions())
	require.Equal(t, 64, img.Rect.Dx())

	// Untouched background stays gray
	c := img.RGBAAt(30, 30)
	require.Equal(t, c.R, c.G)
	require.Equal(t, uint8(100), c.R)

	// Changed pixels are tinted red
	c = img.RGBAAt(50, 50)
	require.Greater(t, c.R, c.G)
	require.Greater(t, c.R, uint8(100))

	png, err := RenderPNG(base, mask, nil, anomalies, DefaultOptions())
	require.NoError(t, err)
	decoded, err := raster.Decode("overlay.png", png)
	require.NoError(t, err)
	require.Equal(t, 64, decoded.Width)

	jpg, err := EncodeJPEG(img, 85)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xd8}, jpg[:2])
}

func TestRenderResizesBase(t *testing.T) {
	base := raster.NewGrid(32, 32)
	mask := raster.NewGrid(64, 48)
	img := Render(base, mask, nil, nil, DefaultOptions())
	require.Equal(t, 64, img.Rect.Dx())
	require.Equal(t, 48, img.Rect.Dy())
}
