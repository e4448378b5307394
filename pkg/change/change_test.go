package change

import (
	"errors"
	"testing"

	"github.com/cyclopcam/geochange/pkg/geom"
	"github.com/cyclopcam/geochange/pkg/raster"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func texturedGrid(width, height int) *raster.Grid {
	g := raster.NewGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.Set(x, y, byte((x*x+y*3+x*y)%251))
		}
	}
	return g
}

// A gray 512x512 scene, and the same scene with a white square at [100,200] (inclusive)
func squareScene() (before, after *raster.Grid) {
	before = raster.NewGrid(512, 512)
	before.FillRect(0, 0, 512, 512, 128)
	after = before.Clone()
	after.FillRect(100, 100, 201, 201, 255)
	return
}

func TestIdenticalRasters(t *testing.T) {
	log := logs.NewTestingLog(t)
	a := texturedGrid(200, 150)
	b := a.Clone()
	res, err := DetectChange(log, a, b, nil)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.InDelta(t, 1.0, res.Similarity, 1e-9)
	require.Equal(t, 200, res.Mask.Width)
	require.Equal(t, 150, res.Mask.Height)
	require.Equal(t, 0, res.Mask.CountNonZero())
	require.Empty(t, res.Regions)
}

func TestSquareChange(t *testing.T) {
	log := logs.NewTestingLog(t)
	before, after := squareScene()
	res, err := DetectChange(log, before, after, nil)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Less(t, res.Similarity, 1.0)
	require.Greater(t, res.Similarity, 0.9)

	require.Equal(t, 1, len(res.Regions))
	r := res.Regions[0]
	require.True(t, r.Bounds.Contains(geom.Point{X: 100, Y: 100}))
	require.True(t, r.Bounds.Contains(geom.Point{X: 200, Y: 200}))
	require.Greater(t, r.Area, 101*101)
	require.Equal(t, r.Area, res.Mask.CountNonZero())

	// Filled solid, including the flat interior of the square
	require.Equal(t, byte(255), res.Mask.At(150, 150))
	require.Equal(t, byte(255), res.Mask.At(101, 199))
	require.Equal(t, byte(0), res.Mask.At(10, 10))
	require.Equal(t, byte(0), res.Mask.At(300, 300))
	for _, v := range res.Mask.Pixels {
		require.True(t, v == 0 || v == 255)
	}
}

func TestResampleAfter(t *testing.T) {
	log := logs.NewTestingLog(t)
	before := raster.NewGrid(512, 512)
	before.FillRect(0, 0, 512, 512, 90)
	after := raster.NewGrid(256, 256)
	after.FillRect(0, 0, 256, 256, 90)
	res, err := DetectChange(log, before, after, nil)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, 512, res.Mask.Width)
	require.Equal(t, 512, res.Mask.Height)
	require.Equal(t, 0, res.Mask.CountNonZero())
	require.InDelta(t, 1.0, res.Similarity, 1e-9)
}

func TestMissingRaster(t *testing.T) {
	log := logs.NewTestingLog(t)
	_, err := DetectChange(log, nil, texturedGrid(20, 20), nil)
	var loadErr *raster.LoadError
	require.True(t, errors.As(err, &loadErr))
	require.Equal(t, "before", loadErr.Name)

	_, err = DetectChange(log, texturedGrid(20, 20), &raster.Grid{}, nil)
	require.True(t, errors.As(err, &loadErr))
	require.Equal(t, "after", loadErr.Name)
}

func TestDegradedFallback(t *testing.T) {
	log := logs.NewTestingLog(t)
	// Smaller than the SSIM window
	a := texturedGrid(5, 5)
	b := raster.NewGrid(5, 5)
	res, err := DetectChange(log, a, b, nil)
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.NotEmpty(t, res.DegradedReason)
	require.Equal(t, 1.0, res.Similarity)
	require.Equal(t, 512, res.Mask.Width)
	require.Equal(t, 512, res.Mask.Height)
	require.Equal(t, 0, res.Mask.CountNonZero())

	// Invalid params also degrade
	params := NewParams()
	params.WindowSize = 4
	params.FallbackWidth = 64
	params.FallbackHeight = 32
	res, err = DetectChange(log, texturedGrid(50, 50), texturedGrid(50, 50), params)
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Equal(t, 64, res.Mask.Width)
	require.Equal(t, 32, res.Mask.Height)
}

func TestDegradedAfterPanic(t *testing.T) {
	log := logs.NewTestingLog(t)
	detectImpl = func(before, after *raster.Grid, params *Params) (*Result, error) {
		panic("corrupt raster")
	}
	defer func() { detectImpl = detect }()

	before, after := squareScene()
	res, err := DetectChange(log, before, after, nil)
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Contains(t, res.DegradedReason, "Panic during change detection")
	require.Equal(t, 1.0, res.Similarity)
	require.Equal(t, 512, res.Mask.Width)
	require.Equal(t, 0, res.Mask.CountNonZero())
	require.Empty(t, res.Regions)
}

// The SSIM window spreads a change over its footprint before thresholding, so even a
// single changed pixel grows into a region of WindowSize^2 pixels, which exceeds
// MinRegionArea with the default 11 pixel window. The area filter only removes
// specks that the morphology leaves behind, not small changes in the inputs.
func TestSmallChangeFootprint(t *testing.T) {
	log := logs.NewTestingLog(t)
	cases := []struct {
		side     int
		maskArea int
	}{
		{1, 121},
		{5, 225},
		{10, 400},
	}
	for _, c := range cases {
		before := raster.NewGrid(512, 512)
		before.FillRect(0, 0, 512, 512, 128)
		after := before.Clone()
		after.FillRect(250, 250, 250+c.side, 250+c.side, 255)
		res, err := DetectChange(log, before, after, nil)
		require.NoError(t, err)
		require.False(t, res.Degraded)
		require.Equal(t, c.maskArea, res.Mask.CountNonZero(), "side %v", c.side)
		require.Equal(t, 1, len(res.Regions), "side %v", c.side)
		require.True(t, res.Regions[0].Bounds.Contains(geom.Point{X: 250, Y: 250}))
	}

	// A window no larger than the opening footprint loses flat changes entirely,
	// even the large square.
	params := NewParams()
	params.WindowSize = 7
	before, after := squareScene()
	res, err := DetectChange(log, before, after, params)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, 0, res.Mask.CountNonZero())
	require.Empty(t, res.Regions)
}

func TestSSIM(t *testing.T) {
	a := texturedGrid(40, 30)
	score, m, err := SSIM(a, a, 7, 0.01, 0.03)
	require.NoError(t, err)
	require.InDelta(t, 1.0, score, 1e-9)
	require.Equal(t, 40*30, len(m))

	// Inverting the image destroys the structure
	b := a.Clone()
	for i := range b.Pixels {
		b.Pixels[i] = 255 - b.Pixels[i]
	}
	score, _, err = SSIM(a, b, 7, 0.01, 0.03)
	require.NoError(t, err)
	require.Less(t, score, 0.5)

	_, _, err = SSIM(a, texturedGrid(30, 30), 7, 0.01, 0.03)
	require.ErrorIs(t, err, ErrSizeMismatch)

	require.Equal(t, 0, reflectIndex(-1, 10))
	require.Equal(t, 2, reflectIndex(-3, 10))
	require.Equal(t, 9, reflectIndex(10, 10))
	require.Equal(t, 7, reflectIndex(12, 10))
}

func TestChangeImage(t *testing.T) {
	g := ChangeImage(4, 1, []float64{1, 0, -0.5, 0.5})
	require.Equal(t, []byte{0, 255, 255, 128}, g.Pixels)
}

func TestOtsu(t *testing.T) {
	var hist [256]int
	hist[20] = 100
	hist[200] = 100
	th, ok := OtsuThreshold(hist)
	require.True(t, ok)
	require.GreaterOrEqual(t, th, uint8(20))
	require.Less(t, th, uint8(200))

	// Unequal classes with spread
	hist = [256]int{}
	for i := 10; i < 30; i++ {
		hist[i] = 50
	}
	for i := 180; i < 220; i++ {
		hist[i] = 10
	}
	th, ok = OtsuThreshold(hist)
	require.True(t, ok)
	require.GreaterOrEqual(t, th, uint8(29))
	require.Less(t, th, uint8(180))

	// A single occupied bin has no split
	hist = [256]int{}
	hist[77] = 1000
	_, ok = OtsuThreshold(hist)
	require.False(t, ok)

	_, ok = OtsuThreshold([256]int{})
	require.False(t, ok)

	g := raster.NewGrid(3, 1)
	g.Pixels = []byte{10, 50, 51}
	require.Equal(t, []byte{0, 0, 255}, Binarize(g, 50).Pixels)
}

func TestMorphology(t *testing.T) {
	g := raster.NewGrid(100, 100)
	// Speck
	g.FillRect(10, 10, 13, 13, 255)
	// Solid square
	g.FillRect(40, 40, 70, 70, 255)
	opened := Open(g, 5, 2)
	require.Equal(t, byte(0), opened.At(11, 11))
	require.Equal(t, 30*30, opened.CountNonZero())
	require.Equal(t, byte(255), opened.At(40, 40))
	require.Equal(t, byte(255), opened.At(69, 69))

	// A thin gap is bridged by closing
	g = raster.NewGrid(100, 100)
	g.FillRect(20, 20, 50, 60, 255)
	g.FillRect(52, 20, 80, 60, 255)
	closed := Close(g, 5, 2)
	require.Equal(t, byte(255), closed.At(51, 40))
	require.Equal(t, byte(0), closed.At(10, 10))

	// Erosion does not eat in from the image border
	g = raster.NewGrid(20, 20)
	g.FillRect(0, 0, 20, 20, 255)
	require.Equal(t, 400, Erode(g, 5, 2).CountNonZero())

	// Dilation grows by the radius per iteration
	g = raster.NewGrid(20, 20)
	g.Set(10, 10, 255)
	require.Equal(t, 9*9, Dilate(g, 5, 2).CountNonZero())
}

func TestExtractRegionsAreaFilter(t *testing.T) {
	g := raster.NewGrid(100, 100)
	// 10x10 = 100, dropped
	g.FillRect(5, 5, 15, 15, 255)
	// 10x11 = 110, kept
	g.FillRect(50, 50, 60, 61, 255)
	out, regions := ExtractRegions(g, 100)
	require.Equal(t, 1, len(regions))
	require.Equal(t, 110, regions[0].Area)
	require.Equal(t, geom.Rect{X: 50, Y: 50, Width: 10, Height: 11}, regions[0].Bounds)
	require.Equal(t, geom.Point{X: 54, Y: 55}, regions[0].Centroid)
	require.Equal(t, 110, out.CountNonZero())
	require.Equal(t, byte(0), out.At(10, 10))
}

func TestExtractRegionsFillsHoles(t *testing.T) {
	g := raster.NewGrid(100, 100)
	// Hollow square, outer 30x30, walls 3 wide
	g.FillRect(10, 10, 40, 40, 255)
	g.FillRect(13, 13, 37, 37, 0)
	// A blob inside the hole is absorbed by the outer region
	g.FillRect(20, 20, 25, 25, 255)
	// A separate region outside, which shares no pixels with the first one's fill
	g.FillRect(60, 10, 80, 30, 255)

	out, regions := ExtractRegions(g, 100)
	require.Equal(t, 2, len(regions))
	require.Equal(t, 900, regions[0].Area)
	require.Equal(t, 400, regions[1].Area)
	require.Equal(t, 0, regions[0].ID)
	require.Equal(t, 1, regions[1].ID)
	require.Equal(t, byte(255), out.At(30, 30))
	require.Equal(t, 1300, out.CountNonZero())
}

func TestExtractRegionsDiagonalOutline(t *testing.T) {
	// A diamond outline, 8-connected only through diagonal steps. Its inside must still be filled.
	g := raster.NewGrid(40, 40)
	cx, cy, r := 20, 20, 10
	for i := 0; i <= r; i++ {
		g.Set(cx-r+i, cy-i, 255)
		g.Set(cx-r+i, cy+i, 255)
		g.Set(cx+r-i, cy-i, 255)
		g.Set(cx+r-i, cy+i, 255)
	}
	out, regions := ExtractRegions(g, 0)
	require.Equal(t, 1, len(regions))
	require.Equal(t, byte(255), out.At(cx, cy))
	// Diamond of radius r covers 2r(r+1)+1 pixels
	require.Equal(t, 2*r*(r+1)+1, regions[0].Area)
}
