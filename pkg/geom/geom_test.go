package geom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRect(t *testing.T) {
	r := RectFromCorners(10, 20, 19, 24)
	require.Equal(t, 10, r.Width)
	require.Equal(t, 5, r.Height)
	require.Equal(t, 20, r.X2())
	require.Equal(t, 25, r.Y2())
	require.Equal(t, 50, r.Area())
	require.True(t, r.Contains(Point{10, 20}))
	require.True(t, r.Contains(Point{19, 24}))
	require.False(t, r.Contains(Point{20, 24}))
	require.False(t, r.Contains(Point{9, 22}))
}

func TestDistance(t *testing.T) {
	require.Equal(t, float32(5), Point{0, 0}.Distance(Point{3, 4}))
	require.Equal(t, float32(0), Point{7, 7}.Distance(Point{7, 7}))
}
