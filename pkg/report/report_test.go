package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestPriority(t *testing.T) {
	require.Equal(t, PriorityHigh, Priority(7.01))
	require.Equal(t, PriorityMedium, Priority(7))
	require.Equal(t, PriorityMedium, Priority(4.5))
	require.Equal(t, PriorityLow, Priority(4))
	require.Equal(t, PriorityLow, Priority(0))
}

func testContext() *Context {
	return &Context{
		AOI: geo.AOIBounds{
			SouthWest: geo.LatLng{Lat: 40.7, Lng: -74.3},
			NorthEast: geo.LatLng{Lat: 40.8, Lng: -74.1},
		},
		Anomalies: []fusion.FusedAnomaly{
			{Detection: fusion.Detection{Class: "vehicle"}, Tag: fusion.TagNewAnomaly},
			{Detection: fusion.Detection{Class: "building"}, Tag: fusion.TagNewAnomaly},
			{Detection: fusion.Detection{Class: "vehicle"}, Tag: fusion.TagNewAnomaly},
			{Detection: fusion.Detection{Class: "tree"}, Tag: fusion.TagExistingObject},
		},
		Similarity: 0.93,
		RiskScore:  9.7,
	}
}

func TestTemplateSummarizer(t *testing.T) {
	rc := testContext()
	require.Equal(t, []string{"building", "vehicle"}, rc.UniqueClasses())

	s := TemplateSummarizer{}
	text, err := s.Summarize(context.Background(), rc)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "**BLUF:**"))
	require.Contains(t, text, "Lat: 40.7000, Lng: -74.3000")
	require.Contains(t, text, "found 3 new anomalies")
	require.Contains(t, text, "building, vehicle")
	require.Contains(t, text, "0.93")
	require.Contains(t, text, "HIGH PRIORITY")
	require.NotContains(t, text, "tree")

	rc.Anomalies = nil
	rc.RiskScore = 0.2
	text, err = s.Summarize(context.Background(), rc)
	require.NoError(t, err)
	require.Contains(t, text, "found 0 new anomalies")
	require.Contains(t, text, "LOW PRIORITY")
}

type failingSummarizer struct{}

func (f *failingSummarizer) Summarize(ctx context.Context, rc *Context) (string, error) {
	return "", errors.New("model unavailable")
}

func TestGenerateFallback(t *testing.T) {
	log := logs.NewTestingLog(t)
	require.Equal(t, FailedSummary, Generate(context.Background(), log, &failingSummarizer{}, testContext()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, FailedSummary, Generate(ctx, log, &TemplateSummarizer{}, testContext()))
}
