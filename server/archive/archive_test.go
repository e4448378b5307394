package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"
)

func createTestArchive(t *testing.T) *Archive {
	a, err := OpenSqlite(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "archive.sqlite"))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func makeAnalysis(created time.Time, risk float64) *Analysis {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{-74.2, 40.75})
	f.Properties["type"] = "NEW_ANOMALY"
	fc.Append(f)
	return &Analysis{
		PublicID:   uuid.NewString(),
		CreatedAt:  dbh.MakeIntTime(created),
		Width:      512,
		Height:     512,
		Similarity: 0.97,
		RiskScore:  risk,
		AOI: &dbh.JSONField[geo.AOIBounds]{Data: geo.AOIBounds{
			SouthWest: geo.LatLng{Lat: 40.7, Lng: -74.3},
			NorthEast: geo.LatLng{Lat: 40.8, Lng: -74.1},
		}},
		Anomalies: &dbh.JSONField[[]fusion.FusedAnomaly]{Data: []fusion.FusedAnomaly{
			{Detection: fusion.Detection{BBox: []float64{1, 2, 3, 4}, Class: "vehicle"}, Tag: fusion.TagNewAnomaly},
		}},
		GeoJSON: &dbh.JSONField[geojson.FeatureCollection]{Data: *fc},
	}
}

func TestInsertAndGet(t *testing.T) {
	a := createTestArchive(t)
	rec := makeAnalysis(time.Now(), 3.2)
	require.NoError(t, a.Insert(rec))
	require.NotEqual(t, int64(0), rec.ID)

	back, err := a.Get(rec.PublicID)
	require.NoError(t, err)
	require.Equal(t, 3.2, back.RiskScore)
	require.Equal(t, 40.8, back.AOI.Data.NorthEast.Lat)
	require.Equal(t, "vehicle", back.Anomalies.Data[0].Class)
	require.Equal(t, 1, len(back.GeoJSON.Data.Features))
	require.Equal(t, "NEW_ANOMALY", back.GeoJSON.Data.Features[0].Properties["type"])

	_, err = a.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, a.Insert(&Analysis{}))
}

func TestListAndPrune(t *testing.T) {
	a := createTestArchive(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Insert(makeAnalysis(base.Add(time.Duration(i)*time.Minute), float64(i))))
	}
	list, err := a.List(3)
	require.NoError(t, err)
	require.Equal(t, 3, len(list))
	// Newest first
	require.Equal(t, 4.0, list[0].RiskScore)
	require.Equal(t, 2.0, list[2].RiskScore)
	// Heavy columns are not loaded in lists
	require.Nil(t, list[0].GeoJSON)

	pruned, err := a.Prune(2)
	require.NoError(t, err)
	require.Equal(t, 3, len(pruned))
	list, err = a.List(0)
	require.NoError(t, err)
	require.Equal(t, 2, len(list))
}
