package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStages(t *testing.T) {
	s := NewStages()
	s.Add("change", 10*time.Millisecond)
	s.Add("change", 30*time.Millisecond)
	s.Add("fusion", 500*time.Microsecond)

	sum := s.Summary()
	require.Equal(t, 2, len(sum))
	require.Equal(t, int64(2), sum["change"].Samples)
	require.Equal(t, 20.0, sum["change"].AverageMS)
	require.Equal(t, 30.0, sum["change"].MaxMS)
	require.Equal(t, 0.5, sum["fusion"].AverageMS)

	empty := TimeAccumulator{}
	require.Equal(t, time.Duration(0), empty.Average())
}
