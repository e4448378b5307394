// Package perfstats accumulates how long each stage of an analysis takes.
package perfstats

import (
	"sync"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// StageSummary is the JSON view of one stage, in milliseconds
type StageSummary struct {
	Samples   int64   `json:"samples"`
	AverageMS float64 `json:"averageMS"`
	MaxMS     float64 `json:"maxMS"`
}

// Stages is a thread safe set of named TimeAccumulators
type Stages struct {
	lock   sync.Mutex
	stages map[string]*TimeAccumulator
}

func NewStages() *Stages {
	return &Stages{
		stages: map[string]*TimeAccumulator{},
	}
}

func (s *Stages) Add(stage string, d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a := s.stages[stage]
	if a == nil {
		a = &TimeAccumulator{}
		s.stages[stage] = a
	}
	a.AddSample(d)
}

func (s *Stages) Summary() map[string]StageSummary {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := map[string]StageSummary{}
	for name, a := range s.stages {
		out[name] = StageSummary{
			Samples:   a.Samples,
			AverageMS: float64(a.Average().Microseconds()) / 1000,
			MaxMS:     float64(a.Max.Microseconds()) / 1000,
		}
	}
	return out
}
