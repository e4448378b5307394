// Package report turns the result of an analysis into a short written summary.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cyclopcam/geochange/pkg/change"
	"github.com/cyclopcam/geochange/pkg/fusion"
	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/cyclopcam/logs"
)

// The text returned when a Summarizer fails
const FailedSummary = "ERROR: Failed to generate the analysis report."

type PriorityLevel string

const (
	PriorityHigh   PriorityLevel = "HIGH"
	PriorityMedium PriorityLevel = "MEDIUM"
	PriorityLow    PriorityLevel = "LOW"
)

// Priority maps a risk score onto an action level
func Priority(risk float64) PriorityLevel {
	if risk > 7 {
		return PriorityHigh
	} else if risk > 4 {
		return PriorityMedium
	}
	return PriorityLow
}

// Context is everything a summarizer gets to see about one analysis
type Context struct {
	AOI        geo.AOIBounds         `json:"aoi_coordinates"`
	Anomalies  []fusion.FusedAnomaly `json:"detected_anomalies"`
	Similarity float64               `json:"overall_ssim_score"`
	RiskScore  float64               `json:"risk_score"`
	Regions    []change.Region       `json:"change_regions"`
	Degraded   bool                  `json:"degraded"`
}

// NewAnomalies returns only the anomalies tagged NEW_ANOMALY
func (c *Context) NewAnomalies() []fusion.FusedAnomaly {
	r := []fusion.FusedAnomaly{}
	for _, a := range c.Anomalies {
		if a.Tag == fusion.TagNewAnomaly {
			r = append(r, a)
		}
	}
	return r
}

// Sorted, de-duplicated classes of the new anomalies
func (c *Context) UniqueClasses() []string {
	seen := map[string]bool{}
	classes := []string{}
	for _, a := range c.NewAnomalies() {
		if !seen[a.Class] {
			seen[a.Class] = true
			classes = append(classes, a.Class)
		}
	}
	sort.Strings(classes)
	return classes
}

// A Summarizer writes a report from a Context.
// An implementation could call out to a language model, for example.
type Summarizer interface {
	Summarize(ctx context.Context, rc *Context) (string, error)
}

// Generate runs s, and falls back to FailedSummary if it fails.
// A report failure never fails the analysis.
func Generate(ctx context.Context, log logs.Log, s Summarizer, rc *Context) string {
	text, err := s.Summarize(ctx, rc)
	if err != nil {
		log.Errorf("Report generation failed: %v", err)
		return FailedSummary
	}
	return text
}

// TemplateSummarizer produces a deterministic three part report:
// a one line bottom line, the details, and a recommendation.
type TemplateSummarizer struct {
}

func (t *TemplateSummarizer) Summarize(ctx context.Context, rc *Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	anomalies := rc.NewAnomalies()
	n := len(anomalies)

	s := strings.Builder{}
	fmt.Fprintf(&s, "**BLUF:** Analysis of the AOI at [Lat: %.4f, Lng: %.4f] found %v new %v.",
		rc.AOI.SouthWest.Lat, rc.AOI.SouthWest.Lng, n, plural(n, "anomaly", "anomalies"))
	if n != 0 {
		s.WriteString(" This indicates new activity.")
	}
	s.WriteString("\n\n**Detailed Analysis:**\n")
	if rc.Degraded {
		s.WriteString("* Change detection could not run on this imagery, so no change regions were considered.\n")
	}
	if n == 0 {
		s.WriteString("* No significant change coincides with any detected object.\n")
	} else {
		fmt.Fprintf(&s, "* %v new %v detected across %v change %v.\n", n, plural(n, "anomaly", "anomalies"), len(rc.Regions), plural(len(rc.Regions), "region", "regions"))
		fmt.Fprintf(&s, "* Object classes: %v.\n", strings.Join(rc.UniqueClasses(), ", "))
		fmt.Fprintf(&s, "* Structural similarity of %.2f between the two images.\n", rc.Similarity)
	}

	s.WriteString("\n**Recommendation:**\n")
	switch Priority(rc.RiskScore) {
	case PriorityHigh:
		fmt.Fprintf(&s, "* HIGH PRIORITY (risk %.1f): Escalate for immediate analyst review.", rc.RiskScore)
	case PriorityMedium:
		fmt.Fprintf(&s, "* MEDIUM PRIORITY (risk %.1f): Log the detections and schedule a review. Keep monitoring the AOI.", rc.RiskScore)
	default:
		fmt.Fprintf(&s, "* LOW PRIORITY (risk %.1f): Logged. No immediate action required.", rc.RiskScore)
	}
	return s.String(), nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
