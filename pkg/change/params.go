package change

import (
	"fmt"
)

const DefaultWindowSize = 11
const DefaultKernelSize = 5
const DefaultMinRegionArea = 100
const DefaultFallbackSize = 512

// Params controls the change detector.
// Create a default Params with NewParams().
type Params struct {
	WindowSize      int     `json:"windowSize"`      // Side of the square SSIM window. Must be odd. Must exceed the opening footprint, or flat changes vanish.
	K1              float64 `json:"k1"`              // SSIM luminance stabilizer
	K2              float64 `json:"k2"`              // SSIM contrast stabilizer
	KernelSize      int     `json:"kernelSize"`      // Side of the square structuring element used for opening and closing. Must be odd.
	OpenIterations  int     `json:"openIterations"`  // Number of erosions (then dilations) in the opening
	CloseIterations int     `json:"closeIterations"` // Number of dilations (then erosions) in the closing
	MinRegionArea   int     `json:"minRegionArea"`   // Regions with a filled area <= MinRegionArea are dropped
	FallbackWidth   int     `json:"fallbackWidth"`   // Width of the empty mask returned when detection degrades
	FallbackHeight  int     `json:"fallbackHeight"`  // Height of the empty mask returned when detection degrades
}

func NewParams() *Params {
	return &Params{
		WindowSize:      DefaultWindowSize,
		K1:              0.01,
		K2:              0.03,
		KernelSize:      DefaultKernelSize,
		OpenIterations:  2,
		CloseIterations: 2,
		MinRegionArea:   DefaultMinRegionArea,
		FallbackWidth:   DefaultFallbackSize,
		FallbackHeight:  DefaultFallbackSize,
	}
}

func (p *Params) Validate() error {
	if p.WindowSize < 3 || p.WindowSize%2 == 0 {
		return fmt.Errorf("Invalid SSIM window size %v. Must be odd, and at least 3", p.WindowSize)
	}
	if p.KernelSize < 1 || p.KernelSize%2 == 0 {
		return fmt.Errorf("Invalid morphology kernel size %v. Must be odd", p.KernelSize)
	}
	if p.K1 <= 0 || p.K2 <= 0 {
		return fmt.Errorf("SSIM constants K1 and K2 must be positive")
	}
	if p.OpenIterations < 0 || p.CloseIterations < 0 || p.MinRegionArea < 0 {
		return fmt.Errorf("Iteration counts and minimum region area may not be negative")
	}
	if p.FallbackWidth <= 0 || p.FallbackHeight <= 0 {
		return fmt.Errorf("Fallback mask dimensions must be positive")
	}
	return nil
}
