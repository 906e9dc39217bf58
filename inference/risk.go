package inference

import "fmt"

const (
	RiskLow      = "Low"
	RiskModerate = "Moderate"
	RiskHigh     = "High"
)

// RiskBands splits a score into levels: below Low is RiskLow, below Moderate
// is RiskModerate, anything else RiskHigh.
type RiskBands struct {
	Low      float64 `yaml:"low"`
	Moderate float64 `yaml:"moderate"`
}

func DefaultRiskBands() RiskBands {
	return RiskBands{Low: 0.012, Moderate: 0.060}
}

func (b RiskBands) Validate() error {
	if b.Low < 0 || b.Moderate > 1 || b.Low >= b.Moderate {
		return fmt.Errorf("risk bands must satisfy 0 <= low < moderate <= 1, got low=%v moderate=%v", b.Low, b.Moderate)
	}
	return nil
}

func (b RiskBands) Classify(score float64) string {
	switch {
	case score < b.Low:
		return RiskLow
	case score < b.Moderate:
		return RiskModerate
	default:
		return RiskHigh
	}
}
