package risk

import "fmt"

type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Analysis is the outcome of scoring a driver. Score runs 0-100 where 0 is
// safe, and Factors names every signal that contributed.
type Analysis struct {
	Score   int      `json:"score"`
	Level   Level    `json:"level"`
	Factors []string `json:"factors"`
}

// DriverSignals is the input to scoring. Rating zero means unrated and
// contributes nothing; CancelRate is a percentage.
type DriverSignals struct {
	Rating      float64
	Suspended   bool
	CancelRate  float64
	ReportCount int64
}

// ScoreDriver computes the risk score from the driver's signals. Pure
// function: no clock, no I/O, same input always yields the same analysis.
//
// Weights: rating contributes up to 30 points, cancellation rate up to 40,
// user reports 50. A suspended account pins the score at 100.
func ScoreDriver(signals DriverSignals) Analysis {
	score := 0
	var factors []string

	if signals.Rating > 0 && signals.Rating < 4.0 {
		score += 30
		factors = append(factors, "Extremely Low Rating (< 4.0)")
	} else if signals.Rating > 0 && signals.Rating < 4.5 {
		score += 10
		factors = append(factors, "Below Average Rating")
	}

	if signals.CancelRate > 20 {
		score += 40
		factors = append(factors, "High Cancellation Rate (> 20%)")
	} else if signals.CancelRate > 10 {
		score += 15
		factors = append(factors, "Moderate Cancellation Rate (> 10%)")
	}

	if signals.ReportCount > 0 {
		score += 50
		factors = append(factors, fmt.Sprintf("Flagged by Users (%d reports)", signals.ReportCount))
	}

	if signals.Suspended {
		score = 100
		factors = append(factors, "Account Suspended")
	}

	if score > 100 {
		score = 100
	}

	level := LevelLow
	switch {
	case score > 80:
		level = LevelCritical
	case score > 50:
		level = LevelHigh
	case score > 20:
		level = LevelMedium
	}

	return Analysis{Score: score, Level: level, Factors: factors}
}
