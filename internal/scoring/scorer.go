// Package scoring ranks findings into 0-100 priority scores and P0-P3
// levels. Scoring is a pure, total function: unknown enum values fall back
// to medium-weight defaults and never produce an error.
package scoring

import (
	"math"
	"time"

	"github.com/steveyegge/greenlight/internal/types"
)

// Dimension weights. Impact dominates, confidence nudges.
const (
	impactWeight     = 0.4
	urgencyWeight    = 0.3
	effortWeight     = 0.2
	confidenceWeight = 0.1
)

// DefaultConfidence is assumed when an analyzer reports no confidence.
const DefaultConfidence = 0.8

// defaultDimensionScore is the fallback for unknown enum values.
const defaultDimensionScore = 50

// Result is the computed priority for one finding.
type Result struct {
	Score int         `json:"score"`
	Level types.Level `json:"level"`
}

// Breakdown exposes the weighted components behind a score for audit
// display. Zero for signal-overridden results.
type Breakdown struct {
	Urgency    float64 `json:"urgency"`
	Impact     float64 `json:"impact"`
	Effort     float64 `json:"effort"`
	Confidence float64 `json:"confidence"`
	Overridden bool    `json:"overridden"`
}

// Score computes the priority of a finding, honoring an optional user
// signal. A live signal fully dominates: the result depends only on the
// signal's level and none of the finding's fields.
func Score(f types.Finding, sig *types.PrioritySignal) Result {
	return ScoreAt(f, sig, time.Now())
}

// ScoreAt is Score with an explicit clock so signal expiry is testable.
func ScoreAt(f types.Finding, sig *types.PrioritySignal, now time.Time) Result {
	if sig != nil && !sig.Expired(now) && sig.PriorityLevel.IsValid() {
		return Result{Score: signalScore(sig.PriorityLevel), Level: sig.PriorityLevel}
	}

	urgency := severityScore(f.Severity)
	impact := impactScore(f.Impact)
	effort := effortScore(f.Effort)
	confidence := EffectiveConfidence(f.Confidence) * 100

	score := int(math.Round(
		impact*impactWeight +
			urgency*urgencyWeight +
			effort*effortWeight +
			confidence*confidenceWeight))
	return Result{Score: score, Level: LevelFor(score)}
}

// Explain returns the weighted component values used for a computed score.
// Signal-overridden findings report Overridden=true with zero components.
func Explain(f types.Finding, sig *types.PrioritySignal, now time.Time) Breakdown {
	if sig != nil && !sig.Expired(now) && sig.PriorityLevel.IsValid() {
		return Breakdown{Overridden: true}
	}
	return Breakdown{
		Urgency:    severityScore(f.Severity) * urgencyWeight,
		Impact:     impactScore(f.Impact) * impactWeight,
		Effort:     effortScore(f.Effort) * effortWeight,
		Confidence: EffectiveConfidence(f.Confidence) * 100 * confidenceWeight,
	}
}

// LevelFor buckets a 0-100 score into its priority level.
func LevelFor(score int) types.Level {
	switch {
	case score >= 85:
		return types.LevelP0
	case score >= 65:
		return types.LevelP1
	case score >= 40:
		return types.LevelP2
	default:
		return types.LevelP3
	}
}

// EffectiveConfidence resolves a reported confidence to the value used in
// scoring: DefaultConfidence when unreported, clamped to [0,1] otherwise.
// Analyzers occasionally report confidence as a 0-100 percentage or a
// negative sentinel; clamping keeps the composite score inside [0,100].
func EffectiveConfidence(c *float64) float64 {
	if c == nil {
		return DefaultConfidence
	}
	v := *c
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// signalScore maps an override level to its fixed score.
func signalScore(level types.Level) int {
	switch level {
	case types.LevelP0:
		return 100
	case types.LevelP1:
		return 85
	case types.LevelP2:
		return 60
	case types.LevelP3:
		return 35
	}
	return defaultDimensionScore
}

func severityScore(s types.Severity) float64 {
	switch s {
	case types.SeverityCritical:
		return 100
	case types.SeverityHigh:
		return 75
	case types.SeverityMedium:
		return 50
	case types.SeverityLow:
		return 25
	}
	return defaultDimensionScore
}

func impactScore(i types.Impact) float64 {
	switch i {
	case types.ImpactHigh:
		return 100
	case types.ImpactMedium:
		return 60
	case types.ImpactLow:
		return 30
	}
	return defaultDimensionScore
}

// effortScore is inverted: cheap fixes score high.
func effortScore(e types.Effort) float64 {
	switch e {
	case types.EffortLow:
		return 100
	case types.EffortMedium:
		return 50
	case types.EffortHigh:
		return 25
	}
	return defaultDimensionScore
}
