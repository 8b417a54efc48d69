package scoring

import (
	"testing"
	"time"

	"github.com/steveyegge/greenlight/internal/types"
)

func fptr(v float64) *float64 { return &v }

func TestScoreCriticalHighImpactCheapFix(t *testing.T) {
	f := types.Finding{
		Agent:      "security",
		ProjectID:  "proj-1",
		Issue:      "Leaked staging credentials",
		Severity:   types.SeverityCritical,
		Impact:     types.ImpactHigh,
		Effort:     types.EffortLow,
		Confidence: fptr(0.9),
	}
	got := Score(f, nil)
	// impact 100*0.4 + urgency 100*0.3 + effort 100*0.2 + confidence 90*0.1
	if got.Score != 99 {
		t.Errorf("Score = %d, want 99", got.Score)
	}
	if got.Level != types.LevelP0 {
		t.Errorf("Level = %s, want P0", got.Level)
	}
}

func TestScoreLowSeverityCheapFix(t *testing.T) {
	f := types.Finding{
		Agent:      "content",
		ProjectID:  "proj-1",
		Issue:      "Stale copyright year in footer",
		Severity:   types.SeverityLow,
		Impact:     types.ImpactLow,
		Effort:     types.EffortLow,
		Confidence: fptr(0.8),
	}
	got := Score(f, nil)
	// impact 30*0.4 + urgency 25*0.3 + effort 100*0.2 + confidence 80*0.1 = 47.5
	if got.Score != 48 {
		t.Errorf("Score = %d, want 48", got.Score)
	}
	if got.Level != types.LevelP2 {
		t.Errorf("Level = %s, want P2", got.Level)
	}
}

func TestSignalOverridesEverything(t *testing.T) {
	sig := &types.PrioritySignal{Source: "chat", PriorityLevel: types.LevelP1}

	// Wildly different findings all land on the signal's fixed score.
	findings := []types.Finding{
		{Severity: types.SeverityCritical, Impact: types.ImpactHigh, Effort: types.EffortLow, Confidence: fptr(1.0)},
		{Severity: types.SeverityLow, Impact: types.ImpactLow, Effort: types.EffortHigh, Confidence: fptr(0.1)},
		{},
	}
	for i, f := range findings {
		got := Score(f, sig)
		if got.Score != 85 || got.Level != types.LevelP1 {
			t.Errorf("finding %d: got %d/%s, want 85/P1", i, got.Score, got.Level)
		}
	}
}

func TestSignalScoreTable(t *testing.T) {
	tests := []struct {
		level types.Level
		want  int
	}{
		{types.LevelP0, 100},
		{types.LevelP1, 85},
		{types.LevelP2, 60},
		{types.LevelP3, 35},
	}
	for _, tt := range tests {
		sig := &types.PrioritySignal{Source: "dashboard", PriorityLevel: tt.level}
		got := Score(types.Finding{}, sig)
		if got.Score != tt.want {
			t.Errorf("signal %s: score = %d, want %d", tt.level, got.Score, tt.want)
		}
		if got.Level != tt.level {
			t.Errorf("signal %s: level = %s, want %s", tt.level, got.Level, tt.level)
		}
	}
}

func TestExpiredSignalIgnored(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	sig := &types.PrioritySignal{Source: "chat", PriorityLevel: types.LevelP0, ExpiresAt: &past}

	f := types.Finding{
		Severity:   types.SeverityLow,
		Impact:     types.ImpactLow,
		Effort:     types.EffortLow,
		Confidence: fptr(0.8),
	}
	got := ScoreAt(f, sig, now)
	if got.Score != 48 {
		t.Errorf("expired signal leaked into scoring: score = %d, want 48", got.Score)
	}
}

func TestUnknownEnumsFallBackToDefaults(t *testing.T) {
	f := types.Finding{
		Severity: types.Severity("catastrophic"),
		Impact:   types.Impact("cosmic"),
		Effort:   types.Effort("herculean"),
	}
	got := Score(f, nil)
	// All dimensions at default 50, confidence default 0.8:
	// 50*0.4 + 50*0.3 + 50*0.2 + 80*0.1 = 53
	if got.Score != 53 {
		t.Errorf("Score = %d, want 53", got.Score)
	}
	if got.Level != types.LevelP2 {
		t.Errorf("Level = %s, want P2", got.Level)
	}
}

func TestConfidenceClamping(t *testing.T) {
	tests := []struct {
		name string
		conf *float64
		want float64
	}{
		{"nil uses default", nil, DefaultConfidence},
		{"in range passes through", fptr(0.35), 0.35},
		{"negative clamps to zero", fptr(-2.0), 0},
		{"percentage style clamps to one", fptr(90), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveConfidence(tt.conf); got != tt.want {
				t.Errorf("EffectiveConfidence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	f := types.Finding{
		Severity:   types.SeverityHigh,
		Impact:     types.ImpactMedium,
		Effort:     types.EffortMedium,
		Confidence: fptr(0.7),
	}
	first := Score(f, nil)
	for i := 0; i < 50; i++ {
		if got := Score(f, nil); got != first {
			t.Fatalf("iteration %d: score drifted from %+v to %+v", i, first, got)
		}
	}
	if first.Score < 0 || first.Score > 100 {
		t.Errorf("score %d outside [0,100]", first.Score)
	}
}

func TestLevelBands(t *testing.T) {
	tests := []struct {
		score int
		want  types.Level
	}{
		{100, types.LevelP0},
		{85, types.LevelP0},
		{84, types.LevelP1},
		{65, types.LevelP1},
		{64, types.LevelP2},
		{40, types.LevelP2},
		{39, types.LevelP3},
		{0, types.LevelP3},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestExplainComponentsSumToScore(t *testing.T) {
	f := types.Finding{
		Severity:   types.SeverityCritical,
		Impact:     types.ImpactHigh,
		Effort:     types.EffortLow,
		Confidence: fptr(0.9),
	}
	now := time.Now()
	b := Explain(f, nil, now)
	sum := b.Urgency + b.Impact + b.Effort + b.Confidence
	if int(sum+0.5) != 99 {
		t.Errorf("breakdown sums to %v, want 99", sum)
	}

	sig := &types.PrioritySignal{Source: "chat", PriorityLevel: types.LevelP2}
	if ob := Explain(f, sig, now); !ob.Overridden {
		t.Error("signal-backed breakdown not marked overridden")
	}
}
