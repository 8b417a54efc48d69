package policy

import (
	"testing"

	"github.com/steveyegge/greenlight/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		finding types.Finding
		level   types.Level
		want    types.Policy
	}{
		{
			name:    "critical severity requires approval",
			finding: types.Finding{Agent: "performance", Severity: types.SeverityCritical, Effort: types.EffortLow},
			level:   types.LevelP0,
			want:    types.PolicyApprovalRequired,
		},
		{
			name:    "security agent requires approval even for low severity",
			finding: types.Finding{Agent: "security", Severity: types.SeverityLow, Effort: types.EffortLow},
			level:   types.LevelP2,
			want:    types.PolicyApprovalRequired,
		},
		{
			name:    "low severity low effort is auto safe",
			finding: types.Finding{Agent: "content", Severity: types.SeverityLow, Effort: types.EffortLow},
			level:   types.LevelP2,
			want:    types.PolicyAutoSafe,
		},
		{
			name:    "P3 is suggest only",
			finding: types.Finding{Agent: "content", Severity: types.SeverityMedium, Effort: types.EffortHigh},
			level:   types.LevelP3,
			want:    types.PolicySuggestOnly,
		},
		{
			name:    "default requires approval",
			finding: types.Finding{Agent: "performance", Severity: types.SeverityHigh, Effort: types.EffortMedium},
			level:   types.LevelP1,
			want:    types.PolicyApprovalRequired,
		},
		{
			name:    "auto safe rule beats P3 rule",
			finding: types.Finding{Agent: "content", Severity: types.SeverityLow, Effort: types.EffortLow},
			level:   types.LevelP3,
			want:    types.PolicyAutoSafe,
		},
		{
			name:    "critical rule beats auto safe fields",
			finding: types.Finding{Agent: "content", Severity: types.SeverityCritical, Effort: types.EffortLow},
			level:   types.LevelP1,
			want:    types.PolicyApprovalRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.finding, tt.level); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyStable(t *testing.T) {
	f := types.Finding{Agent: "seo", Severity: types.SeverityMedium, Effort: types.EffortMedium}
	first := Classify(f, types.LevelP2)
	for i := 0; i < 100; i++ {
		if got := Classify(f, types.LevelP2); got != first {
			t.Fatalf("classification drifted on call %d: %s -> %s", i, first, got)
		}
	}
}
