// Package stories derives ranked Story records from scored findings.
//
// The factory only derives: persisting stories, creating tracker issues,
// and enqueueing work are caller responsibilities.
package stories

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/greenlight/internal/debug"
	"github.com/steveyegge/greenlight/internal/idgen"
	"github.com/steveyegge/greenlight/internal/policy"
	"github.com/steveyegge/greenlight/internal/scoring"
	"github.com/steveyegge/greenlight/internal/types"
)

// MaxPerProject bounds backlog growth per triage run. Findings ranked below
// the cut are dropped, not deferred.
const MaxPerProject = 5

// ScoredFinding pairs a finding with its computed priority. Slice order is
// discovery order and serves as the stable ranking tiebreak.
type ScoredFinding struct {
	Finding types.Finding
	Result  scoring.Result
}

// ScoreAll scores a batch of findings under one optional user signal.
// Invalid findings are dropped here so Build never sees them.
func ScoreAll(findings []types.Finding, sig *types.PrioritySignal) []ScoredFinding {
	now := time.Now()
	scored := make([]ScoredFinding, 0, len(findings))
	for i := range findings {
		f := findings[i]
		if err := f.Validate(); err != nil {
			debug.Logf("triage: dropping invalid finding %d: %v\n", i, err)
			continue
		}
		scored = append(scored, ScoredFinding{Finding: f, Result: scoring.ScoreAt(f, sig, now)})
	}
	return scored
}

// Build groups scored findings by project, ranks each group descending by
// score with discovery order as the stable tiebreak, retains the top
// MaxPerProject per project, and derives a pending Story for each retained
// finding. Output order is project first-seen order, then rank.
func Build(scored []ScoredFinding) []*types.Story {
	byProject := make(map[string][]ScoredFinding)
	var projectOrder []string
	for _, sf := range scored {
		pid := sf.Finding.ProjectID
		if _, seen := byProject[pid]; !seen {
			projectOrder = append(projectOrder, pid)
		}
		byProject[pid] = append(byProject[pid], sf)
	}

	var out []*types.Story
	for _, pid := range projectOrder {
		group := byProject[pid]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Result.Score > group[j].Result.Score
		})
		if len(group) > MaxPerProject {
			debug.Logf("triage: project %s has %d findings, keeping top %d\n", pid, len(group), MaxPerProject)
			group = group[:MaxPerProject]
		}
		for _, sf := range group {
			out = append(out, buildStory(sf))
		}
	}
	return out
}

func buildStory(sf ScoredFinding) *types.Story {
	f := sf.Finding
	s := &types.Story{
		ProjectID:           f.ProjectID,
		Title:               f.Issue,
		SourceAgent:         f.Agent,
		Rationale:           Rationale(f, sf.Result),
		Priority:            coarsePriority(f.Severity),
		Policy:              policy.Classify(f, sf.Result.Level),
		PriorityLevel:       sf.Result.Level,
		PriorityScore:       sf.Result.Score,
		AdvancesLaunchStage: advancesLaunchStage(f),
		Status:              types.StatusPending,
	}
	s.SetDefaults()
	s.ContentHash = s.ComputeContentHash()
	s.ID = idgen.StoryID(s.ContentHash, idgen.DefaultLength, 0)
	return s
}

// Rationale renders the structured justification embedded in the story and
// mirrored to the tracker issue body.
func Rationale(f types.Finding, r scoring.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reported by the %s analyzer.\n\n", orUnspecified(f.Agent))
	if f.Action != "" {
		fmt.Fprintf(&b, "Recommended action: %s\n\n", f.Action)
	}
	fmt.Fprintf(&b, "Severity: %s | Effort: %s | Impact: %s\n",
		orUnspecified(string(f.Severity)),
		orUnspecified(string(f.Effort)),
		orUnspecified(string(f.Impact)))
	fmt.Fprintf(&b, "Confidence: %d%%\n", int(math.Round(scoring.EffectiveConfidence(f.Confidence)*100)))
	fmt.Fprintf(&b, "Priority score: %d (%s)", r.Score, r.Level)
	return b.String()
}

func orUnspecified(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}

// coarsePriority maps analyzer severity to the tracker-facing priority.
func coarsePriority(sev types.Severity) types.Priority {
	switch sev {
	case types.SeverityCritical, types.SeverityHigh:
		return types.PriorityHigh
	case types.SeverityMedium:
		return types.PriorityMedium
	case types.SeverityLow:
		return types.PriorityLow
	}
	return types.PriorityMedium
}

// advancesLaunchStage flags stories whose completion moves the project
// toward launch: critical findings, high-severity high-impact findings, and
// anything explicitly about launching or deploying.
func advancesLaunchStage(f types.Finding) bool {
	if f.Severity == types.SeverityCritical {
		return true
	}
	if f.Severity == types.SeverityHigh && f.Impact == types.ImpactHigh {
		return true
	}
	text := strings.ToLower(f.Issue)
	return strings.Contains(text, "launch") || strings.Contains(text, "deploy")
}
