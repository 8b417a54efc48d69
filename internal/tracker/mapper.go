package tracker

import (
	"fmt"
	"strings"

	"github.com/steveyegge/greenlight/internal/types"
)

// StateTypeFor maps a story status to the tracker-agnostic state type the
// issue should sit in. Trackers rarely model "failed", so failed and
// rejected both land in canceled; the failure detail travels in a comment.
func StateTypeFor(status types.StoryStatus) string {
	switch status {
	case types.StatusPending:
		return StateBacklog
	case types.StatusApproved:
		return StateUnstarted
	case types.StatusInProgress:
		return StateStarted
	case types.StatusCompleted:
		return StateCompleted
	case types.StatusFailed, types.StatusRejected:
		return StateCanceled
	}
	return StateBacklog
}

// PriorityFor maps a coarse story priority to the 1=urgent..4=low scale
// most trackers use.
func PriorityFor(p types.Priority) int {
	switch p {
	case types.PriorityHigh:
		return 2
	case types.PriorityMedium:
		return 3
	case types.PriorityLow:
		return 4
	}
	return 0
}

// ResolveState picks the workflow state an issue should move to for a
// story status, against the team's live states. Workflows are team-specific
// so IDs are never hardcoded: the match is by state type first, with a
// fuzzy name match to break ties between multiple states of the same type
// ("In Progress" vs "In Review" are both "started"). Falls back to the
// first state of the matching type, then the first state at all.
func ResolveState(states []WorkflowState, status types.StoryStatus) (*WorkflowState, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("tracker reported no workflow states")
	}

	targetType := StateTypeFor(status)
	var firstOfType *WorkflowState
	for i := range states {
		s := &states[i]
		if s.Type != targetType {
			continue
		}
		if firstOfType == nil {
			firstOfType = s
		}
		if nameMatches(s.Name, status) {
			return s, nil
		}
	}
	if firstOfType != nil {
		return firstOfType, nil
	}

	// No state of the target type; try a name match across everything
	// before giving up and using the workflow's first state.
	for i := range states {
		if nameMatches(states[i].Name, status) {
			return &states[i], nil
		}
	}
	return &states[0], nil
}

// nameMatches does a loose comparison between a tracker state name and a
// story status: case-insensitive, ignoring spaces and underscores, either
// direction of containment.
func nameMatches(stateName string, status types.StoryStatus) bool {
	normalize := func(s string) string {
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, " ", "")
		s = strings.ReplaceAll(s, "_", "")
		s = strings.ReplaceAll(s, "-", "")
		return s
	}
	name := normalize(stateName)
	want := normalize(string(status))
	if name == "" || want == "" {
		return false
	}
	return strings.Contains(name, want) || strings.Contains(want, name)
}
