// Package policy gates story execution behind safety rules.
package policy

import (
	"github.com/steveyegge/greenlight/internal/types"
)

// SecurityAgent findings always require human sign-off, whatever their
// severity: credential rotation, dependency pins, and auth changes have
// blast radius their severity field does not capture.
const SecurityAgent = "security"

// Classify returns the execution policy for a finding at the given
// priority level. Rules are evaluated first match wins:
//  1. critical severity -> approval_required
//  2. security analyzer -> approval_required
//  3. low severity and low effort -> auto_safe
//  4. P3 -> suggest_only
//  5. default -> approval_required
//
// Deterministic and referentially stable: same inputs, same policy, always.
func Classify(f types.Finding, level types.Level) types.Policy {
	switch {
	case f.Severity == types.SeverityCritical:
		return types.PolicyApprovalRequired
	case f.Agent == SecurityAgent:
		return types.PolicyApprovalRequired
	case f.Severity == types.SeverityLow && f.Effort == types.EffortLow:
		return types.PolicyAutoSafe
	case level == types.LevelP3:
		return types.PolicySuggestOnly
	default:
		return types.PolicyApprovalRequired
	}
}
