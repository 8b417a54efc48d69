package ui

import (
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// agentMode is set by the CLI when --json is passed. Agent mode strips
// all styling so output stays machine-parseable.
var agentMode atomic.Bool

// SetAgentMode toggles agent (JSON) output mode for the process.
func SetAgentMode(on bool) {
	agentMode.Store(on)
}

// IsAgentMode reports whether output is being consumed by a program
// rather than a human: the --json flag, GL_JSON=1, or a non-terminal
// stdout.
func IsAgentMode() bool {
	if agentMode.Load() {
		return true
	}
	if v := os.Getenv("GL_JSON"); v == "1" || v == "true" {
		return true
	}
	return !IsTerminal()
}

// IsTerminal reports whether stdout is a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor decides color output following the common conventions:
// NO_COLOR always wins, CLICOLOR_FORCE forces color even when piped,
// CLICOLOR=0 disables, otherwise color only on a TTY.
func ShouldUseColor() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return IsTerminal()
}
