package timeparsing

import (
	"fmt"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	nlpOnce   sync.Once
	nlpParser *when.Parser
)

func nlp() *when.Parser {
	nlpOnce.Do(func() {
		nlpParser = when.New(nil)
		nlpParser.Add(en.All...)
		nlpParser.Add(common.All...)
	})
	return nlpParser
}

// ParseNaturalLanguage parses English date expressions ("tomorrow",
// "next monday at 2pm", "3 days ago") relative to now.
//
// Returns error if the input contains no recognizable date expression.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	r, err := nlp().Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("not a recognizable date expression: %q", s)
	}
	return r.Time, nil
}

// ParseRelativeTime parses a time expression using layered fallback:
//
//  1. Compact duration (+6h, -1d, +2w)
//  2. Date-only (2025-01-15)
//  3. RFC3339 (2025-01-15T14:30:00Z)
//  4. Natural language (tomorrow, next monday)
//
// Absolute formats are tried before NLP so that ISO dates never depend
// on what the NLP rules happen to match.
func ParseRelativeTime(input string, now time.Time) (time.Time, error) {
	if input == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if IsCompactDuration(input) {
		return ParseCompactDuration(input, now)
	}
	if t, err := time.ParseInLocation("2006-01-02", input, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}
	if t, err := ParseNaturalLanguage(input, now); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time expression: %q (try +6h, 2025-01-15, or \"tomorrow\")", input)
}

// Parse is the single entry point callers should use.
func Parse(input string, now time.Time) (time.Time, error) {
	return ParseRelativeTime(input, now)
}
