package timeparsing

import (
	"testing"
	"time"
)

func TestParseNaturalLanguage(t *testing.T) {
	// Fixed reference: Wednesday, January 15, 2025, 10:00 AM.
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	tests := []struct {
		name      string
		input     string
		wantYear  int
		wantMonth time.Month
		wantDay   int
		wantHour  int // -1 means don't check hour
		wantErr   bool
	}{
		{"tomorrow", "tomorrow", 2025, time.January, 16, -1, false},
		{"yesterday", "yesterday", 2025, time.January, 14, -1, false},

		// Weekdays relative to Wednesday Jan 15.
		{"next monday", "next monday", 2025, time.January, 20, -1, false},
		{"next friday", "next friday", 2025, time.January, 17, -1, false},

		{"tomorrow at 9am", "tomorrow at 9am", 2025, time.January, 16, 9, false},
		{"next monday at 2pm", "next monday at 2pm", 2025, time.January, 20, 14, false},

		{"in 3 days", "in 3 days", 2025, time.January, 18, -1, false},
		{"in 1 week", "in 1 week", 2025, time.January, 22, -1, false},
		{"3 days ago", "3 days ago", 2025, time.January, 12, -1, false},

		{"random text", "not a date at all", 0, 0, 0, 0, true},
		{"empty string", "", 0, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseNaturalLanguage(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if got.Year() != tt.wantYear || got.Month() != tt.wantMonth || got.Day() != tt.wantDay {
				t.Errorf("ParseNaturalLanguage(%q) = %v, want %d-%02d-%02d",
					tt.input, got, tt.wantYear, tt.wantMonth, tt.wantDay)
			}
			if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
				t.Errorf("ParseNaturalLanguage(%q) hour = %d, want %d", tt.input, got.Hour(), tt.wantHour)
			}
		})
	}
}

func TestParseRelativeTime(t *testing.T) {
	// Fixed reference: Wednesday, January 15, 2025, 10:00 AM.
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	tests := []struct {
		name      string
		input     string
		wantYear  int
		wantMonth time.Month
		wantDay   int
		wantHour  int // -1 means don't check hour
		wantErr   bool
	}{
		// Layer 1: compact durations, both directions. --since uses the
		// negative form.
		{"compact +1d", "+1d", 2025, time.January, 16, 10, false},
		{"compact +6h", "+6h", 2025, time.January, 15, 16, false},
		{"compact -1d", "-1d", 2025, time.January, 14, 10, false},
		{"compact -2w", "-2w", 2025, time.January, 1, 10, false},

		// Layer 2: date-only.
		{"date-only", "2025-02-01", 2025, time.February, 1, 0, false},

		// Layer 3: RFC3339.
		{"RFC3339", "2025-03-15T14:30:00Z", 2025, time.March, 15, 14, false},

		// Layer 4: natural language.
		{"natural tomorrow", "tomorrow", 2025, time.January, 16, -1, false},
		{"natural next monday", "next monday", 2025, time.January, 20, -1, false},

		{"invalid expression", "not-a-date", 0, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelativeTime(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRelativeTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if got.Year() != tt.wantYear || got.Month() != tt.wantMonth || got.Day() != tt.wantDay {
				t.Errorf("ParseRelativeTime(%q) = %v, want %d-%02d-%02d",
					tt.input, got, tt.wantYear, tt.wantMonth, tt.wantDay)
			}
			if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
				t.Errorf("ParseRelativeTime(%q) hour = %d, want %d", tt.input, got.Hour(), tt.wantHour)
			}
		})
	}
}

// Earlier layers must win over the natural-language fallback: "+1d" is a
// compact duration, not a phrase, and ISO dates never go through NLP.
func TestParseRelativeTimeLayerPrecedence(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	t1, err := ParseRelativeTime("+1d", now)
	if err != nil {
		t.Fatalf("ParseRelativeTime(\"+1d\") failed: %v", err)
	}
	if expected := now.AddDate(0, 0, 1); !t1.Equal(expected) {
		t.Errorf("ParseRelativeTime(\"+1d\") = %v, want %v", t1, expected)
	}

	t2, err := ParseRelativeTime("2025-01-20", now)
	if err != nil {
		t.Fatalf("ParseRelativeTime(\"2025-01-20\") failed: %v", err)
	}
	if t2.Day() != 20 || t2.Month() != time.January || t2.Year() != 2025 {
		t.Errorf("ParseRelativeTime(\"2025-01-20\") = %v, want Jan 20, 2025", t2)
	}
	if t2.Hour() != 0 {
		t.Errorf("date-only input should parse to midnight, got hour %d", t2.Hour())
	}
}
