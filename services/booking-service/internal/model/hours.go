package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// weekdayKeys is indexed by time.Weekday.
var weekdayKeys = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func WeekdayKey(d time.Weekday) string {
	return weekdayKeys[d]
}

// DayHours is one weekday's window, half-open [Start, End).
type DayHours struct {
	Open  bool   `json:"open" yaml:"open"`
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// OpeningHours maps a weekday key to its window. A missing key means the
// tenant never configured that day.
type OpeningHours map[string]DayHours

// UnmarshalJSON decodes entries one by one and drops unknown keys and entries
// that are not objects, so one bad day does not hide the rest of the week.
func (h *OpeningHours) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(OpeningHours, len(raw))
	for key, msg := range raw {
		key = strings.ToLower(strings.TrimSpace(key))
		if !isWeekdayKey(key) {
			continue
		}
		var day DayHours
		if err := json.Unmarshal(msg, &day); err != nil {
			continue
		}
		out[key] = day
	}
	*h = out
	return nil
}

// Validate reports the first open day whose window is unusable.
func (h OpeningHours) Validate() error {
	for _, key := range weekdayKeys {
		day, ok := h[key]
		if !ok || !day.Open {
			continue
		}
		start, err := ParseClock(day.Start)
		if err != nil {
			return fmt.Errorf("%s: start: %w", key, err)
		}
		end, err := ParseClock(day.End)
		if err != nil {
			return fmt.Errorf("%s: end: %w", key, err)
		}
		if start >= end {
			return fmt.Errorf("%s: start %s is not before end %s", key, day.Start, day.End)
		}
	}
	return nil
}

func isWeekdayKey(key string) bool {
	for _, k := range weekdayKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ParseClock parses "HH:mm" or "HH:mm:ss" into minutes since midnight.
// Seconds are truncated.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:mm", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) != 2 || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || len(parts[2]) != 2 || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:mm".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeClock canonicalises a stored time of day to "HH:mm", so
// "09:00:00" and "09:00" compare equal.
func NormalizeClock(s string) (string, error) {
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatClock(m), nil
}
