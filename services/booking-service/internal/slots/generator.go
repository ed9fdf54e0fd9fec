// Package slots turns a tenant's weekly opening hours into the bookable
// time-of-day instants of one calendar date.
package slots

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

// DefaultGranularity is the uniform slot length.
const DefaultGranularity = 30 * time.Minute

// ConfigError reports an opening-hours entry that could not be used. The day
// is treated as closed.
type ConfigError struct {
	Weekday string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Weekday == "" {
		return "opening hours: " + e.Reason
	}
	return fmt.Sprintf("opening hours %s: %s", e.Weekday, e.Reason)
}

// Generate returns the slots of date in ascending "HH:mm" order, walking the
// weekday's [start, end) window in granularity steps.
//
// now must already be expressed in the tenant's location. When date is the
// civil date of now, instants strictly before now's time of day are skipped.
// Dates other than today are never trimmed, whatever the hour.
//
// A closed day yields no slots and no error. A missing or unusable entry
// yields no slots and a *ConfigError, which callers log and otherwise ignore.
func Generate(date model.Date, hours model.OpeningHours, granularity time.Duration, now time.Time) ([]string, error) {
	if granularity < time.Minute || granularity%time.Minute != 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("granularity %s is not a positive whole number of minutes", granularity)}
	}

	key := model.WeekdayKey(date.Weekday())
	day, ok := hours[key]
	if !ok {
		return nil, &ConfigError{Weekday: key, Reason: "no entry"}
	}
	if !day.Open {
		return nil, nil
	}

	start, err := model.ParseClock(day.Start)
	if err != nil {
		return nil, &ConfigError{Weekday: key, Reason: err.Error()}
	}
	end, err := model.ParseClock(day.End)
	if err != nil {
		return nil, &ConfigError{Weekday: key, Reason: err.Error()}
	}
	if start >= end {
		return nil, nil
	}

	cutoff := -1
	if model.DateOf(now) == date {
		cutoff = now.Hour()*3600 + now.Minute()*60 + now.Second()
	}

	step := int(granularity / time.Minute)
	out := make([]string, 0, (end-start+step-1)/step)
	for m := start; m < end; m += step {
		if m*60 < cutoff {
			continue
		}
		out = append(out, model.FormatClock(m))
	}
	return out, nil
}

// SplitByNoon partitions ascending slots into morning (hour < 12) and
// afternoon (hour >= 12). Unparseable entries are dropped.
func SplitByNoon(times []string) (morning, afternoon []string) {
	morning, afternoon = []string{}, []string{}
	for _, t := range times {
		m, err := model.ParseClock(t)
		if err != nil {
			continue
		}
		if m < 12*60 {
			morning = append(morning, t)
		} else {
			afternoon = append(afternoon, t)
		}
	}
	return morning, afternoon
}
