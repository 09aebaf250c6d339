// Package recurrence maps a last-performed date and a maintenance frequency
// to the next due date. Everything here is pure and safe for concurrent use.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/t77yq/biomed-maint/internal/model"
)

// DateLayout is the calendar-date format used for due dates
const DateLayout = "2006-01-02"

// NextDueDate returns lastDate advanced by freq. Month and year steps clamp
// the day to the end of the target month, so Jan 31 + 1 month is Feb 28
// (or 29), never a day in March.
func NextDueDate(lastDate time.Time, freq model.Frequency) (time.Time, error) {
	if err := Validate(freq); err != nil {
		return time.Time{}, err
	}

	switch freq.Unit {
	case model.FrequencyDays:
		return lastDate.AddDate(0, 0, freq.Count), nil
	case model.FrequencyWeeks:
		return lastDate.AddDate(0, 0, 7*freq.Count), nil
	case model.FrequencyMonths:
		return addMonths(lastDate, freq.Count), nil
	default:
		return addMonths(lastDate, 12*freq.Count), nil
	}
}

// Validate checks that freq has a positive count and a known unit.
func Validate(freq model.Frequency) error {
	if freq.Count <= 0 {
		return fmt.Errorf("%w: frequency count must be positive, got %d", model.ErrInvalidPolicy, freq.Count)
	}
	switch freq.Unit {
	case model.FrequencyDays, model.FrequencyWeeks, model.FrequencyMonths, model.FrequencyYears:
		return nil
	}
	return fmt.Errorf("%w: unknown frequency unit %q", model.ErrInvalidPolicy, freq.Unit)
}

// IntervalDays returns the length in days of the interval starting at from.
func IntervalDays(from time.Time, freq model.Frequency) (float64, error) {
	next, err := NextDueDate(from, freq)
	if err != nil {
		return 0, err
	}
	return next.Sub(from).Hours() / 24, nil
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	// Normalize on the first of the month, then clamp the day.
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// ParseFrequency parses strings like "90 days", "1 month" or "2 years".
func ParseFrequency(s string) (model.Frequency, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return model.Frequency{}, fmt.Errorf("%w: cannot parse frequency %q", model.ErrInvalidPolicy, s)
	}

	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.Frequency{}, fmt.Errorf("%w: cannot parse frequency count %q", model.ErrInvalidPolicy, fields[0])
	}

	var unit model.FrequencyUnit
	switch strings.TrimSuffix(fields[1], "s") {
	case "day":
		unit = model.FrequencyDays
	case "week":
		unit = model.FrequencyWeeks
	case "month":
		unit = model.FrequencyMonths
	case "year":
		unit = model.FrequencyYears
	default:
		return model.Frequency{}, fmt.Errorf("%w: unknown frequency unit %q", model.ErrInvalidPolicy, fields[1])
	}

	freq := model.Frequency{Count: count, Unit: unit}
	if err := Validate(freq); err != nil {
		return model.Frequency{}, err
	}
	return freq, nil
}

// Format renders freq the way ParseFrequency reads it.
func Format(freq model.Frequency) string {
	unit := string(freq.Unit)
	if freq.Count == 1 {
		unit = strings.TrimSuffix(unit, "s")
	}
	return fmt.Sprintf("%d %s", freq.Count, unit)
}
