package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

// matches returns true if the given value matches this cron field.
func (f cronField) matches(val int) bool {
	return f.wildcard || f.values[val]
}

// parseCronField parses a single cron field. Supported forms are "*", "5",
// "1,15", "1-5", "*/15" and "0-30/10".
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid cron step %q", s)
			}
			step = n
			part = base
		}

		start, end := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if start, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", a, err)
			}
			if end, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", b, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			start, end = v, v
			if step > 1 {
				end = hi
			}
		}
		if start < lo || end > hi || start > end {
			return cronField{}, fmt.Errorf("cron range %d-%d outside %d-%d", start, end, lo, hi)
		}
		for v := start; v <= end; v += step {
			values[v] = true
		}
	}
	return cronField{values: values}, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	expr       string
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime returns true if the given time matches all five cron fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression into a parsedCron struct.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	bounds := []struct {
		name   string
		lo, hi int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 6},
	}
	parsed := make([]cronField, len(fields))
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i].lo, bounds[i].hi)
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", bounds[i].name, err)
		}
		parsed[i] = cf
	}

	return parsedCron{
		expr:       expr,
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// ValidateCron reports whether expr is a supported cron expression.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

// next calculates the next time after 'after' that matches. It searches
// minute-by-minute up to one year ahead.
func (c parsedCron) next(after time.Time) (time.Time, error) {
	// Start from the next minute boundary.
	candidate := after.Truncate(time.Minute).Add(time.Minute)

	// Search up to one year ahead to avoid infinite loops.
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", c.expr)
}
