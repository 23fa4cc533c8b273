package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSpec is a parsed 5-field cron expression:
// "minute hour day-of-month month day-of-week". Fields accept "*" or a
// comma-separated value list; ranges and steps are not supported.
type cronSpec struct {
	fields [5]cronField
}

type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(v int) bool {
	if f.wildcard {
		return true
	}
	for _, want := range f.values {
		if want == v {
			return true
		}
	}
	return false
}

func parseCron(expr string) (cronSpec, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return cronSpec{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(parts))
	}
	var spec cronSpec
	for i, part := range parts {
		if part == "*" {
			spec.fields[i] = cronField{wildcard: true}
			continue
		}
		var values []int
		for _, raw := range strings.Split(part, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return cronSpec{}, fmt.Errorf("invalid cron field %q: %w", raw, err)
			}
			values = append(values, v)
		}
		spec.fields[i] = cronField{values: values}
	}
	return spec, nil
}

func (spec cronSpec) matchesTime(t time.Time) bool {
	vals := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, f := range spec.fields {
		if !f.matches(vals[i]) {
			return false
		}
	}
	return true
}

// nextCronTime finds the first minute after 'after' matching the expression,
// searching up to a year ahead.
func nextCronTime(expr string, after time.Time) (time.Time, error) {
	spec, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if spec.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within a year for %q", expr)
}
