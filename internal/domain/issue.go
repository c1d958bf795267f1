package domain

import (
	"fmt"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// IssueCalendar is the fixed set of dates with a known prior launch.
type IssueCalendar struct {
	dates map[string]struct{}
}

// NewIssueCalendar builds a calendar from YYYY-MM-DD strings.
func NewIssueCalendar(dates []string) (IssueCalendar, error) {
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			return IssueCalendar{}, fmt.Errorf("issue date %q: %w", d, err)
		}
		set[t.Format(dateLayout)] = struct{}{}
	}
	return IssueCalendar{dates: set}, nil
}

// Contains reports whether the YYYY-MM-DD date is an issue date.
func (c IssueCalendar) Contains(date string) bool {
	_, ok := c.dates[date]
	return ok
}

// IsIssueDate compares t's calendar date in its own location.
func (c IssueCalendar) IsIssueDate(t time.Time) bool {
	return c.Contains(t.Format(dateLayout))
}

// Dates returns the calendar in ascending order.
func (c IssueCalendar) Dates() []string {
	out := make([]string, 0, len(c.dates))
	for d := range c.dates {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
