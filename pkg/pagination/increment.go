package pagination

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Increment is a calendar-aware step used to cut a time range into windows.
// Months and Days are applied with time.AddDate, Duration with time.Add.
type Increment struct {
	Months   int
	Days     int
	Duration time.Duration
}

// Months returns an increment of n calendar months.
func Months(n int) Increment { return Increment{Months: n} }

// Days returns an increment of n calendar days.
func Days(n int) Increment { return Increment{Days: n} }

// Every returns a fixed-duration increment.
func Every(d time.Duration) Increment { return Increment{Duration: d} }

// IsZero reports whether the increment is empty.
func (i Increment) IsZero() bool {
	return i.Months == 0 && i.Days == 0 && i.Duration == 0
}

// validate rejects increments that would not move a window boundary
// forward from start.
func (i Increment) validate(start time.Time) error {
	if i.Months < 0 || i.Days < 0 || i.Duration < 0 {
		return fmt.Errorf("%w: increment %s has a negative component", ErrInvalidSplit, i)
	}
	if !i.Step(start, 1).After(start) {
		return fmt.Errorf("%w: increment %s does not advance", ErrInvalidSplit, i)
	}
	return nil
}

// Step returns the boundary n increments after start. Boundaries are
// computed from start rather than chained, and month steps clamp to the end
// of shorter months (Jan 31 + 1 month = Feb 29 in a leap year), so month
// ends do not drift.
func (i Increment) Step(start time.Time, n int) time.Time {
	t := addMonths(start, i.Months*n)
	return t.AddDate(0, 0, i.Days*n).Add(i.Duration * time.Duration(n))
}

func addMonths(t time.Time, months int) time.Time {
	if months == 0 {
		return t
	}
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func (i Increment) String() string {
	var parts []string
	if i.Months != 0 {
		parts = append(parts, fmt.Sprintf("%d month(s)", i.Months))
	}
	if i.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", i.Days))
	}
	if i.Duration != 0 {
		parts = append(parts, i.Duration.String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

var incrementPattern = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

// ParseIncrement parses increments such as "1 month", "3 months", "1y",
// "2 weeks", "7d", "1 day" or any time.ParseDuration string ("12h", "90m").
func ParseIncrement(s string) (Increment, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m := incrementPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Increment{}, fmt.Errorf("parse increment %q: %w", s, err)
		}
		if n <= 0 {
			return Increment{}, fmt.Errorf("increment %q must be positive", s)
		}
		switch m[2] {
		case "mo", "mon", "month", "months":
			return Months(n), nil
		case "y", "yr", "year", "years":
			return Months(12 * n), nil
		case "w", "wk", "week", "weeks":
			return Days(7 * n), nil
		case "d", "day", "days":
			return Days(n), nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return Increment{}, fmt.Errorf("parse increment %q: %w", s, err)
	}
	if d <= 0 {
		return Increment{}, fmt.Errorf("increment %q must be positive", s)
	}
	return Every(d), nil
}
