package mailbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Query selects mails by header conditions and by message number. Zero
// fields place no constraint.
type Query struct {
	// Subject and Sender match as substrings of the Subject and From
	// headers.
	Subject string
	Sender  string

	// After and Before bound the Date header, inclusively. Mails without a
	// parseable Date never match a time bound.
	After  time.Time
	Before time.Time

	// Start and End bound the message numbers, inclusively.
	Start int
	End   int
}

// Match reports whether a header summary satisfies every condition of q.
func (q Query) Match(s HeaderSummary) bool {
	if q.Subject != "" && !strings.Contains(s.Subject, q.Subject) {
		return false
	}
	if q.Sender != "" && !strings.Contains(s.From, q.Sender) {
		return false
	}
	if !q.After.IsZero() && (s.Date == nil || s.Date.Before(q.After)) {
		return false
	}
	if !q.Before.IsZero() && (s.Date == nil || s.Date.After(q.Before)) {
		return false
	}
	return true
}

// Intersection returns the message numbers in both [first, last] and
// [start, end], in ascending order. A zero start or end leaves that side
// of the second range open.
func Intersection(first, last, start, end int) []int {
	if first > last {
		return nil
	}
	if start == 0 || start < first {
		start = first
	}
	if end == 0 || end > last {
		end = last
	}
	var ids []int
	for i := start; i <= end; i++ {
		ids = append(ids, i)
	}
	return ids
}

// timeBound accepts "2006-1-2 15:04:05" and its prefixes, such as
// "2018-1-1" or "2018-1-1 8".
var timeBound = regexp.MustCompile(`^([0-9]+)?-?([0-9]{1,2})?-?([0-9]+)?\s*([0-9]{1,2})?:?([0-9]{1,2})?:?([0-9]{1,2})?\s*$`)

// ParseTimeBound parses a time filter relative to now: a missing date part
// is taken from now, missing time parts are zero. The result is in now's
// location.
func ParseTimeBound(s string, now time.Time) (time.Time, error) {
	m := timeBound.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	var n [6]int
	for i, f := range m[1:] {
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
		}
		n[i] = v
	}
	year, month, day := n[0], n[1], n[2]
	if year == 0 || month == 0 || day == 0 {
		ny, nm, nd := now.Date()
		if year == 0 {
			year = ny
		}
		if month == 0 {
			month = int(nm)
		}
		if day == 0 {
			day = nd
		}
	}
	if month > 12 || day > 31 || n[3] > 23 || n[4] > 59 || n[5] > 59 {
		return time.Time{}, fmt.Errorf("invalid time %q: field out of range", s)
	}
	return time.Date(year, time.Month(month), day, n[3], n[4], n[5], 0, now.Location()), nil
}
