package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// Mon, 2 Jan 2006 15:04:05 -0700
	dateWithWeekday = regexp.MustCompile(`^\w+,\s+([0-9]+)\s+(\w+)\s+([0-9]+)\s+([0-9]+):([0-9]+):([0-9]+)\s+(.+)$`)
	// 2 Jan 2006 15:04:05 -0700
	dateNoWeekday = regexp.MustCompile(`^([0-9]+)\s+(\w+)\s+([0-9]+)\s+([0-9]+):([0-9]+):([0-9]+)\s+(.+)$`)
)

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// zones maps the named zones of RFC 5322 to their offsets in hours.
var zones = map[string]int{
	"GMT": 0, "UT": 0, "UTC": 0, "Z": 0,
	"EST": -5, "EDT": -4,
	"CST": -6, "CDT": -5,
	"MST": -7, "MDT": -6,
	"PST": -8, "PDT": -7,
}

// ParseDate parses a Date header value. Text matching neither layout, or
// carrying out of range fields, yields ErrDateFormat; an unknown month name
// yields ErrMonth.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	m := dateWithWeekday.FindStringSubmatch(s)
	if m == nil {
		m = dateNoWeekday.FindStringSubmatch(s)
	}
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateFormat, s)
	}
	day, monthName, year, hour, minute, second, zone := m[1], m[2], m[3], m[4], m[5], m[6], m[7]

	month, ok := months[strings.ToLower(monthName)]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMonth, monthName)
	}
	loc, err := parseZone(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrDateFormat, s, err)
	}

	var n [5]int
	for i, f := range []string{day, year, hour, minute, second} {
		n[i], err = strconv.Atoi(f)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %v", ErrDateFormat, s, err)
		}
	}
	d, y, hh, mm, ss := n[0], n[1], n[2], n[3], n[4]
	// Two and three digit years, see RFC 5322 section 4.3.
	switch {
	case len(year) <= 2 && y < 50:
		y += 2000
	case len(year) <= 3:
		y += 1900
	}
	if hh > 23 || mm > 59 || ss > 60 {
		return time.Time{}, fmt.Errorf("%w: %q: time out of range", ErrDateFormat, s)
	}
	if last := time.Date(y, month+1, 0, 0, 0, 0, 0, time.UTC).Day(); d < 1 || d > last {
		return time.Time{}, fmt.Errorf("%w: %q: day out of range", ErrDateFormat, s)
	}
	return time.Date(y, month, d, hh, mm, ss, 0, loc), nil
}

// parseZone accepts a numeric ±HHMM offset or a named zone, optionally
// followed by a comment such as "(CST)".
func parseZone(z string) (*time.Location, error) {
	fields := strings.Fields(z)
	if len(fields) == 0 {
		return nil, errors.New("empty zone")
	}
	z = fields[0]

	if z[0] == '+' || z[0] == '-' {
		if len(z) != 5 {
			return nil, fmt.Errorf("zone %q: want 4 digits", z)
		}
		hh, err1 := strconv.Atoi(z[1:3])
		mm, err2 := strconv.Atoi(z[3:5])
		if err1 != nil || err2 != nil || strings.ContainsAny(z[1:], "+-") || mm > 59 {
			return nil, fmt.Errorf("zone %q: bad offset", z)
		}
		offset := hh*3600 + mm*60
		if z[0] == '-' {
			offset = -offset
		}
		return time.FixedZone("", offset), nil
	}

	if h, ok := zones[strings.ToUpper(z)]; ok {
		return time.FixedZone(strings.ToUpper(z), h*3600), nil
	}
	return nil, fmt.Errorf("zone %q: unknown", z)
}
