// Package timezone implements day-boundary and zone-validity
// arithmetic. It is pure and allocation-light since dayBounds is
// called on every admission check.
package timezone

import (
	"sync"
	"time"
)

// locCache memoizes *time.Location lookups; tzdata parsing is the one
// allocation-heavy step this package would otherwise repeat per call.
var locCache sync.Map // zone name -> *time.Location

// UTC is the fallback zone used anywhere an unknown zone reaches this
// package. Callers are expected to resolve unknown zones to "UTC"
// themselves before calling in here, but DayBounds still degrades
// safely if one slips through.
const UTC = "UTC"

func loadLocation(zone string) (*time.Location, error) {
	if zone == "" {
		zone = UTC
	}
	if v, ok := locCache.Load(zone); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	locCache.Store(zone, loc)
	return loc, nil
}

// IsValidZone reports whether zone is a resolvable IANA zone name.
// Unknown zones are the caller's responsibility to fall back to UTC;
// this function never substitutes a default itself.
func IsValidZone(zone string) bool {
	_, err := loadLocation(zone)
	return err == nil
}

// DayBounds computes the UTC half-open window [utcStart, utcEnd) that
// covers the calendar day containing instant when viewed in zone, plus
// a human-readable local date string (YYYY-MM-DD) for audit messages
// and rejection details.
//
// If zone is unresolvable it is treated as UTC rather than erroring —
// admission call sites are expected to have already normalized unknown
// zones, but this keeps the function total.
//
// DST edge case: if the zone has no valid midnight on the local date
// (a "spring forward" transition landing exactly on 00:00, as can
// happen transiently with zone rule changes), utcStart is the first
// valid instant at or after local 00:00 rather than panicking or
// producing a non-monotonic window.
func DayBounds(instant time.Time, zone string) (utcStart, utcEnd time.Time, localDate string) {
	loc, err := loadLocation(zone)
	if err != nil {
		loc = time.UTC
	}

	local := instant.In(loc)
	y, m, d := local.Date()
	localDate = local.Format("2006-01-02")

	start := safeDate(y, m, d, 0, 0, 0, loc)
	next := local.AddDate(0, 0, 1)
	ny, nm, nd := next.Date()
	end := safeDate(ny, nm, nd, 0, 0, 0, loc)

	// Guard against a pathological zone rule making end <= start.
	if !end.After(start) {
		end = start.Add(24 * time.Hour)
	}

	return start.UTC(), end.UTC(), localDate
}

// safeDate builds a time.Time for the given local wall-clock fields in
// loc. time.Date never errors in Go (it normalizes out-of-range
// components), but a local midnight that falls inside a forward DST gap
// is silently rolled forward to the first valid instant by the standard
// library's normalization; we additionally verify the round-trip lands
// on the requested date and nudge forward minute-by-minute if a rule
// table oddity moved it backward a full day (defensive; not observed in
// Go's tzdata handling but cheap to guard).
func safeDate(y int, mo time.Month, d, h, mi, s int, loc *time.Location) time.Time {
	t := time.Date(y, mo, d, h, mi, s, 0, loc)
	for i := 0; i < 1440 && t.Day() != d; i++ {
		t = t.Add(time.Minute)
	}
	return t
}

// FormatInZone renders instant in zone using a fixed audit-log layout,
// falling back to UTC for unresolvable zones.
func FormatInZone(instant time.Time, zone string) string {
	loc, err := loadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	return instant.In(loc).Format("2006-01-02T15:04:05Z07:00")
}
