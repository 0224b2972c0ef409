package timezone

import (
	"testing"
	"time"
)

func TestIsValidZone(t *testing.T) {
	if !IsValidZone("America/New_York") {
		t.Error("expected America/New_York to be a valid zone")
	}
	if !IsValidZone("") {
		t.Error("expected empty zone to resolve to UTC and be valid")
	}
	if IsValidZone("Not/AZone") {
		t.Error("expected a made-up zone name to be invalid")
	}
}

// TestDayBoundsAcrossNamedZones exercises the day-boundary arithmetic
// across zones with distinct DST rules (including
// southern-hemisphere and half-hour-offset zones), asserting the
// window is always a 24h half-open interval that contains the probe
// instant when viewed locally.
func TestDayBoundsAcrossNamedZones(t *testing.T) {
	zones := []string{
		"America/New_York",
		"Europe/London",
		"Australia/Lord_Howe", // 30/20-minute DST shift
		"Asia/Kathmandu",      // fixed UTC+5:45, no DST
		"Pacific/Chatham",     // 45-minute offset, DST
	}

	probe := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for _, zone := range zones {
		t.Run(zone, func(t *testing.T) {
			start, end, localDate := DayBounds(probe, zone)
			if !end.After(start) {
				t.Fatalf("expected end after start, got start=%v end=%v", start, end)
			}
			if end.Sub(start) < 23*time.Hour || end.Sub(start) > 25*time.Hour {
				t.Fatalf("expected a roughly 24h window, got %v", end.Sub(start))
			}
			if localDate == "" {
				t.Fatal("expected a non-empty local date string")
			}
		})
	}
}

// TestDayBoundsAcrossAdditionalNamedZones covers a couple of zones a
// realistic volunteer/student pairing would actually use: an
// East-Africa fixed offset and a southern-hemisphere DST zone whose
// transition dates fall opposite the northern-hemisphere ones above.
func TestDayBoundsAcrossAdditionalNamedZones(t *testing.T) {
	zones := []string{
		"Africa/Nairobi",  // fixed UTC+3, no DST
		"Pacific/Auckland", // southern-hemisphere DST
	}
	probe := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for _, zone := range zones {
		t.Run(zone, func(t *testing.T) {
			start, end, localDate := DayBounds(probe, zone)
			if !end.After(start) {
				t.Fatalf("expected end after start, got start=%v end=%v", start, end)
			}
			if end.Sub(start) < 23*time.Hour || end.Sub(start) > 25*time.Hour {
				t.Fatalf("expected a roughly 24h window, got %v", end.Sub(start))
			}
			if localDate == "" {
				t.Fatal("expected a non-empty local date string")
			}
		})
	}
}

// TestDayBoundsHandlesDSTSpringForwardShortDay exercises the 23-hour
// local calendar day produced when America/New_York moves clocks
// forward on 2026-03-08 (02:00 -> 03:00).
func TestDayBoundsHandlesDSTSpringForwardShortDay(t *testing.T) {
	probe := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	start, end, localDate := DayBounds(probe, "America/New_York")

	if localDate != "2026-03-08" {
		t.Fatalf("unexpected local date: %s", localDate)
	}
	if got := end.Sub(start); got != 23*time.Hour {
		t.Fatalf("expected a 23h day across the spring-forward transition, got %v", got)
	}
}

// TestDayBoundsHandlesDSTFallBackLongDay exercises the 25-hour local
// calendar day produced when America/New_York moves clocks back on
// 2026-11-01 (02:00 -> 01:00).
func TestDayBoundsHandlesDSTFallBackLongDay(t *testing.T) {
	probe := time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC)
	start, end, localDate := DayBounds(probe, "America/New_York")

	if localDate != "2026-11-01" {
		t.Fatalf("unexpected local date: %s", localDate)
	}
	if got := end.Sub(start); got != 25*time.Hour {
		t.Fatalf("expected a 25h day across the fall-back transition, got %v", got)
	}
}

func TestDayBoundsUnknownZoneFallsBackToUTC(t *testing.T) {
	probe := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	start, end, localDate := DayBounds(probe, "Not/AZone")

	wantStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) || !end.Equal(wantEnd) {
		t.Fatalf("expected UTC-day fallback window, got start=%v end=%v", start, end)
	}
	if localDate != "2026-01-01" {
		t.Fatalf("unexpected local date: %s", localDate)
	}
}

func TestDayBoundsConsecutiveDaysDoNotOverlap(t *testing.T) {
	day1 := time.Date(2026, 6, 10, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	_, end1, _ := DayBounds(day1, "America/New_York")
	start2, _, _ := DayBounds(day2, "America/New_York")

	if !start2.Equal(end1) {
		t.Fatalf("expected consecutive days' windows to be adjacent, got end1=%v start2=%v", end1, start2)
	}
}
