package meeting

import "testing"

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCanceled, StatusMissed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	nonTerminal := []Status{StatusPending, StatusScheduled, StatusActive}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestSetStatusNormalizesLegacySpelling(t *testing.T) {
	var m Meeting
	m.SetStatus("cancelled")
	if m.Status != StatusCanceled {
		t.Fatalf("expected legacy spelling to normalize to %s, got %s", StatusCanceled, m.Status)
	}
}

func TestCountsAgainstPairLimit(t *testing.T) {
	cases := []struct {
		name   string
		m      Meeting
		counts bool
	}{
		{"scheduled counts", Meeting{Status: StatusScheduled}, true},
		{"completed counts", Meeting{Status: StatusCompleted}, true},
		{"canceled does not count", Meeting{Status: StatusCanceled}, false},
		{"missed does not count", Meeting{Status: StatusMissed}, false},
		{"cleared by admin never counts", Meeting{Status: StatusCompleted, ClearedByAdmin: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.CountsAgainstPairLimit(); got != tc.counts {
				t.Errorf("CountsAgainstPairLimit() = %v, want %v", got, tc.counts)
			}
		})
	}
}

func TestEventDedupeKeyStable(t *testing.T) {
	e := Event{Kind: EventMeetingCreated, MeetingID: "m1"}
	if e.DedupeKey() != e.DedupeKey() {
		t.Fatal("DedupeKey should be stable across repeated calls")
	}

	other := e
	other.MeetingID = "m2"
	if e.DedupeKey() == other.DedupeKey() {
		t.Fatal("DedupeKey should differ across meetings")
	}
}

func TestPerformanceStatsTotal(t *testing.T) {
	p := PerformanceStats{CompletedCount: 3, CanceledCount: 1, MissedCount: 2}
	if p.Total() != 6 {
		t.Fatalf("expected total 6, got %d", p.Total())
	}
}
