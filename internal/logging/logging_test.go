package logging

import "testing"

func TestRingBuffersLinesInOrder(t *testing.T) {
	r := NewRing(nil, 0)
	r.Post(PriorityLow, "first")
	r.Post(PriorityHigh, "second")

	lines := r.Lines()
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Text != "first" || lines[0].Priority != PriorityLow {
		t.Errorf("lines[0] = %+v", lines[0])
	}
	if lines[1].Text != "second" || lines[1].Priority != PriorityHigh {
		t.Errorf("lines[1] = %+v", lines[1])
	}
}

func TestRingDropsOldestPastMaxLines(t *testing.T) {
	r := NewRing(nil, 3)
	for i := 0; i < 5; i++ {
		r.Post(PriorityLow, string(rune('a'+i)))
	}
	lines := r.Lines()
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	got := []string{lines[0].Text, lines[1].Text, lines[2].Text}
	want := []string{"c", "d", "e"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPriorityString(t *testing.T) {
	cases := map[Priority]string{
		PriorityLow:    "low",
		PriorityMedium: "medium",
		PriorityHigh:   "high",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", p, got, want)
		}
	}
}

func TestNewBuildsAWorkingLogger(t *testing.T) {
	log, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer log.Sync()
	log.Info("smoke test")

	debugLog, err := New(true)
	if err != nil {
		t.Fatalf("New(debug): %v", err)
	}
	defer debugLog.Sync()
}
