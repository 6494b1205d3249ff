package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	want := []string{
		"ncdc_slots_in_use",
		"ncdc_bytes_served_total",
		"ncdc_search_replies_total",
		"ncdc_hub_reconnects_total",
		"ncdc_cc_sessions_active",
	}
	for _, name := range want {
		if !names[name] {
			t.Fatalf("collector %q not registered; got %v", name, names)
		}
	}
	m.SlotsInUse.Set(2)
	m.BytesServed.Add(1024)
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("registering a second set of collectors against the same registry did not panic")
		}
	}()
	New(reg)
}

func TestNoopReturnsUsableMetrics(t *testing.T) {
	a := Noop()
	b := Noop()
	// Each call registers against its own private registry, so a second
	// call does not hit the duplicate-registration panic that
	// TestNewPanicsOnDoubleRegistration provokes, and both sets of
	// collectors accept updates.
	a.SlotsInUse.Set(5)
	b.SlotsInUse.Inc()
}
