package health

import (
	"sync"
	"testing"
	"time"
)

func TestNewMonitorOverallReturnsUnknown(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() on empty monitor = %q, want %q", got, Unknown)
	}
}

func TestSummaryOnEmptyMonitor(t *testing.T) {
	s := NewMonitor().Summary()
	if s.Status != Unknown {
		t.Fatalf("Summary status = %v, want unknown", s.Status)
	}
	if len(s.Ports) != 0 {
		t.Fatalf("Summary ports = %v, want empty", s.Ports)
	}
}

func TestRegisterStartsUnknownAndKeepsExisting(t *testing.T) {
	m := NewMonitor()
	m.Register("HTTP")
	if c, _ := m.Get("HTTP"); c.Status != Unknown {
		t.Fatalf("Status = %q, want unknown", c.Status)
	}

	m.Update("HTTP", Healthy, "")
	m.Register("HTTP")
	if c, _ := m.Get("HTTP"); c.Status != Healthy {
		t.Fatalf("Register overwrote existing check: %q", c.Status)
	}
}

func TestOverallReturnsWorstStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("a", Healthy, "")
	m.Update("b", Degraded, "can't open /proc")
	m.Update("c", Healthy, "")

	if got := m.Overall(); got != Degraded {
		t.Fatalf("Overall() = %q, want %q", got, Degraded)
	}

	m.Update("d", Unhealthy, "null/empty process name")
	if got := m.Overall(); got != Unhealthy {
		t.Fatalf("Overall() = %q, want %q", got, Unhealthy)
	}
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{Healthy, Degraded, Unhealthy, Unknown} {
		if !s.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", s)
		}
	}
	for _, s := range []Status{"garbage", "", "ok"} {
		if s.IsValid() {
			t.Errorf("IsValid(%q) = true, want false", s)
		}
	}
}

func TestUpdateCoercesInvalidStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("test", Status("invalid"), "bad value")

	c, ok := m.Get("test")
	if !ok {
		t.Fatal("port not found after Update")
	}
	if c.Status != Unhealthy {
		t.Fatalf("Status = %q, want %q (coerced from invalid)", c.Status, Unhealthy)
	}
}

func TestSinceTracksTransitions(t *testing.T) {
	m := NewMonitor()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	m.Update("HTTP", Healthy, "")
	clock = clock.Add(time.Minute)
	m.Update("HTTP", Healthy, "")

	c, _ := m.Get("HTTP")
	if !c.Since.Equal(clock.Add(-time.Minute)) {
		t.Fatalf("Since moved on a repeat update: %v", c.Since)
	}
	if !c.UpdatedAt.Equal(clock) {
		t.Fatalf("UpdatedAt = %v, want %v", c.UpdatedAt, clock)
	}

	clock = clock.Add(time.Minute)
	m.Update("HTTP", Degraded, "scan failed")
	c, _ = m.Get("HTTP")
	if !c.Since.Equal(clock) {
		t.Fatalf("Since = %v, want %v after transition", c.Since, clock)
	}
}

func TestSummaryAtomicity(t *testing.T) {
	m := NewMonitor()
	m.Update("comp1", Healthy, "")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Update("comp1", Degraded, "test")
			} else {
				m.Update("comp1", Healthy, "")
			}
		}(i)
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.Summary()
			if s.Status != s.Ports["comp1"] {
				t.Errorf("summary inconsistency: overall=%q comp1=%q", s.Status, s.Ports["comp1"])
			}
		}()
	}

	wg.Wait()
}

func TestAllIsSortedSnapshot(t *testing.T) {
	m := NewMonitor()
	m.Update("b", Degraded, "slow")
	m.Update("a", Healthy, "")

	all := m.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d checks, want 2", len(all))
	}
	if all[0].Name != "a" || all[1].Name != "b" {
		t.Fatalf("All() not sorted: %v", all)
	}
}
