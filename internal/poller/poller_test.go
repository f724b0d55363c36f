package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/procstatus/internal/health"
	"github.com/breeze-rmm/procstatus/internal/procscan"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
	"github.com/breeze-rmm/procstatus/internal/workerpool"
)

// countingSource counts enumerations so tests can assert one scan per port
// per cycle.
type countingSource struct {
	procscan.StaticSource
	enumerations atomic.Int64
}

func (c *countingSource) PIDs() ([]int, error) {
	c.enumerations.Add(1)
	return c.StaticSource.PIDs()
}

type brokenSource struct{}

func (brokenSource) PIDs() ([]int, error)        { return nil, errors.New("proc unavailable") }
func (brokenSource) Cmdline(int) ([]byte, error) { return nil, errors.New("proc unavailable") }

func newDriver(t *testing.T, src procscan.Source, ports ...procstatus.PortConfig) *procstatus.Driver {
	t.Helper()
	d, err := procstatus.Initialise(procstatus.Options{Source: src})
	if err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	for _, cfg := range ports {
		d.Configure(cfg)
	}
	return d
}

func TestPollOnceReadsEveryPortOnce(t *testing.T) {
	src := &countingSource{StaticSource: procscan.StaticSource{
		100: {"httpd"},
		101: {"httpd"},
		200: {"perl", "/opt/ArchiveDaemon.pl"},
	}}
	d := newDriver(t, src,
		procstatus.PortConfig{Port: "HTTP", Process: "httpd"},
		procstatus.PortConfig{Port: "DAEMON", Process: "perl", ArgumentIndex: 2, Pattern: `ArchiveDaemon\.pl$`},
		procstatus.PortConfig{Port: "SSH", Process: "sshd"},
	)

	pool := workerpool.New(2, 8)
	defer pool.Shutdown(context.Background())

	p := New(d, Options{Interval: time.Hour, Pool: pool})
	readings := p.PollOnce()

	if got := src.enumerations.Load(); got != 3 {
		t.Fatalf("enumerations = %d, want 3", got)
	}
	want := map[string]procstatus.Snapshot{
		"HTTP":   {Status: 3, Count: 2, PID: 0},
		"DAEMON": {Status: 2, Count: 1, PID: 200},
		"SSH":    {Status: 1, Count: 0, PID: 0},
	}
	if len(readings) != len(want) {
		t.Fatalf("got %d readings, want %d", len(readings), len(want))
	}
	for i, name := range []string{"HTTP", "DAEMON", "SSH"} {
		r := readings[i]
		if r.Port != name {
			t.Fatalf("readings[%d].Port = %q, want %q", i, r.Port, name)
		}
		if !r.OK() || r.Snapshot != want[name] {
			t.Fatalf("%s: %+v err=%v", name, r.Snapshot, r.Err())
		}
		if r.Cycle != 1 {
			t.Fatalf("%s: cycle = %d, want 1", name, r.Cycle)
		}
	}

	latest, ok := p.Latest("DAEMON")
	if !ok || latest.Snapshot.PID != 200 {
		t.Fatalf("Latest(DAEMON) = %+v, %v", latest, ok)
	}
	if len(p.All()) != 3 {
		t.Fatalf("All() = %d readings, want 3", len(p.All()))
	}
}

func TestPollOnceWithoutPool(t *testing.T) {
	d := newDriver(t, procscan.StaticSource{1: {"a"}}, procstatus.PortConfig{Port: "A", Process: "a"})
	p := New(d, Options{})
	readings := p.PollOnce()
	if len(readings) != 1 || readings[0].Snapshot.PID != 1 {
		t.Fatalf("readings = %+v", readings)
	}
}

func TestHealthTracksPortState(t *testing.T) {
	mon := health.NewMonitor()

	d := newDriver(t, procscan.StaticSource{1: {"a"}},
		procstatus.PortConfig{Port: "OK", Process: "a"},
		procstatus.PortConfig{Port: "BAD", Process: "a", ArgumentIndex: 3},
	)
	p := New(d, Options{Monitor: mon})

	for _, name := range []string{"OK", "BAD"} {
		if c, ok := mon.Get(name); !ok || c.Status != health.Unknown {
			t.Fatalf("%s before poll: %+v, %v", name, c, ok)
		}
	}

	p.PollOnce()
	if c, _ := mon.Get("OK"); c.Status != health.Healthy {
		t.Fatalf("OK status = %s", c.Status)
	}
	c, _ := mon.Get("BAD")
	if c.Status != health.Unhealthy || c.Message == "" {
		t.Fatalf("BAD check = %+v", c)
	}
	if mon.Overall() != health.Unhealthy {
		t.Fatalf("overall = %s", mon.Overall())
	}

	r, _ := p.Latest("BAD")
	if !errors.Is(r.Err(), procstatus.ErrPortDisabled) || r.Error == "" {
		t.Fatalf("BAD reading err = %v", r.Err())
	}
}

func TestScanErrorDegradesHealth(t *testing.T) {
	mon := health.NewMonitor()
	d := newDriver(t, brokenSource{}, procstatus.PortConfig{Port: "HTTP", Process: "httpd"})
	p := New(d, Options{Monitor: mon})

	readings := p.PollOnce()
	var sae *procscan.ScanAccessError
	if !errors.As(readings[0].Err(), &sae) {
		t.Fatalf("err = %v, want *procscan.ScanAccessError", readings[0].Err())
	}
	if c, _ := mon.Get("HTTP"); c.Status != health.Degraded {
		t.Fatalf("status = %s, want degraded", c.Status)
	}
}

func TestMaskAppliedToReadings(t *testing.T) {
	d := newDriver(t, procscan.StaticSource{1: {"a"}, 2: {"a"}}, procstatus.PortConfig{Port: "A", Process: "a"})
	p := New(d, Options{Mask: 0x1})
	if got := p.PollOnce()[0].Snapshot.Status; got != 1 {
		t.Fatalf("status = %d, want 3&1 = 1", got)
	}
}

func TestSubscribeReceivesCycles(t *testing.T) {
	d := newDriver(t, procscan.StaticSource{1: {"a"}}, procstatus.PortConfig{Port: "A", Process: "a"})
	p := New(d, Options{})

	ch, unsubscribe := p.Subscribe()
	p.PollOnce()

	select {
	case readings := <-ch:
		if len(readings) != 1 || readings[0].Port != "A" {
			t.Fatalf("readings = %+v", readings)
		}
	case <-time.After(time.Second):
		t.Fatal("no readings published")
	}

	unsubscribe()
	unsubscribe()
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
	p.PollOnce()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	d := newDriver(t, procscan.StaticSource{1: {"a"}}, procstatus.PortConfig{Port: "A", Process: "a"})
	p := New(d, Options{})
	_, unsubscribe := p.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			p.PollOnce()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PollOnce blocked on a full subscriber")
	}
}

func TestStartStop(t *testing.T) {
	d := newDriver(t, procscan.StaticSource{1: {"a"}}, procstatus.PortConfig{Port: "A", Process: "a"})
	p := New(d, Options{Interval: 10 * time.Millisecond})

	go p.Start()
	deadline := time.After(2 * time.Second)
	for {
		if r, ok := p.Latest("A"); ok && r.Cycle >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("poller did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Stop()
	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
