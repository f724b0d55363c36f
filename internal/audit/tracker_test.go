package audit

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/procstatus/internal/poller"
	"github.com/breeze-rmm/procstatus/internal/procscan"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
)

// switchableSource fails enumeration while broken is set.
type switchableSource struct {
	procscan.StaticSource
	broken bool
}

func (s *switchableSource) PIDs() ([]int, error) {
	if s.broken {
		return nil, errors.New("proc unavailable")
	}
	return s.StaticSource.PIDs()
}

func TestTrackerRecordsOnlyChanges(t *testing.T) {
	src := &switchableSource{StaticSource: procscan.StaticSource{100: {"httpd"}}}
	d, err := procstatus.Initialise(procstatus.Options{Source: src})
	if err != nil {
		t.Fatal(err)
	}
	d.Configure(procstatus.PortConfig{Port: "HTTP", Process: "httpd"})
	d.Configure(procstatus.PortConfig{Port: "BAD", Process: "perl", ArgumentIndex: 4})
	p := poller.New(d, poller.Options{})

	l := newTestLogger(t)
	tr := NewTracker(l)

	tr.Observe(p.PollOnce()) // HTTP unique, BAD disabled
	tr.Observe(p.PollOnce()) // unchanged

	src.StaticSource[101] = []string{"httpd"}
	tr.Observe(p.PollOnce()) // HTTP several
	src.StaticSource[102] = []string{"httpd"}
	tr.Observe(p.PollOnce()) // count moves inside the several band

	src.broken = true
	tr.Observe(p.PollOnce()) // scan error
	tr.Observe(p.PollOnce()) // same error
	src.broken = false
	tr.Observe(p.PollOnce()) // recovered
	l.Close()

	var got []string
	for _, e := range readEntries(t, l.filePath) {
		got = append(got, e.Port+":"+e.EventType)
	}
	want := []string{
		"HTTP:" + EventStatusChange,
		"BAD:" + EventPortDisabled,
		"HTTP:" + EventStatusChange,
		"HTTP:" + EventScanError,
		"HTTP:" + EventScanRecovered,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestTrackerStatusChangeDetails(t *testing.T) {
	src := procscan.StaticSource{100: {"sshd"}}
	d, _ := procstatus.Initialise(procstatus.Options{Source: src})
	d.Configure(procstatus.PortConfig{Port: "SSH", Process: "sshd"})
	p := poller.New(d, poller.Options{})

	l := newTestLogger(t)
	tr := NewTracker(l)
	tr.Observe(p.PollOnce())
	delete(src, 100)
	tr.Observe(p.PollOnce())
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if _, ok := entries[0].Details["previousStatus"]; ok {
		t.Fatal("first observation has no previous state")
	}
	d1 := entries[1].Details
	if d1["status"] != float64(1) || d1["previousStatus"] != float64(2) || d1["previousPid"] != float64(100) {
		t.Fatalf("details = %v", d1)
	}
}

func TestTrackerFollow(t *testing.T) {
	src := procscan.StaticSource{1: {"a"}}
	d, _ := procstatus.Initialise(procstatus.Options{Source: src})
	d.Configure(procstatus.PortConfig{Port: "A", Process: "a"})
	p := poller.New(d, poller.Options{})

	l := newTestLogger(t)
	cycles, unsubscribe := p.Subscribe()
	done := make(chan struct{})
	go func() {
		NewTracker(l).Follow(cycles)
		close(done)
	}()

	p.PollOnce()
	unsubscribe()
	<-done
	l.Close()

	if n, err := VerifyFile(l.filePath); err != nil || n != 1 {
		t.Fatalf("VerifyFile = %d, %v", n, err)
	}
}
