package audit

import (
	"errors"

	"github.com/breeze-rmm/procstatus/internal/poller"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
)

// Tracker turns poll cycles into journal entries. Only changes are
// recorded: a port whose status and pid stay the same produces nothing, even
// when its match count moves within the "several" band.
type Tracker struct {
	log  *Logger
	last map[string]poller.Reading
}

// NewTracker records into l.
func NewTracker(l *Logger) *Tracker {
	return &Tracker{log: l, last: make(map[string]poller.Reading)}
}

// Follow observes cycles until the channel is closed.
func (t *Tracker) Follow(cycles <-chan []poller.Reading) {
	for cycle := range cycles {
		t.Observe(cycle)
	}
}

// Observe records the changes in one cycle.
func (t *Tracker) Observe(cycle []poller.Reading) {
	for _, r := range cycle {
		prev, seen := t.last[r.Port]
		t.last[r.Port] = r

		switch {
		case r.Err() != nil:
			if seen && prev.Err() != nil && prev.Error == r.Error {
				continue
			}
			if errors.Is(r.Err(), procstatus.ErrPortDisabled) {
				t.log.Log(EventPortDisabled, r.Port, map[string]any{"error": r.Error})
			} else {
				t.log.Log(EventScanError, r.Port, map[string]any{"error": r.Error})
			}

		case seen && prev.Err() != nil && !errors.Is(prev.Err(), procstatus.ErrPortDisabled):
			t.log.Log(EventScanRecovered, r.Port, snapshotDetails(r.Snapshot, nil))

		case !seen || prev.Err() != nil ||
			prev.Snapshot.Status != r.Snapshot.Status || prev.Snapshot.PID != r.Snapshot.PID:
			var from *procstatus.Snapshot
			if seen && prev.Err() == nil {
				from = &prev.Snapshot
			}
			t.log.Log(EventStatusChange, r.Port, snapshotDetails(r.Snapshot, from))
		}
	}
}

func snapshotDetails(s procstatus.Snapshot, from *procstatus.Snapshot) map[string]any {
	d := map[string]any{
		"status": s.Status,
		"count":  s.Count,
		"pid":    s.PID,
	}
	if from != nil {
		d["previousStatus"] = from.Status
		d["previousPid"] = from.PID
	}
	return d
}
