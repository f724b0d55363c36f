// Package poller is the in-process polling host: it scans every configured
// port on a fixed interval and keeps the latest derived values.
package poller

import (
	"errors"
	"sync"
	"time"

	"github.com/breeze-rmm/procstatus/internal/health"
	"github.com/breeze-rmm/procstatus/internal/logging"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
	"github.com/breeze-rmm/procstatus/internal/workerpool"
)

var log = logging.L("poller")

// Reading is the outcome of one port's scan in one cycle.
type Reading struct {
	Port     string              `json:"port"`
	Snapshot procstatus.Snapshot `json:"snapshot"`
	Error    string              `json:"error,omitempty"`
	At       time.Time           `json:"at"`
	Cycle    uint64              `json:"cycle"`
	err      error
}

// Err returns the read error, nil on success.
func (r Reading) Err() error { return r.err }

// OK reports whether the reading holds valid values.
func (r Reading) OK() bool { return r.err == nil }

// PortSet is the subset of procstatus.Driver the poller needs.
type PortSet interface {
	Ports() []*procstatus.Port
}

// Options configure a Poller.
type Options struct {
	Interval time.Duration
	// Mask is applied to every status value.
	Mask    uint32
	Pool    *workerpool.Pool
	Monitor *health.Monitor
}

// Poller scans all ports once per interval.
type Poller struct {
	ports    PortSet
	interval time.Duration
	mask     uint32
	pool     *workerpool.Pool
	monitor  *health.Monitor

	mu     sync.RWMutex
	latest map[string]Reading
	cycle  uint64

	subMu  sync.Mutex
	subs   map[int]chan []Reading
	nextID int

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a poller over ports. A nil pool scans ports sequentially on
// the polling goroutine; a nil monitor disables health tracking.
func New(ports PortSet, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Mask == 0 {
		opts.Mask = procstatus.AllBits
	}
	p := &Poller{
		ports:    ports,
		interval: opts.Interval,
		mask:     opts.Mask,
		pool:     opts.Pool,
		monitor:  opts.Monitor,
		latest:   make(map[string]Reading),
		subs:     make(map[int]chan []Reading),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if p.monitor != nil {
		for _, port := range ports.Ports() {
			p.monitor.Register(port.Name())
		}
	}
	return p
}

// Start polls immediately and then every interval until Stop. It blocks.
func (p *Poller) Start() {
	defer close(p.done)

	log.Info("poller started", "interval", p.interval, "ports", len(p.ports.Ports()))
	p.PollOnce()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.PollOnce()
		case <-p.stopChan:
			log.Info("poller stopped")
			return
		}
	}
}

// Stop ends the polling loop. Wait on Done to know Start has returned.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
}

// Done is closed when Start returns.
func (p *Poller) Done() <-chan struct{} { return p.done }

// PollOnce runs one cycle: every port is scanned exactly once and its three
// derived values come from that single scan. It returns the cycle's readings
// in port order.
func (p *Poller) PollOnce() []Reading {
	ports := p.ports.Ports()

	p.mu.Lock()
	p.cycle++
	cycle := p.cycle
	p.mu.Unlock()

	readings := make([]Reading, len(ports))
	var wg sync.WaitGroup
	for i, port := range ports {
		i, port := i, port
		task := func() {
			defer wg.Done()
			readings[i] = p.pollPort(port, cycle)
		}
		wg.Add(1)
		if p.pool == nil || !p.pool.Submit(task) {
			task()
		}
	}
	wg.Wait()

	p.mu.Lock()
	for _, r := range readings {
		p.latest[r.Port] = r
	}
	p.mu.Unlock()

	p.publish(readings)
	return readings
}

func (p *Poller) pollPort(port *procstatus.Port, cycle uint64) Reading {
	r := Reading{Port: port.Name(), At: time.Now().UTC(), Cycle: cycle}
	snap, err := port.Snapshot(p.mask)
	if err != nil {
		r.err = err
		r.Error = err.Error()
	} else {
		r.Snapshot = snap
	}

	if p.monitor != nil {
		status, msg := classify(port, err)
		p.monitor.Update(port.Name(), status, msg)
	}
	return r
}

func classify(port *procstatus.Port, err error) (health.Status, string) {
	switch {
	case err == nil:
		return health.Healthy, ""
	case errors.Is(err, procstatus.ErrPortDisabled):
		msg := err.Error()
		if cfgErr := port.Err(); cfgErr != nil {
			msg = cfgErr.Error()
		}
		return health.Unhealthy, msg
	default:
		return health.Degraded, err.Error()
	}
}

// Latest returns the most recent reading for a port.
func (p *Poller) Latest(port string) (Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.latest[port]
	return r, ok
}

// All returns the most recent reading of every port that has been polled,
// in port order.
func (p *Poller) All() []Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Reading, 0, len(p.latest))
	for _, port := range p.ports.Ports() {
		if r, ok := p.latest[port.Name()]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Subscribe returns a channel receiving each cycle's readings. Slow
// subscribers miss cycles rather than stall the poller. The returned function
// unsubscribes and closes the channel.
func (p *Poller) Subscribe() (<-chan []Reading, func()) {
	ch := make(chan []Reading, 4)

	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
			close(ch)
		})
	}
}

func (p *Poller) publish(readings []Reading) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- readings:
		default:
			log.Debug("subscriber lagging, dropped cycle", "subscriber", id)
		}
	}
}
