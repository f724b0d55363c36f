package health

import (
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/procstatus/internal/logging"
)

var log = logging.L("health")

// Status is the health of one monitored port.
type Status string

const (
	// Healthy: the last scan completed.
	Healthy Status = "healthy"
	// Degraded: the last scan could not read the process table.
	Degraded Status = "degraded"
	// Unhealthy: the port failed configuration and can never scan.
	Unhealthy Status = "unhealthy"
	// Unknown: no scan has been attempted yet.
	Unknown Status = "unknown"
)

// IsValid reports whether s is one of the declared statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check is the latest health result for a port.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Since is when the port entered its current status.
	Since time.Time `json:"since"`
}

// Monitor tracks health checks for many ports.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
		now:    time.Now,
	}
}

// Register records a port as Unknown unless it already has a check.
func (m *Monitor) Register(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[name]; ok {
		return
	}
	now := m.now()
	m.checks[name] = Check{Name: name, Status: Unknown, UpdatedAt: now, Since: now}
}

// Update records the status of a port. Invalid statuses are stored as
// Unhealthy. Transitions are logged; repeats of the same status are not.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		message = "invalid status " + string(status) + ": " + message
		status = Unhealthy
	}

	m.mu.Lock()
	now := m.now()
	prev, existed := m.checks[name]
	since := now
	if existed && prev.Status == status {
		since = prev.Since
	}
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: now,
		Since:     since,
	}
	m.mu.Unlock()

	if existed && prev.Status == status {
		return
	}
	if status == Healthy {
		log.Info("port healthy", logging.KeyPort, name)
	} else {
		log.Warn("port health changed", logging.KeyPort, name, "status", string(status), "message", message)
	}
}

// Get returns the check for a port.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, Unknown when empty.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns a snapshot of all checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Summary is the JSON form served to status clients.
type Summary struct {
	Status Status            `json:"status"`
	Ports  map[string]Status `json:"ports"`
}

// Summary returns the overall status and per-port statuses, taken under one
// lock so they agree with each other.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ports := make(map[string]Status, len(m.checks))
	for _, c := range m.checks {
		ports[c.Name] = c.Status
	}
	return Summary{Status: m.overallLocked(), Ports: ports}
}

func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 0
	}
}
