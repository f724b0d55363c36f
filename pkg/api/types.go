package api

import (
	"fmt"
	"strconv"
	"time"
)

// PortInfo describes one configured port.
type PortInfo struct {
	Port          string `json:"port" yaml:"port"`
	Process       string `json:"process" yaml:"process"`
	ArgumentIndex int    `json:"argumentIndex" yaml:"argument_index"`
	Pattern       string `json:"pattern" yaml:"pattern"`
	Initialised   bool   `json:"initialised" yaml:"initialised"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// SignalValue is the answer to one signal read.
type SignalValue struct {
	Port   string `json:"port"`
	Signal string `json:"signal"`
	Value  string `json:"value"`
	Mask   uint32 `json:"mask,omitempty"`
}

// Int parses a numeric value. It fails for DRVVER.
func (v SignalValue) Int() (int64, error) {
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("signal %s is not numeric: %q", v.Signal, v.Value)
	}
	return n, nil
}

// Snapshot holds status, count and pid taken from one scan.
type Snapshot struct {
	Status uint32 `json:"status"`
	Count  int    `json:"count"`
	PID    int    `json:"pid"`
}

// Reading is one port's result in one poll cycle.
type Reading struct {
	Port     string    `json:"port"`
	Snapshot Snapshot  `json:"snapshot"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
	Cycle    uint64    `json:"cycle"`
}

// Check is a port's health entry.
type Check struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	Since     time.Time `json:"since"`
}

// Health is the server's health summary.
type Health struct {
	Status string            `json:"status"`
	Ports  map[string]string `json:"ports"`
	Checks []Check           `json:"checks,omitempty"`
}

// ErrorBody is the JSON body of every non-2xx API response.
type ErrorBody struct {
	Error string `json:"error"`
}
