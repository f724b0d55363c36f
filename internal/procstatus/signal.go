package procstatus

import (
	"fmt"
	"strings"
)

// Signal names one of the read-only values a port exposes to a polling host.
type Signal int

const (
	SignalVersion Signal = iota // DRVVER: engine version string
	SignalStatus                // STATUS: saturated match level 1/2/3, masked
	SignalCount                 // COUNT: number of matching processes
	SignalPID                   // PID: pid of the match when unique, else 0

	numSignals
)

var signalNames = [numSignals]string{
	SignalVersion: "DRVVER",
	SignalStatus:  "STATUS",
	SignalCount:   "COUNT",
	SignalPID:     "PID",
}

// Signals lists every signal in declaration order.
func Signals() []Signal {
	out := make([]Signal, 0, numSignals)
	for s := SignalVersion; s < numSignals; s++ {
		out = append(out, s)
	}
	return out
}

func (s Signal) String() string {
	if s.Valid() {
		return signalNames[s]
	}
	return fmt.Sprintf("unknown (%d)", int(s))
}

// Valid reports whether s is one of the declared signals.
func (s Signal) Valid() bool {
	return s >= 0 && s < numSignals
}

// ParseSignal resolves a signal name, case-insensitively.
func ParseSignal(name string) (Signal, error) {
	for s, n := range signalNames {
		if strings.EqualFold(n, name) {
			return Signal(s), nil
		}
	}
	return -1, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownSignal, name, SignalNames())
}

// SignalNames lists every signal name, comma separated, for help and errors.
func SignalNames() string {
	names := make([]string, 0, numSignals)
	for _, s := range Signals() {
		names = append(names, s.String())
	}
	return strings.Join(names, ", ")
}
