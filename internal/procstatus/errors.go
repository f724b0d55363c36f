package procstatus

import (
	"errors"
	"fmt"
)

var (
	// ErrDriverNotInitialised is returned when a port is configured through a
	// driver that was never initialised.
	ErrDriverNotInitialised = errors.New("driver not initialised (call Initialise first)")
	// ErrPortDisabled is returned by every scanning read on a port whose
	// construction failed.
	ErrPortDisabled = errors.New("port not initialised")

	ErrUnknownSignal    = errors.New("unknown signal")
	ErrDuplicatePort    = errors.New("duplicate port name")
	ErrInvalidVerbosity = errors.New("verbosity out of range")
)

// ConfigError describes why a port could not be constructed.
type ConfigError struct {
	Port  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	port := e.Port
	if port == "" {
		port = "<unnamed>"
	}
	if e.Field == "" {
		return fmt.Sprintf("port %s: %v", port, e.Err)
	}
	return fmt.Sprintf("port %s: %s: %v", port, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
