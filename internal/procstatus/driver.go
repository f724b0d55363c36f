// Package procstatus exposes whether a configured process is running as a set
// of read-only signals (version, status, count, pid) for a polling host.
package procstatus

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/breeze-rmm/procstatus/internal/logging"
	"github.com/breeze-rmm/procstatus/internal/procscan"
)

// Version is the engine version reported by SignalVersion.
const Version = "1.1.5"

// MaxNameLength bounds port names, process names and patterns.
const MaxNameLength = 199

// Options configure a Driver.
type Options struct {
	// Verbosity is 0 (errors only) .. 4 (most verbose).
	Verbosity int
	// Source is the process table to scan. nil means the host /proc.
	Source procscan.Source
	// Logger is the base logger. nil means the procstatus component logger.
	Logger *slog.Logger
}

// Driver owns the shared scanner and the ports configured through it. It
// must be created with Initialise before any port is configured.
type Driver struct {
	verbosity int
	scanner   *procscan.Scanner
	log       *slog.Logger

	mu     sync.RWMutex
	ports  []*Port
	byName map[string]*Port
}

// Initialise validates opts and returns a driver ready to configure ports.
func Initialise(opts Options) (*Driver, error) {
	if opts.Verbosity < logging.MinVerbosity || opts.Verbosity > logging.MaxVerbosity {
		return nil, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidVerbosity,
			opts.Verbosity, logging.MinVerbosity, logging.MaxVerbosity)
	}

	base := opts.Logger
	if base == nil {
		base = logging.L("procstatus")
	}
	logger := logging.WithVerbosity(base, opts.Verbosity)

	src := opts.Source
	if src == nil {
		src = procscan.NewProcFS(nil)
	}

	return &Driver{
		verbosity: opts.Verbosity,
		scanner:   procscan.NewScanner(src, logger),
		log:       logger,
		byName:    make(map[string]*Port),
	}, nil
}

// Verbosity returns the level the driver was initialised with.
func (d *Driver) Verbosity() int { return d.verbosity }

func (d *Driver) initialised() bool {
	return d != nil && d.scanner != nil
}

// Configure constructs a port. Construction never panics: on any validation
// failure the returned port is non-nil but permanently disabled, the problem
// is logged at error, and a *ConfigError is returned. Ports with a usable name
// are registered with the driver either way so they show up in reports.
func (d *Driver) Configure(cfg PortConfig) (*Port, error) {
	logger := logging.L("procstatus")
	if d != nil && d.log != nil {
		logger = d.log
	}
	logger = logging.WithPort(logger, cfg.Port, cfg.Process)

	p := &Port{cfg: cfg, fullName: cfg.Port + "-" + cfg.Process, log: logger}

	if !d.initialised() {
		p.cfgErr = &ConfigError{Port: cfg.Port, Err: ErrDriverNotInitialised}
		logger.Error("port configuration failed", logging.KeyError, p.cfgErr)
		return p, p.cfgErr
	}
	p.scanner = d.scanner

	if err := d.register(p); err != nil {
		p.cfgErr = err
		logger.Error("port configuration failed", logging.KeyError, err)
		return p, err
	}

	if err := p.build(); err != nil {
		p.cfgErr = err
		logger.Error("port configuration failed", logging.KeyError, err)
		return p, err
	}

	logger.Info("initialisation complete", "name", p.fullName)
	return p, nil
}

func (d *Driver) register(p *Port) error {
	name := p.cfg.Port
	if name == "" {
		return &ConfigError{Field: "port", Err: errors.New("null/empty port name")}
	}
	if len(name) > MaxNameLength {
		return &ConfigError{Port: name, Field: "port", Err: fmt.Errorf("longer than %d bytes", MaxNameLength)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.byName[name]; dup {
		return &ConfigError{Port: name, Field: "port", Err: ErrDuplicatePort}
	}
	d.byName[name] = p
	d.ports = append(d.ports, p)
	return nil
}

// Port looks a configured port up by name.
func (d *Driver) Port(name string) (*Port, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byName[name]
	return p, ok
}

// Ports returns the registered ports in configuration order.
func (d *Driver) Ports() []*Port {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Port(nil), d.ports...)
}

// Report writes every port's report to w.
func (d *Driver) Report(w io.Writer, details int) {
	fmt.Fprintf(w, "procstatus driver version %s, verbosity %d, %d port(s)\n",
		Version, d.verbosity, len(d.Ports()))
	for _, p := range d.Ports() {
		fmt.Fprintf(w, "  port %s\n", p.Name())
		p.Report(w, details)
	}
}
