package procstatus

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/breeze-rmm/procstatus/internal/logging"
	"github.com/breeze-rmm/procstatus/internal/procscan"
)

// PortConfig is the construction-time configuration of one port.
type PortConfig struct {
	Port          string `json:"port" yaml:"port"`
	Process       string `json:"process" yaml:"process"`
	ArgumentIndex int    `json:"argumentIndex" yaml:"argument_index"`
	Pattern       string `json:"pattern" yaml:"pattern"`
}

// Port answers reads for one monitored process. Its configuration never
// changes after Configure returns, so reads may run concurrently.
type Port struct {
	cfg      PortConfig
	fullName string
	matcher  *procscan.Matcher
	scanner  *procscan.Scanner
	log      *slog.Logger
	cfgErr   error
}

func (p *Port) build() error {
	cfg := p.cfg
	if cfg.Process == "" {
		return &ConfigError{Port: cfg.Port, Field: "process", Err: errors.New("null/empty process name")}
	}
	if len(cfg.Process) > MaxNameLength {
		return &ConfigError{Port: cfg.Port, Field: "process", Err: fmt.Errorf("longer than %d bytes", MaxNameLength)}
	}
	if cfg.ArgumentIndex > 0 && cfg.Pattern == "" {
		return &ConfigError{Port: cfg.Port, Field: "pattern", Err: procscan.ErrEmptyPattern}
	}
	if cfg.ArgumentIndex > 0 && len(cfg.Pattern) > MaxNameLength {
		return &ConfigError{Port: cfg.Port, Field: "pattern", Err: fmt.Errorf("longer than %d bytes", MaxNameLength)}
	}

	m, err := procscan.NewMatcher(cfg.Process, cfg.ArgumentIndex, cfg.Pattern)
	if err != nil {
		field := "pattern"
		if errors.Is(err, procscan.ErrNegativeIndex) {
			field = "argument_index"
		}
		return &ConfigError{Port: cfg.Port, Field: field, Err: err}
	}
	p.matcher = m
	return nil
}

// Name returns the port name.
func (p *Port) Name() string { return p.cfg.Port }

// Config returns the configuration the port was built from.
func (p *Port) Config() PortConfig { return p.cfg }

// Initialised reports whether construction succeeded.
func (p *Port) Initialised() bool { return p.matcher != nil && p.cfgErr == nil }

// Err returns the construction error of a disabled port, nil otherwise.
func (p *Port) Err() error { return p.cfgErr }

// Value is the result of one signal read. Exactly one of Text, Uint or Int
// is meaningful, selected by Signal.
type Value struct {
	Signal Signal
	Text   string
	Uint   uint32
	Int    int
}

func (v Value) String() string {
	switch v.Signal {
	case SignalVersion:
		return v.Text
	case SignalStatus:
		return fmt.Sprintf("%d", v.Uint)
	default:
		return fmt.Sprintf("%d", v.Int)
	}
}

// Read performs one read of sig. Every scanning signal runs its own full scan;
// use Snapshot to derive all of them from a single scan. mask only applies to
// SignalStatus.
func (p *Port) Read(sig Signal, mask uint32) (Value, error) {
	v := Value{Signal: sig}

	if sig == SignalVersion {
		v.Text = Version
		return v, nil
	}
	if !sig.Valid() {
		err := fmt.Errorf("%w: %s", ErrUnknownSignal, sig)
		p.log.Error("unexpected signal", logging.KeyError, err)
		return v, err
	}
	if !p.Initialised() {
		return v, ErrPortDisabled
	}

	res, err := p.scan()
	if err != nil {
		return v, err
	}
	snap := Reduce(res, mask)

	switch sig {
	case SignalStatus:
		v.Uint = snap.Status
	case SignalCount:
		v.Int = snap.Count
	case SignalPID:
		v.Int = snap.PID
	}
	return v, nil
}

// Snapshot derives status, count and pid from one scan, so the three values
// describe the same instant.
func (p *Port) Snapshot(mask uint32) (Snapshot, error) {
	if !p.Initialised() {
		return Snapshot{}, ErrPortDisabled
	}
	res, err := p.scan()
	if err != nil {
		return Snapshot{}, err
	}
	return Reduce(res, mask), nil
}

func (p *Port) scan() (procscan.Result, error) {
	res, err := p.scanner.Scan(p.matcher)
	if err != nil {
		p.log.Error("scan failed", logging.KeyError, err)
		return res, err
	}
	p.log.Debug("scan", "count", res.Count, logging.KeyPID, res.LastPID)
	return res, nil
}

// Info is the machine-friendly form of Report.
type Info struct {
	Port          string `json:"port" yaml:"port"`
	Process       string `json:"process" yaml:"process"`
	ArgumentIndex int    `json:"argumentIndex" yaml:"argument_index"`
	Pattern       string `json:"pattern" yaml:"pattern"`
	Initialised   bool   `json:"initialised" yaml:"initialised"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Info describes the port's configuration and state.
func (p *Port) Info() Info {
	info := Info{
		Port:          p.cfg.Port,
		Process:       p.cfg.Process,
		ArgumentIndex: p.cfg.ArgumentIndex,
		Pattern:       p.cfg.Pattern,
		Initialised:   p.Initialised(),
	}
	if p.cfgErr != nil {
		info.Error = p.cfgErr.Error()
	}
	return info
}

// Report writes a human-readable dump of the port's configuration. Nothing
// is written when details <= 0.
func (p *Port) Report(w io.Writer, details int) {
	if details <= 0 {
		return
	}
	initialised := "no"
	if p.Initialised() {
		initialised = "yes"
	}
	fmt.Fprintf(w, "    driver info:\n")
	fmt.Fprintf(w, "        process name:   %s\n", p.cfg.Process)
	fmt.Fprintf(w, "        argument index: %d\n", p.cfg.ArgumentIndex)
	fmt.Fprintf(w, "        regex:          '%s'\n", p.cfg.Pattern)
	fmt.Fprintf(w, "        initialised:    %s\n", initialised)
	if details > 1 && p.cfgErr != nil {
		fmt.Fprintf(w, "        error:          %v\n", p.cfgErr)
	}
	fmt.Fprintln(w)
}
