// Package procscan enumerates live processes and counts the ones whose command
// line matches a configured process name and optional argument pattern.
package procscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/breeze-rmm/procstatus/internal/logging"
)

// NoPID is Result.LastPID when nothing matched.
const NoPID = -1

// Result is the outcome of one scan of the process table.
type Result struct {
	Count   int
	LastPID int
}

// ScanAccessError means the process table could not be enumerated at all.
// Only the current scan fails; the next one may succeed.
type ScanAccessError struct {
	Root string
	Err  error
}

func (e *ScanAccessError) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("can't enumerate processes: %v", e.Err)
	}
	return fmt.Sprintf("can't open %s: %v", e.Root, e.Err)
}

func (e *ScanAccessError) Unwrap() error { return e.Err }

// Scanner runs scans against a Source. It holds no per-scan state and may be
// shared between goroutines.
type Scanner struct {
	source Source
	log    *slog.Logger
}

// NewScanner returns a Scanner over source. A nil logger uses the package
// component logger.
func NewScanner(source Source, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.L("procscan")
	}
	return &Scanner{source: source, log: logger}
}

// Scan walks the process table once and counts matches. Individual processes
// that vanish or cannot be read are skipped; only failure to enumerate the
// table is returned as an error. With more than one match LastPID is whichever
// match was enumerated last.
func (s *Scanner) Scan(m *Matcher) (Result, error) {
	res := Result{LastPID: NoPID}

	start := time.Now()
	pids, err := s.source.PIDs()
	if err != nil {
		var sae *ScanAccessError
		if !errors.As(err, &sae) {
			err = &ScanAccessError{Root: rootOf(s.source), Err: err}
		}
		s.log.Error("process enumeration failed", logging.KeyError, err)
		return res, err
	}

	for _, pid := range pids {
		cmdline, err := s.source.Cmdline(pid)
		if err != nil {
			if errors.Is(err, ErrEmptyCmdline) {
				s.log.Log(context.Background(), logging.LevelTrace, "no bytes read", logging.KeyPID, pid)
			} else {
				s.log.Debug("can't read cmdline", logging.KeyPID, pid, logging.KeyError, err)
			}
			continue
		}
		if m.Match(cmdline) {
			res.Count++
			res.LastPID = pid
		}
	}

	s.log.Log(context.Background(), logging.LevelTrace, "scan complete",
		"candidates", len(pids),
		"matches", res.Count,
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return res, nil
}

func rootOf(src Source) string {
	if p, ok := src.(*ProcFS); ok {
		return p.root
	}
	return ""
}

func (p *ProcFS) verifyDir() error {
	info, err := p.fs.Stat(p.root)
	if err != nil {
		return &ScanAccessError{Root: p.root, Err: err}
	}
	if !info.IsDir() {
		return &ScanAccessError{Root: p.root, Err: errors.New("not a directory")}
	}
	return nil
}
