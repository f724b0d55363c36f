package procscan

import (
	"github.com/shirou/gopsutil/v3/process"
)

// Gopsutil enumerates processes through gopsutil, for platforms without a
// procfs mount. Command lines are re-encoded into the kernel's NUL-delimited
// form so matching is identical across sources.
type Gopsutil struct {
	readLimit int
}

// NewGopsutil returns a Source backed by gopsutil. readLimit <= 0 means
// DefaultReadLimit.
func NewGopsutil(readLimit int) *Gopsutil {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return &Gopsutil{readLimit: readLimit}
}

// PIDs lists live process ids.
func (g *Gopsutil) PIDs() ([]int, error) {
	raw, err := process.Pids()
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(raw))
	for _, pid := range raw {
		if pid >= 0 {
			pids = append(pids, int(pid))
		}
	}
	return pids, nil
}

// Cmdline returns the argument record of pid, truncated to the read limit.
func (g *Gopsutil) Cmdline(pid int) ([]byte, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	argv, err := p.CmdlineSlice()
	if err != nil {
		return nil, err
	}
	buf := Encode(argv)
	if len(buf) == 0 {
		return nil, ErrEmptyCmdline
	}
	if len(buf) > g.readLimit {
		buf = buf[:g.readLimit]
	}
	return buf, nil
}
