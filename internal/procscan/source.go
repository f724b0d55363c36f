package procscan

import (
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strconv"

	"github.com/spf13/afero"
)

// DefaultProcRoot is where the kernel process table is mounted.
const DefaultProcRoot = "/proc"

// DefaultReadLimit caps the bytes read from one cmdline record.
const DefaultReadLimit = 1024

// ErrEmptyCmdline is returned by Source.Cmdline for records with no bytes,
// typically kernel threads and zombies.
var ErrEmptyCmdline = errors.New("empty cmdline")

// Source enumerates candidate processes and their raw command lines.
type Source interface {
	// PIDs lists the live process ids. An error means the process table
	// itself could not be read.
	PIDs() ([]int, error)
	// Cmdline returns the NUL-delimited argument record of pid. Errors are
	// per-candidate: the process may have exited or be unreadable.
	Cmdline(pid int) ([]byte, error)
}

// ProcFS reads the process table from a procfs-style directory tree.
type ProcFS struct {
	fs        afero.Fs
	root      string
	readLimit int
}

// ProcFSOption customises a ProcFS.
type ProcFSOption func(*ProcFS)

// WithRoot overrides the procfs mount point.
func WithRoot(root string) ProcFSOption {
	return func(p *ProcFS) {
		if root != "" {
			p.root = root
		}
	}
}

// WithReadLimit overrides how many bytes of each cmdline record are read.
func WithReadLimit(n int) ProcFSOption {
	return func(p *ProcFS) {
		if n > 0 {
			p.readLimit = n
		}
	}
}

// NewProcFS returns a Source over fs. A nil fs means the host filesystem.
func NewProcFS(fs afero.Fs, opts ...ProcFSOption) *ProcFS {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	p := &ProcFS{fs: fs, root: DefaultProcRoot, readLimit: DefaultReadLimit}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the directory being scanned.
func (p *ProcFS) Root() string { return p.root }

// PIDs returns every entry of the root whose name is entirely decimal digits.
// Results are in directory order; callers must not rely on it being sorted.
func (p *ProcFS) PIDs() ([]int, error) {
	dir, err := p.fs.Open(p.root)
	if err != nil {
		return nil, &ScanAccessError{Root: p.root, Err: err}
	}
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, &ScanAccessError{Root: p.root, Err: err}
	}

	pids := make([]int, 0, len(names))
	for _, name := range names {
		if pid, ok := parsePID(name); ok {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// Cmdline reads at most the configured limit of <root>/<pid>/cmdline.
func (p *ProcFS) Cmdline(pid int) ([]byte, error) {
	f, err := p.fs.Open(path.Join(p.root, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, p.readLimit)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmptyCmdline
	}
	return buf[:n], nil
}

// parsePID accepts names made only of ASCII digits whose value fits in 31
// bits, so the pid is the same on every platform's int.
func parsePID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < '0' || c > '9' {
			return 0, false
		}
	}
	pid, err := strconv.ParseUint(name, 10, 31)
	if err != nil {
		return 0, false
	}
	return int(pid), true
}

// StaticSource is an in-memory process table, for tests and dry runs.
type StaticSource map[int][]string

// PIDs returns the table's pids in ascending order.
func (s StaticSource) PIDs() ([]int, error) {
	pids := make([]int, 0, len(s))
	for pid := range s {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// Cmdline encodes the stored argv.
func (s StaticSource) Cmdline(pid int) ([]byte, error) {
	argv, ok := s[pid]
	if !ok {
		return nil, os.ErrNotExist
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCmdline
	}
	return Encode(argv), nil
}
