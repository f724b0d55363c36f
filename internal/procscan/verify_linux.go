//go:build linux

package procscan

import (
	"fmt"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Verify checks that the root is usable as a process table. On the host
// filesystem it must be a mounted procfs.
func (p *ProcFS) Verify() error {
	if _, ok := p.fs.(*afero.OsFs); !ok {
		return p.verifyDir()
	}

	var st unix.Statfs_t
	if err := unix.Statfs(p.root, &st); err != nil {
		return &ScanAccessError{Root: p.root, Err: err}
	}
	if int64(st.Type) != unix.PROC_SUPER_MAGIC {
		return &ScanAccessError{Root: p.root, Err: fmt.Errorf("filesystem type 0x%x is not procfs", st.Type)}
	}
	return nil
}
