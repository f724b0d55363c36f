//go:build !linux

package procscan

// Verify checks that the root is usable as a process table.
func (p *ProcFS) Verify() error {
	return p.verifyDir()
}
