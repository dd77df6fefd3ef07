//go:build linux

package ioring

import "golang.org/x/sys/unix"

// errnoFromResult converts an io_uring CQE's negative result (a negated
// errno, per the io_uring completion convention) into a Go error.
func errnoFromResult(res int32) error {
	if res >= 0 {
		return nil
	}
	return unix.Errno(-res)
}
