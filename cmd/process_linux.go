//go:build linux

package cmd

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setProcessName renames the calling thread, as shown by ps and top.
func setProcessName(name string) error {
	p, err := unix.BytePtrFromString(commName(name))
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}
