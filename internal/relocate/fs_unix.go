//go:build unix

package relocate

import (
	"os"
	"syscall"
)

// sameDevice reports whether both paths live on one filesystem.
func sameDevice(a, b string) bool {
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	sa, ok := ia.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	sb, ok := ib.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return sa.Dev == sb.Dev
}
