//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package filepool

import (
	"golang.org/x/sys/unix"
)

var pageSize = int64(unix.Getpagesize())

// The page-aligned mapped range covering [off, off+n), or nil if it isn't mapped.
func (h *Handle) mappedRange(off, n int64) []byte {
	if h.mm == nil || off < 0 || n <= 0 || off >= int64(len(h.mm)) {
		return nil
	}
	begin := off - off%pageSize
	end := min(off+n, int64(len(h.mm)))
	return h.mm[begin:end]
}
