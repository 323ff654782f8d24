package storage

import (
	"expvar"
	"hash"
	"runtime/debug"
	"syscall"
)

// Bus errors from mapped file I/O that were returned as errors.
var mmapFaults = expvar.NewInt("torrentdiskMmapFaults")

// Runs f, converting a memory fault into an error. Faults on writes are usually a full disk
// underneath a sparse file.
func protectFaults(write bool, f func()) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(interface{ Addr() uintptr }); !ok {
			panic(r)
		}
		mmapFaults.Add(1)
		if write {
			err = syscall.ENOSPC
		} else {
			err = syscall.EIO
		}
	}()
	f()
	return
}

func copyMapped(dst, src []byte, write bool) (n int, err error) {
	err = protectFaults(write, func() {
		n = copy(dst, src)
	})
	if err != nil {
		n = 0
	}
	return
}

func hashMapped(h hash.Hash, b []byte) (n int, err error) {
	err = protectFaults(false, func() {
		n, _ = h.Write(b)
	})
	if err != nil {
		n = 0
	}
	return
}
