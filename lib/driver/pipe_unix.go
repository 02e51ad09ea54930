// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package driver

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// setNonblocking puts f's underlying descriptor into non-blocking
// mode, so readNonblocking never stalls the main loop waiting for the
// child to produce more output.
func setNonblocking(f *os.File) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var fcntlErr error
	err = raw.Control(func(fd uintptr) {
		fcntlErr = unix.SetNonblock(int(fd), true)
	})
	if err != nil {
		return err
	}
	return fcntlErr
}

// setPipeBuffer asks the kernel to enlarge the pipe's buffer to size
// bytes. Failure is non-fatal: the pipe still works at its default
// capacity, just with a smaller burst tolerance between ticks.
func setPipeBuffer(f *os.File, size int) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var fcntlErr error
	err = raw.Control(func(fd uintptr) {
		_, fcntlErr = unix.FcntlInt(fd, unix.F_SETPIPE_SZ, size)
	})
	if err != nil {
		return err
	}
	return fcntlErr
}

// readNonblocking performs a single non-blocking read, treating
// EAGAIN/EWOULDBLOCK as "no data available" rather than an error.
func readNonblocking(f *os.File, buf []byte) (int, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var readErr error
	err = raw.Read(func(fd uintptr) bool {
		n, readErr = unix.Read(int(fd), buf)
		if errors.Is(readErr, unix.EAGAIN) || errors.Is(readErr, unix.EWOULDBLOCK) {
			n, readErr = 0, nil
			return true
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if readErr != nil {
		return 0, readErr
	}
	return n, nil
}
