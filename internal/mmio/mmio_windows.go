// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build windows

package mmio

import (
	"errors"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmap on Windows is a two-step process: CreateFileMapping gets a handle,
// MapViewOfFile turns it into an actual address range.
var (
	handleMu  sync.Mutex
	handleMap = map[uintptr]windows.Handle{}
)

func mmap(size int) ([]byte, error) {
	maxSizeHigh := uint32(int64(size) >> 32)
	maxSizeLow := uint32(int64(size) & 0xFFFFFFFF)
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, maxSizeHigh, maxSizeLow, nil)
	if h == 0 {
		return nil, os.NewSyscallError("CreateFileMapping", err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if addr == 0 {
		return nil, os.NewSyscallError("MapViewOfFile", err)
	}

	if addr&uintptr(PageSize-1) != 0 {
		panic("mmio: kernel returned a non-page-aligned mapping")
	}

	handleMu.Lock()
	handleMap[addr] = h
	handleMu.Unlock()

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func munmap(b []byte) error {
	addr := uintptr(unsafe.Pointer(&b[0]))
	if err := windows.UnmapViewOfFile(addr); err != nil {
		return err
	}

	handleMu.Lock()
	h, ok := handleMap[addr]
	if ok {
		delete(handleMap, addr)
	}
	handleMu.Unlock()
	if !ok {
		return errors.New("mmio: unmap of unknown base address")
	}

	e := windows.CloseHandle(h)
	return os.NewSyscallError("CloseHandle", e)
}
