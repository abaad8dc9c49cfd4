// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mm is the thin façade a host application links against: Alloc and
// Free, delegating to the calling goroutine's pool.Pool. It is the Go-side
// analogue of the original's two-function C ABI (see capi.go for the actual
// cgo-exported entry points).
package mm

import (
	"unsafe"

	"github.com/xzrunner/memmgr/pool"
)

// Alloc returns a pointer to at least size bytes, serviced by the calling
// goroutine's pool.Pool. size == 0 returns a non-nil pointer that must
// still be passed to Free with size 0.
func Alloc(size int) unsafe.Pointer {
	p, err := pool.Current().Allocate(size)
	if err != nil {
		return nil
	}
	return p
}

// Free releases memory obtained from Alloc. size must equal the size
// originally passed to Alloc.
func Free(p unsafe.Pointer, size int) {
	pool.Current().Free(p, size)
}
