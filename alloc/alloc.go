// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alloc exposes a standard-style typed allocator over the mm
// façade, so host containers (slices-of-pointers, custom intrusive lists,
// anything written against an allocate(n)/deallocate(p, n) capability) can
// route their backing storage through the pool instead of the Go heap.
package alloc

import (
	"unsafe"

	"github.com/xzrunner/memmgr/mm"
)

// Allocator[T] is a stateless adapter: every instance is interchangeable,
// since there is nothing to compare but the (empty) struct itself. Host
// containers may freely rebind an Allocator[T] to an Allocator[U] backed by
// the same underlying pool.
type Allocator[T any] struct{}

// Allocate returns a pointer to n uninitialized values of type T.
func (Allocator[T]) Allocate(n int) *T {
	var zero T
	size := int(unsafe.Sizeof(zero)) * n
	if size == 0 {
		size = int(unsafe.Sizeof(zero))
	}
	p := mm.Alloc(size)
	if p == nil {
		return nil
	}
	return (*T)(p)
}

// Deallocate releases memory obtained from Allocate(n).
func (Allocator[T]) Deallocate(p *T, n int) {
	var zero T
	size := int(unsafe.Sizeof(zero)) * n
	if size == 0 {
		size = int(unsafe.Sizeof(zero))
	}
	mm.Free(unsafe.Pointer(p), size)
}

// Equal reports whether two Allocator[T] instances are interchangeable.
// They always are: the type carries no state of its own, only routing to
// the shared goroutine-local pool.
func (Allocator[T]) Equal(Allocator[T]) bool { return true }
