// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmio provides the host page source for the allocators in this
// module: every page a block, freelist or linear allocator carves blocks
// from is mmap'd from the OS directly, bypassing the Go heap and its GC.
package mmio

import "os"

// PageSize is the native OS page size, used to round page requests up so
// every mapping starts on a page boundary.
var PageSize = os.Getpagesize()

// Roundup rounds n up to the next multiple of m. m must be a power of two.
func Roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

// Map requests size bytes of zeroed, read-write memory from the OS. size is
// rounded up to a whole number of OS pages.
func Map(size int) ([]byte, error) {
	return mmap(Roundup(size, PageSize))
}

// Unmap releases memory previously obtained from Map. b must be the exact
// slice (same length) returned by Map.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return munmap(b)
}
