// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package freelist implements a coarse, power-of-two-sized buffer pool: one
// bucket per exponent in [minExp, maxExp], each a simple intrusive free
// list of host-mapped buffers that are never returned until Close.
//
// It exists for clients that want cheap reuse of a handful of large,
// uniformly-sized buffers (LinearAllocator pages being the prototypical
// client - see package linear) without paying the BlockAllocator's
// page-carving overhead for sizes that rarely repeat exactly.
package freelist

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/cznic/mathutil"

	"github.com/xzrunner/memmgr/humanize"
	"github.com/xzrunner/memmgr/internal/mmio"
)

// header is the free-list link prepended to every buffer this package hands
// out, fresh or reused alike. Unifying the header placement across both
// paths (see DESIGN.md) avoids the out-of-bounds read that a header placed
// only on the reuse path would cause on a buffer's first free.
type header struct {
	next *header
}

var headerSize = int(unsafe.Sizeof(header{}))

// Allocator is a per-power-of-two buffer pool. Its zero value is not usable;
// construct one with New.
type Allocator struct {
	minExp, maxExp uint
	buckets        []*header // free list head per bucket

	totalAllocated int
	wastedSpace    int
	pageCount      int
}

// Stats is a point-in-time snapshot of an Allocator's bookkeeping counters.
type Stats struct {
	MinExp         uint
	MaxExp         uint
	TotalAllocated int
	WastedSpace    int
	PageCount      int
}

// New constructs an Allocator whose buckets cover request sizes from
// 2^minExp up to 2^maxExp payload bytes. 0 < minExp <= maxExp is required.
func New(minExp, maxExp uint) *Allocator {
	if minExp == 0 || minExp > maxExp {
		panic("freelist: require 0 < minExp <= maxExp")
	}
	return &Allocator{
		minExp:  minExp,
		maxExp:  maxExp,
		buckets: make([]*header, maxExp-minExp+1),
	}
}

// QueryPageIdx returns the bucket index that should service a request for
// size bytes (header included), or -1 if size exceeds the largest bucket.
func (a *Allocator) QueryPageIdx(size int) int {
	payload := size - headerSize
	if payload < 1 {
		payload = 1
	}

	k := uint(mathutil.BitLen(payload - 1))
	if k < a.minExp {
		k = a.minExp
	}
	if k > a.maxExp {
		return -1
	}
	return int(k - a.minExp)
}

// Allocate returns a buffer able to hold at least size-headerSize payload
// bytes, rounded up to the nearest covered power of two. It returns nil if
// size exceeds the top bucket.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	idx := a.QueryPageIdx(size)
	if idx < 0 {
		return nil, nil
	}

	if h := a.buckets[idx]; h != nil {
		a.buckets[idx] = h.next
		blockSize := headerSize + (1 << (a.minExp + uint(idx)))
		a.wastedSpace -= blockSize
		return payloadOf(h), nil
	}

	blockSize := headerSize + (1 << (a.minExp + uint(idx)))
	raw, err := mmio.Map(blockSize)
	if err != nil {
		return nil, err
	}

	h := (*header)(unsafe.Pointer(&raw[0]))
	h.next = nil
	a.totalAllocated += blockSize
	a.pageCount++
	return payloadOf(h), nil
}

// Free returns the buffer p, originally obtained via Allocate(size), to its
// bucket's free list. size must match the original allocation request. A
// size that maps to no bucket is silently ignored.
func (a *Allocator) Free(p unsafe.Pointer, size int) {
	if p == nil {
		return
	}

	idx := a.QueryPageIdx(size)
	if idx < 0 {
		return
	}

	h := headerOf(p)
	h.next = a.buckets[idx]
	a.buckets[idx] = h
	a.wastedSpace += headerSize + (1 << (a.minExp + uint(idx)))
}

// Close releases every buffer currently sitting in a free list back to the
// host. Buffers still outstanding in caller hands are not and cannot be
// reclaimed here; callers must Free everything they want released before
// calling Close. After Close, a must not be used again.
//
// The upstream source frees its per-bucket pages array with the wrong
// array/scalar delete form, leaking every buffer a bucket ever grew to
// (see DESIGN.md, Open Question i); this walks each bucket's free list and
// unmaps every node instead of leaking it.
func (a *Allocator) Close() error {
	for idx, h := range a.buckets {
		blockSize := headerSize + (1 << (a.minExp + uint(idx)))
		for h != nil {
			next := h.next
			b := unsafe.Slice((*byte)(unsafe.Pointer(h)), blockSize)
			if err := mmio.Unmap(b); err != nil {
				return err
			}
			h = next
		}
		a.buckets[idx] = nil
	}
	return nil
}

// Stats reports a's current bookkeeping counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		MinExp:         a.minExp,
		MaxExp:         a.maxExp,
		TotalAllocated: a.totalAllocated,
		WastedSpace:    a.wastedSpace,
		PageCount:      a.pageCount,
	}
}

// DumpStats writes a one-line, human-readable summary of a's allocation
// totals to w, prefixed with prefix. It is purely informational: nothing
// in this package ever consults it to make a decision.
func (a *Allocator) DumpStats(w io.Writer, prefix string) {
	size, unit := humanize.Bytes(int64(a.totalAllocated))
	fmt.Fprintf(w, "%sTotal allocated: %.2f%s\n", prefix, size, unit)
}

func payloadOf(h *header) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(h)) + uintptr(headerSize))
}

func headerOf(p unsafe.Pointer) *header {
	return (*header)(unsafe.Pointer(uintptr(p) - uintptr(headerSize)))
}
