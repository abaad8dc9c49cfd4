// Copyright 2012 The Android Open Source Project.
// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linear implements a bump-pointer arena for short-lived,
// heterogeneous small allocations with optional deferred destruction.
//
// Memory handed out by Allocate is valid until the Allocator itself is
// closed; individual allocations cannot be freed, only rewound if they still
// sit at the tail of the current page, or torn down early via a registered
// destructor.
package linear

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/xzrunner/memmgr/freelist"
	"github.com/xzrunner/memmgr/humanize"
	"github.com/xzrunner/memmgr/internal/mmio"
)

const (
	initialPageSize = 512
	maxPageSize     = 131072
	maxWasteRatio   = 0.5

	wordAlign = int(unsafe.Sizeof(uintptr(0)))
)

// ErrOutOfMemory is returned when the host allocator refuses a new page.
// Unlike the other allocators in this module, a LinearAllocator has no
// fallback path: a failed page allocation is fatal to the caller.
var ErrOutOfMemory = errors.New("linear: out of memory")

// Destructor is invoked on the address it was registered against, either
// when the Allocator is closed or earlier via RunDestructorFor.
type Destructor func(unsafe.Pointer)

// page is the header written at the front of every arena page. sizeTag
// records where the page came from: sizeTag >= 0 means it was drawn from
// the backing freelist.Allocator with exactly that request size (and must
// be returned there with the same size); sizeTag < 0 means it came straight
// from the host and must be released with mmio.Unmap.
type page struct {
	next    *page
	size    int
	sizeTag int
}

var pageHeaderSize = roundup(int(unsafe.Sizeof(page{})), wordAlign)

func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

type dtorNode struct {
	fn     Destructor
	target unsafe.Pointer
	next   *dtorNode
}

var dtorNodeSize = roundup(int(unsafe.Sizeof(dtorNode{})), wordAlign)

// Allocator is a bump-pointer arena. Its zero value is not usable;
// construct one with New or NewWithBacking.
type Allocator struct {
	pageSize    int
	maxAllocLen int

	next        unsafe.Pointer
	currentPage *page
	pageList    *page
	dtorList    *dtorNode

	totalAllocated     int
	wastedSpace        int
	pageCount          int
	dedicatedPageCount int

	backing *freelist.Allocator
}

// Stats is a point-in-time snapshot of an Allocator's bookkeeping counters.
type Stats struct {
	TotalAllocated     int
	WastedSpace        int
	PageCount          int
	DedicatedPageCount int
}

// New constructs an arena that draws its pages directly from the host.
func New() *Allocator {
	return NewWithBacking(nil)
}

// NewWithBacking constructs an arena whose pages are drawn from backing
// when backing can satisfy the request, falling back to the host otherwise.
func NewWithBacking(backing *freelist.Allocator) *Allocator {
	return &Allocator{
		pageSize:    initialPageSize,
		maxAllocLen: int(initialPageSize * maxWasteRatio),
		backing:     backing,
	}
}

// Allocate returns size bytes from the arena, growing it as needed. The
// returned memory is valid until Close and cannot be individually freed.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	return a.allocImpl(size)
}

// AllocateWithDtor is like Allocate but additionally registers dtor to run
// on target (the returned pointer) when the arena is closed, or earlier via
// RunDestructorFor.
func (a *Allocator) AllocateWithDtor(size int, dtor Destructor) (unsafe.Pointer, error) {
	p, err := a.allocImpl(size)
	if err != nil {
		return nil, err
	}
	a.addDestructor(dtor, p)
	return p, nil
}

func (a *Allocator) addDestructor(dtor Destructor, target unsafe.Pointer) {
	raw, err := a.allocImpl(dtorNodeSize)
	if err != nil {
		// The arena has no fallback path; a failure here means the host
		// is exhausted and the caller already observed that on the
		// preceding allocImpl call for the payload itself.
		panic(err)
	}
	node := (*dtorNode)(raw)
	node.fn = dtor
	node.target = target
	node.next = a.dtorList
	a.dtorList = node
}

// RewindIfLastAlloc reclaims the allocation at p (of size bytes) if it is
// still at the tail of the current page; otherwise it is a no-op. Any
// destructor registered for p runs first, matching the upstream semantics
// where the destructor-node allocation that follows p is rewound too.
func (a *Allocator) RewindIfLastAlloc(p unsafe.Pointer, size int) {
	a.RunDestructorFor(p)

	size = roundup(size, wordAlign)
	if a.currentPage == nil {
		return
	}
	start, end := a.pageBounds(a.currentPage)
	if uintptr(p) >= start && uintptr(p) < end && p == unsafe.Pointer(uintptr(a.next)-uintptr(size)) {
		a.wastedSpace += size
		a.next = p
	}
}

// RunDestructorFor walks the destructor list, removes the first entry
// registered against addr (if any), invokes it, and attempts to rewind its
// own node allocation.
func (a *Allocator) RunDestructorFor(addr unsafe.Pointer) {
	var prev *dtorNode
	node := a.dtorList
	for node != nil {
		if node.target == addr {
			if prev != nil {
				prev.next = node.next
			} else {
				a.dtorList = node.next
			}
			node.fn(node.target)
			a.RewindIfLastAlloc(unsafe.Pointer(node), dtorNodeSize)
			return
		}
		prev = node
		node = node.next
	}
}

// Close runs every remaining registered destructor in LIFO order, then
// releases all pages back to their origin (the backing freelist.Allocator
// or the host). After Close, a must not be used again.
func (a *Allocator) Close() error {
	for a.dtorList != nil {
		n := a.dtorList
		a.dtorList = n.next
		n.fn(n.target)
	}

	p := a.pageList
	for p != nil {
		next := p.next
		if err := a.releasePage(p); err != nil {
			return err
		}
		p = next
	}
	a.pageList = nil
	a.currentPage = nil
	a.next = nil
	return nil
}

// Stats reports a's current bookkeeping counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		TotalAllocated:     a.totalAllocated,
		WastedSpace:        a.wastedSpace,
		PageCount:          a.pageCount,
		DedicatedPageCount: a.dedicatedPageCount,
	}
}

// DumpStats writes a human-readable summary of a's allocation totals and
// waste ratio to w, prefixed with prefix. Purely informational.
func (a *Allocator) DumpStats(w io.Writer, prefix string) {
	allocSize, allocUnit := humanize.Bytes(int64(a.totalAllocated))
	fmt.Fprintf(w, "%sTotal allocated: %.2f%s\n", prefix, allocSize, allocUnit)
	if a.totalAllocated > 0 {
		wasteSize, wasteUnit := humanize.Bytes(int64(a.wastedSpace))
		pct := float64(a.wastedSpace) / float64(a.totalAllocated) * 100
		fmt.Fprintf(w, "%sWasted space: %.2f%s (%.1f%%)\n", prefix, wasteSize, wasteUnit, pct)
	}
	fmt.Fprintf(w, "%sPages %d (dedicated %d)\n", prefix, a.pageCount, a.dedicatedPageCount)
}

func (a *Allocator) pageBounds(p *page) (start, end uintptr) {
	start = uintptr(unsafe.Pointer(p)) + uintptr(pageHeaderSize)
	end = uintptr(unsafe.Pointer(p)) + uintptr(a.pageSize)
	return
}

func (a *Allocator) fitsInCurrentPage(size int) bool {
	if a.next == nil || a.currentPage == nil {
		return false
	}
	_, end := a.pageBounds(a.currentPage)
	return uintptr(a.next)+uintptr(size) <= end
}

func (a *Allocator) allocImpl(size int) (unsafe.Pointer, error) {
	size = roundup(size, wordAlign)

	if size > a.maxAllocLen && !a.fitsInCurrentPage(size) {
		p, err := a.newPage(size)
		if err != nil {
			return nil, err
		}
		a.dedicatedPageCount++
		p.next = a.pageList
		a.pageList = p
		start, _ := a.pageBounds(p)
		return unsafe.Pointer(start), nil
	}

	if err := a.ensureNext(size); err != nil {
		return nil, err
	}
	ptr := a.next
	a.next = unsafe.Pointer(uintptr(a.next) + uintptr(size))
	a.wastedSpace -= size
	return ptr, nil
}

func (a *Allocator) ensureNext(size int) error {
	if a.fitsInCurrentPage(size) {
		return nil
	}

	if a.currentPage != nil && a.pageSize < maxPageSize {
		a.pageSize *= 2
		if a.pageSize > maxPageSize {
			a.pageSize = maxPageSize
		}
		a.maxAllocLen = int(float64(a.pageSize) * maxWasteRatio)
		a.pageSize = roundup(a.pageSize, wordAlign)
	}

	a.wastedSpace += a.pageSize
	p, err := a.newPage(a.pageSize)
	if err != nil {
		return err
	}
	if a.currentPage != nil {
		p.next = a.currentPage.next
		a.currentPage.next = p
	} else {
		p.next = a.pageList
		a.pageList = p
	}
	a.currentPage = p
	start, _ := a.pageBounds(a.currentPage)
	a.next = unsafe.Pointer(start)
	return nil
}

func (a *Allocator) newPage(payloadSize int) (*page, error) {
	size := roundup(payloadSize+pageHeaderSize, wordAlign)
	a.totalAllocated += size
	a.pageCount++

	if a.backing != nil {
		if raw, _ := a.backing.Allocate(size); raw != nil {
			p := (*page)(raw)
			p.size = size
			p.sizeTag = size
			return p, nil
		}
	}

	raw, err := mmio.Map(size)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	p := (*page)(unsafe.Pointer(&raw[0]))
	p.size = len(raw)
	p.sizeTag = -1
	return p, nil
}

func (a *Allocator) releasePage(p *page) error {
	if p.sizeTag >= 0 {
		if a.backing == nil {
			return errors.New("linear: page tagged as freelist-backed but no backing allocator is configured")
		}
		a.backing.Free(unsafe.Pointer(p), p.sizeTag)
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(p)), p.size)
	return mmio.Unmap(b)
}
