// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package block implements a fixed-size slab allocator: a single
// BlockAllocator carves host-mapped pages into equal-sized blocks and hands
// them out and takes them back in O(1) via an intrusive free list.
//
// A BlockAllocator is not safe for concurrent use; callers that need
// per-goroutine isolation should keep one instance per goroutine, which is
// exactly what package pool does.
package block

import (
	"errors"
	"unsafe"

	"github.com/xzrunner/memmgr/internal/mmio"
)

// ErrOutOfMemory is returned when the host allocator refuses a new page.
var ErrOutOfMemory = errors.New("block: out of memory")

const debugFill = false // flip on to poison freed/allocated bytes during development

const (
	patternAlloc = 0xCD
	patternFree  = 0xFE
	patternAlign = 0xED
)

// node is the free-list link an unused block is reinterpreted as. It must
// fit within the smallest block this allocator can ever be configured for.
type node struct {
	next *node
}

var linkSize = int(unsafe.Sizeof(node{}))

// page is the header written at the front of every host-mapped page. The
// blocks carved from the page follow it in memory, starting at the first
// offset past the header that is a multiple of the allocator's alignment.
type page struct {
	next *page
}

var pageHeaderSize = roundup(int(unsafe.Sizeof(page{})), 8)

func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

// Allocator is a fixed-size slab allocator. Its zero value is not usable;
// construct one with New or initialize an existing value with Reset.
type Allocator struct {
	dataSize       int
	pageSize       int
	alignment      int
	blockSize      int
	alignmentSlack int
	blocksPerPage  int

	pageList *page
	freeList *node

	pageCount      int
	blockCount     int
	freeBlockCount int
}

// Stats is a point-in-time snapshot of an Allocator's bookkeeping counters.
type Stats struct {
	DataSize       int
	PageSize       int
	Alignment      int
	BlockSize      int
	AlignmentSlack int
	BlocksPerPage  int
	PageCount      int
	BlockCount     int
	FreeBlockCount int
}

// New constructs an Allocator that serves blocks able to hold at least
// dataSize bytes, carved from pages of pageSize bytes, aligned to alignment
// (which must be a power of two).
func New(dataSize, pageSize, alignment int) (*Allocator, error) {
	a := &Allocator{}
	if err := a.Reset(dataSize, pageSize, alignment); err != nil {
		return nil, err
	}
	return a, nil
}

// Reset releases every page currently owned by a (as FreeAll would) and
// reconfigures it for a new data size, page size and alignment.
func (a *Allocator) Reset(dataSize, pageSize, alignment int) error {
	if err := a.FreeAll(); err != nil {
		return err
	}

	if alignment <= 0 || alignment&(alignment-1) != 0 {
		panic("block: alignment must be a power of two")
	}

	a.dataSize = dataSize
	a.pageSize = pageSize
	a.alignment = alignment

	minimal := dataSize
	if linkSize > minimal {
		minimal = linkSize
	}
	a.blockSize = roundup(minimal, alignment)
	a.alignmentSlack = a.blockSize - minimal
	a.blocksPerPage = (pageSize - roundup(pageHeaderSize, alignment)) / a.blockSize
	return nil
}

// Allocate returns a pointer to an unused block of at least dataSize bytes,
// aligned to alignment. It allocates a fresh page from the host only when
// the free list is empty.
func (a *Allocator) Allocate() (unsafe.Pointer, error) {
	if a.freeList == nil {
		if err := a.newPage(); err != nil {
			return nil, err
		}
	}

	b := a.freeList
	a.freeList = b.next
	a.freeBlockCount--
	if debugFill {
		fill(unsafe.Pointer(b), a.blockSize, a.alignmentSlack, patternAlloc)
	}
	return unsafe.Pointer(b), nil
}

// Free returns the block identified by p to the free list. p must have been
// returned by Allocate on this same instance and must not already be free.
func (a *Allocator) Free(p unsafe.Pointer) {
	if debugFill {
		fill(p, a.blockSize, a.alignmentSlack, patternFree)
	}
	n := (*node)(p)
	n.next = a.freeList
	a.freeList = n
	a.freeBlockCount++
}

// FreeAll releases every page owned by a back to the host and resets all
// counters to zero. Pointers previously returned by Allocate become invalid.
func (a *Allocator) FreeAll() error {
	p := a.pageList
	for p != nil {
		next := p.next
		b := unsafe.Slice((*byte)(unsafe.Pointer(p)), a.pageSize)
		if err := mmio.Unmap(b); err != nil {
			return err
		}
		p = next
	}

	a.pageList = nil
	a.freeList = nil
	a.pageCount = 0
	a.blockCount = 0
	a.freeBlockCount = 0
	return nil
}

// Stats reports a's current bookkeeping counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		DataSize:       a.dataSize,
		PageSize:       a.pageSize,
		Alignment:      a.alignment,
		BlockSize:      a.blockSize,
		AlignmentSlack: a.alignmentSlack,
		BlocksPerPage:  a.blocksPerPage,
		PageCount:      a.pageCount,
		BlockCount:     a.blockCount,
		FreeBlockCount: a.freeBlockCount,
	}
}

func (a *Allocator) newPage() error {
	raw, err := mmio.Map(a.pageSize)
	if err != nil {
		return ErrOutOfMemory
	}

	p := (*page)(unsafe.Pointer(&raw[0]))
	p.next = a.pageList
	a.pageList = p
	a.pageCount++
	a.blockCount += a.blocksPerPage

	base := uintptr(unsafe.Pointer(p)) + uintptr(roundup(pageHeaderSize, a.alignment))
	var prev *node
	for i := 0; i < a.blocksPerPage; i++ {
		cur := (*node)(unsafe.Pointer(base + uintptr(i*a.blockSize)))
		if debugFill {
			fill(unsafe.Pointer(cur), a.blockSize, a.alignmentSlack, patternFree)
		}
		if prev != nil {
			prev.next = cur
		} else {
			a.freeList = cur
		}
		prev = cur
	}
	if prev != nil {
		prev.next = nil
	}
	a.freeBlockCount += a.blocksPerPage
	return nil
}

func fill(p unsafe.Pointer, blockSize, slack int, pattern byte) {
	b := unsafe.Slice((*byte)(p), blockSize)
	data := blockSize - slack
	for i := 0; i < data; i++ {
		b[i] = pattern
	}
	for i := data; i < blockSize; i++ {
		b[i] = patternAlign
	}
}
