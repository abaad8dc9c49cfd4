// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestSizeClassMonotonic(t *testing.T) {
	table := buildSizeClassTable()
	for i := 0; i < maxBlockSize; i++ {
		require.LessOrEqual(t, table[i], table[i+1])
		require.GreaterOrEqual(t, boundaries[table[i]], i)
	}
}

func TestSmallAllocationRoundTrip(t *testing.T) {
	p := New()
	defer p.Finalize()

	a, err := p.Allocate(20)
	require.NoError(t, err)
	require.Zero(t, uintptr(a)%4)

	buf := unsafe.Slice((*byte)(a), 20)
	for i := range buf {
		buf[i] = byte(i)
	}

	p.Free(a, 20)
	b, err := p.Allocate(20)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestSizeClassBoundary(t *testing.T) {
	p := New()
	defer p.Finalize()

	require.Equal(t, table96idx(t), p.table[96])
	require.NotEqual(t, p.table[96], p.table[97])
}

func table96idx(t *testing.T) int {
	t.Helper()
	for i, b := range boundaries {
		if b >= 96 {
			return i
		}
	}
	t.Fatal("no class covers 96")
	return -1
}

func TestOversizeFallsThroughToHost(t *testing.T) {
	p := New()
	defer p.Finalize()

	a := p.lookup(1025)
	require.Nil(t, a)

	ptr, err := p.Allocate(1025)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	p.Free(ptr, 1025)
}

func TestEveryGoroutineGetsItsOwnPool(t *testing.T) {
	var wg sync.WaitGroup
	seen := make(chan *Pool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- Current()
		}()
	}
	wg.Wait()
	close(seen)

	pools := map[*Pool]bool{}
	for p := range seen {
		require.False(t, pools[p], "two goroutines observed the same Pool instance")
		pools[p] = true
		p.Finalize()
	}
}

func TestAlignedAllocateRoundTrip(t *testing.T) {
	p := New()
	defer p.Finalize()

	ptr, err := p.AllocateAligned(40, 16)
	require.NoError(t, err)
	require.Zero(t, uintptr(ptr)%16)

	p.FreeAligned(ptr, 40, 16)
}
