// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package block

import (
	"math"
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
	"github.com/stretchr/testify/require"
)

func TestAllocateAlignedAndDistinct(t *testing.T) {
	a, err := New(20, 4096, 16)
	require.NoError(t, err)
	defer a.FreeAll()

	seen := map[unsafe.Pointer]bool{}
	for i := 0; i < 500; i++ {
		p, err := a.Allocate()
		require.NoError(t, err)
		require.Zero(t, uintptr(p)%16)
		require.False(t, seen[p], "same block handed out twice while live")
		seen[p] = true
	}
}

func TestFreeListIsLIFO(t *testing.T) {
	a, err := New(8, 4096, 4)
	require.NoError(t, err)
	defer a.FreeAll()

	p1, err := a.Allocate()
	require.NoError(t, err)
	a.Free(p1)
	p2, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestPageGrowth(t *testing.T) {
	const pageSize = 8192
	a, err := New(16, pageSize, 4)
	require.NoError(t, err)
	defer a.FreeAll()

	blocksPerPage := a.Stats().BlocksPerPage
	for i := 0; i < 1000; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}

	want := (1000 + blocksPerPage - 1) / blocksPerPage
	require.Equal(t, want, a.Stats().PageCount)
}

func TestFreeBlockCountPairing(t *testing.T) {
	a, err := New(12, 4096, 4)
	require.NoError(t, err)
	defer a.FreeAll()

	var live []unsafe.Pointer
	for i := 0; i < 37; i++ {
		p, err := a.Allocate()
		require.NoError(t, err)
		live = append(live, p)
	}
	for i := 0; i < 13; i++ {
		a.Free(live[i])
	}
	live = live[13:]

	st := a.Stats()
	want := st.PageCount*st.BlocksPerPage - len(live)
	require.Equal(t, want, st.FreeBlockCount)
}

// TestRandomAllocFreeCycle exercises the allocator the way the upstream memory
// package's own tests do: a seeded PRNG drives interleaved allocate/free
// traffic and every live pointer is tracked for uniqueness.
func TestRandomAllocFreeCycle(t *testing.T) {
	a, err := New(24, 4096, 8)
	require.NoError(t, err)
	defer a.FreeAll()

	rng, err := mathutil.NewFC32(0, math.MaxInt16, true)
	require.NoError(t, err)
	rng.Seed(7)

	live := map[unsafe.Pointer]bool{}
	for i := 0; i < 5000; i++ {
		if len(live) == 0 || rng.Next()%2 == 0 {
			p, err := a.Allocate()
			require.NoError(t, err)
			require.False(t, live[p])
			live[p] = true
		} else {
			for p := range live {
				a.Free(p)
				delete(live, p)
				break
			}
		}
	}
}

func TestResetReconfigures(t *testing.T) {
	a, err := New(8, 4096, 4)
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)

	require.NoError(t, a.Reset(64, 8192, 16))
	st := a.Stats()
	require.Equal(t, 0, st.PageCount)
	require.Equal(t, 64, st.DataSize)
}
