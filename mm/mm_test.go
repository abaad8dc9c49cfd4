// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocZeroSizeIsNonNil(t *testing.T) {
	p := Alloc(0)
	require.NotNil(t, p)
	Free(p, 0)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := Alloc(48)
	require.NotNil(t, p)
	Free(p, 48)
	q := Alloc(48)
	require.Equal(t, p, q)
	Free(q, 48)
}
