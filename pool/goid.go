// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns the id of the calling goroutine. Go has no supported
// notion of thread-local storage, so this is the closest honest analogue of
// the original's thread_local BlockAllocatorPool instance: every goroutine
// that touches the pool gets keyed storage it alone ever writes to, without
// a shared lock guarding the hot allocate/free path. See DESIGN.md for why
// this is implemented on runtime.Stack rather than an imported dependency.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	b = b[len(prefix):]
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}

	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic("pool: could not parse goroutine id: " + err.Error())
	}
	return id
}
