// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build cgo

package mm

/*
#include <stddef.h>
*/
import "C"
import "unsafe"

// mm_alloc and mm_free are the two C-ABI entry points a host application
// written against a C-compatible interface links against. They must
// tolerate being called before any Go-side static initialization order
// guarantee would normally apply, which is why Alloc/Free lazily construct
// their goroutine's pool.Pool on first use rather than relying on an
// init() func.

//export mm_alloc
func mm_alloc(size C.size_t) unsafe.Pointer {
	return Alloc(int(size))
}

//export mm_free
func mm_free(p unsafe.Pointer, size C.size_t) {
	Free(p, int(size))
}
