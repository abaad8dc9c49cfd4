// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

// boundaries is the fixed size-class table: 4-byte steps to 96, 32-byte
// steps to 640, 64-byte steps to 1024 - 47 classes in all. Every request of
// size <= 1024 is serviced by the smallest class that can hold it.
var boundaries = [...]int{
	4, 8, 12, 16, 20, 24, 28, 32, 36, 40, 44, 48,
	52, 56, 60, 64, 68, 72, 76, 80, 84, 88, 92, 96,

	128, 160, 192, 224, 256, 288, 320, 352, 384,
	416, 448, 480, 512, 544, 576, 608, 640,

	704, 768, 832, 896, 960, 1024,
}

const (
	numClasses   = len(boundaries)
	maxBlockSize = 1024 // boundaries[numClasses-1]
	poolPageSize = 8192
	poolAlign    = 4
)

// buildSizeClassTable sweeps i from 0 to maxBlockSize and advances a class
// cursor j whenever i exceeds boundaries[j], recording j at index i. This
// is the same two-pointer sweep the Go runtime's own size-class table
// (runtime.initSizes, see class_to_size/size_to_class) uses to build its
// lookup array, adapted to this allocator's coarser, linear class list.
func buildSizeClassTable() []int {
	table := make([]int, maxBlockSize+1)
	j := 0
	for i := 0; i <= maxBlockSize; i++ {
		if i > boundaries[j] {
			j++
		}
		table[i] = j
	}
	return table
}
