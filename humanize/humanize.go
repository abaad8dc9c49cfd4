// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package humanize renders raw byte counts for the allocators' optional
// statistics dump. It carries no allocator logic of its own.
package humanize

// Bytes scales value into the largest unit ("B", "KB", "MB") for which the
// raw value is still below the next unit's threshold: under 2000 bytes
// stays "B", under 2,000,000 becomes "KB", anything larger becomes "MB".
func Bytes(value int64) (float64, string) {
	switch {
	case value < 2000:
		return float64(value), "B"
	case value < 2000000:
		return float64(value) / 1024, "KB"
	default:
		return float64(value) / 1048576, "MB"
	}
}
