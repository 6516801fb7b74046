// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package callstack implements the fixed-depth call stack value type
// used throughout PerFlow: captured in the sampler's signal handler,
// aggregated in the SampleMap, and walked again during post-process
// analysis.
package callstack

import "encoding/binary"

// MaxDepth is the default maximum number of frames a CallStack holds.
// Samplers may configure a smaller depth (PERFLOW_MAX_STACK_DEPTH);
// they may never exceed this.
const MaxDepth = 128

// An Address identifies a runtime instruction address. Its width
// matches the pointer width of the sampled process.
type Address uint64

// A CallStack is a fixed-capacity ordered sequence of Addresses. The
// zero value is an empty stack ready for use.
//
// Frames are stored leaf-first: frame(0) is the innermost (most
// recently called) function, and frame(depth()-1) is the outermost.
// This is the order the signal handler captures them in (runtime.Callers
// returns innermost-first) and is preserved everywhere a CallStack is
// passed by value. Code that needs root-to-leaf order (the
// PerformanceTree insertion contract, §4.8) reverses explicitly at the
// point of use rather than changing this convention.
//
// CallStack is a value type: copying it copies the frames. There is no
// shared state between two CallStack values, so storing one in a map key
// or passing it across goroutines requires no additional
// synchronization.
type CallStack struct {
	frames    [MaxDepth]Address
	depth     int
	hash      uint64
	hashValid bool
}

// Push appends addr as the new innermost frame. It reports false and
// leaves the stack unchanged if the stack is already at MaxDepth.
func (c *CallStack) Push(addr Address) bool {
	if c.depth >= MaxDepth {
		return false
	}
	c.frames[c.depth] = addr
	c.depth++
	c.hashValid = false
	return true
}

// Pop removes and returns the innermost frame. It returns (0, false) if
// the stack is empty.
func (c *CallStack) Pop() (Address, bool) {
	if c.depth == 0 {
		return 0, false
	}
	c.depth--
	a := c.frames[c.depth]
	c.hashValid = false
	return a, true
}

// Frame returns the address at index i, where 0 is the innermost frame.
// Out-of-range i (including a negative index) returns 0.
func (c *CallStack) Frame(i int) Address {
	if i < 0 || i >= c.depth {
		return 0
	}
	return c.frames[i]
}

// Depth returns the number of frames currently held.
func (c *CallStack) Depth() int {
	return c.depth
}

// Clear empties the stack without releasing its backing array.
func (c *CallStack) Clear() {
	c.depth = 0
	c.hash = 0
	c.hashValid = false
}

// Hash returns a deterministic, non-cryptographic hash of the stack's
// current frames. Equal stacks (by Equals) always hash equal. The hash
// is cached and recomputed lazily after any mutation.
//
// The algorithm is FNV-1a over the little-endian byte representation of
// frames [0, depth), matching the reference implementation described in
// the design (see also aclements-go-perf's buf decoder, which reads
// records in the same little-endian convention).
func (c *CallStack) Hash() uint64 {
	if c.hashValid {
		return c.hash
	}
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	var b [8]byte
	for i := 0; i < c.depth; i++ {
		binary.LittleEndian.PutUint64(b[:], uint64(c.frames[i]))
		for _, by := range b {
			h ^= uint64(by)
			h *= prime64
		}
	}
	c.hash = h
	c.hashValid = true
	return h
}

// Equals reports whether c and other hold the same sequence of frames.
// Two empty stacks are always equal.
func (c *CallStack) Equals(other *CallStack) bool {
	if c.depth != other.depth {
		return false
	}
	for i := 0; i < c.depth; i++ {
		if c.frames[i] != other.frames[i] {
			return false
		}
	}
	return true
}

// Frames returns the stack's frames as a slice, innermost first. The
// returned slice aliases no internal state past the call (it is a
// fresh copy) so callers may retain it.
func (c *CallStack) Frames() []Address {
	out := make([]Address, c.depth)
	copy(out, c.frames[:c.depth])
	return out
}

// FromFrames builds a CallStack from frames in innermost-first order,
// truncating to MaxDepth if necessary.
func FromFrames(frames []Address) CallStack {
	var c CallStack
	for _, f := range frames {
		if !c.Push(f) {
			break
		}
	}
	return c
}
