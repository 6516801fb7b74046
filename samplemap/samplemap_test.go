// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package samplemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuyangjin/perflow/callstack"
)

func stackOf(frames ...callstack.Address) callstack.CallStack {
	return callstack.FromFrames(frames)
}

func TestInsertFindErase(t *testing.T) {
	m := New(16)
	k := stackOf(1, 2, 3)
	m.Insert(k, 1)
	v, ok := m.Find(k)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)

	m.Insert(k, 2)
	v, ok = m.Find(k)
	require.True(t, ok)
	require.Equal(t, uint64(3), v)
	require.Equal(t, 1, m.Size())

	require.True(t, m.Erase(k))
	_, ok = m.Find(k)
	require.False(t, ok)
	require.Equal(t, 0, m.Size())
}

// P2: for unique-key set of size k <= C, size == k, and every inserted
// key is findable until erased.
func TestUniqueKeysUpToCapacity(t *testing.T) {
	const capacity = 64
	m := New(capacity)
	keys := make([]callstack.CallStack, 0, capacity)
	for i := 0; i < capacity; i++ {
		keys = append(keys, stackOf(callstack.Address(i), callstack.Address(i*7)))
	}
	for _, k := range keys {
		m.Insert(k, 1)
	}
	require.Equal(t, capacity, m.Size())
	for _, k := range keys {
		_, ok := m.Find(k)
		require.True(t, ok)
	}
	require.Equal(t, uint64(0), m.Drops())

	for i, k := range keys {
		if i%2 == 0 {
			m.Erase(k)
		}
	}
	require.Equal(t, capacity/2, m.Size())
	for i, k := range keys {
		_, ok := m.Find(k)
		require.Equal(t, i%2 != 0, ok)
	}
}

func TestFullTableDropsNewKeysButUpdatesExisting(t *testing.T) {
	m := New(4)
	for i := 0; i < 4; i++ {
		m.Insert(stackOf(callstack.Address(i)), 1)
	}
	require.Equal(t, 4, m.Size())
	require.Equal(t, uint64(0), m.Drops())

	// A brand-new key has nowhere to go.
	m.Insert(stackOf(100), 1)
	require.Equal(t, 4, m.Size())
	require.Equal(t, uint64(1), m.Drops())

	// Updating an existing key always succeeds, even when full.
	m.Insert(stackOf(0), 5)
	v, ok := m.Find(stackOf(0))
	require.True(t, ok)
	require.Equal(t, uint64(6), v)
}

func TestTombstoneReuse(t *testing.T) {
	m := New(4)
	a, b := stackOf(1), stackOf(2)
	m.Insert(a, 1)
	m.Insert(b, 1)
	m.Erase(a)
	require.Equal(t, 1, m.Size())

	// A new key can land in a's old (tombstoned) slot.
	c := stackOf(3)
	m.Insert(c, 1)
	require.Equal(t, 2, m.Size())
	_, ok := m.Find(c)
	require.True(t, ok)
}

func TestForEach(t *testing.T) {
	m := New(16)
	want := map[uint64]uint64{}
	for i := 0; i < 5; i++ {
		k := stackOf(callstack.Address(i))
		m.Insert(k, uint64(i+1))
		want[k.Hash()] = uint64(i + 1)
	}
	got := map[uint64]uint64{}
	m.ForEach(func(e Entry) {
		got[e.Key.Hash()] = e.Count
	})
	require.Equal(t, want, got)
}

func TestConcurrentInsertsOnDistinctKeys(t *testing.T) {
	m := New(1024)
	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Insert(stackOf(callstack.Address(i)), 1)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, m.Size())
}

func TestConcurrentIncrementsOnSameKey(t *testing.T) {
	m := New(64)
	k := stackOf(42)
	const n = 1000
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Insert(k, 1)
		}()
	}
	wg.Wait()
	v, ok := m.Find(k)
	require.True(t, ok)
	require.Equal(t, uint64(n), v)
	require.Equal(t, 1, m.Size())
}

func TestReset(t *testing.T) {
	m := New(8)
	m.Insert(stackOf(1), 1)
	m.Reset()
	require.Equal(t, 0, m.Size())
	require.Equal(t, uint64(0), m.Drops())
	_, ok := m.Find(stackOf(1))
	require.False(t, ok)
}
