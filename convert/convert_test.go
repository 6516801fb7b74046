// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convert

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuyangjin/perflow/callstack"
	"github.com/yuyangjin/perflow/libmap"
	"github.com/yuyangjin/perflow/symbol"
)

func testSnapshots() map[uint32]*libmap.LibraryMap {
	return map[uint32]*libmap.LibraryMap{
		0: libmap.New([]libmap.Entry{
			{Path: "/app", Base: 0x1000, End: 0x2000, Executable: true},
			{Path: "/lib/libc.so", Base: 0x3000, End: 0x4000, Executable: true},
		}),
	}
}

func TestConvertResolvesLibraryAndOffset(t *testing.T) {
	c := New(testSnapshots(), nil)
	f, err := c.Convert(0, callstack.Address(0x1500))
	require.NoError(t, err)
	require.Equal(t, "/app", f.LibraryPath)
	require.Equal(t, uint64(0x500), f.Offset)
	require.False(t, f.Unmapped())
	require.Equal(t, "", f.FuncName) // no resolver attached
}

func TestConvertUnmappedAddress(t *testing.T) {
	c := New(testSnapshots(), nil)
	f, err := c.Convert(0, callstack.Address(0xdead))
	require.NoError(t, err)
	require.True(t, f.Unmapped())
	require.Equal(t, libmap.Unresolved, f.LibraryPath)
	require.Equal(t, uint64(0xdead), f.Offset)
}

func TestConvertUnknownSnapshot(t *testing.T) {
	c := New(testSnapshots(), nil)
	_, err := c.Convert(99, callstack.Address(0x1500))
	require.Error(t, err)
}

func TestConvertBatchPreservesOrderAndLength(t *testing.T) {
	c := New(testSnapshots(), nil)
	addrs := []callstack.Address{0x1500, 0xdead, 0x3500}
	frames, err := c.ConvertBatch(0, addrs)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.False(t, frames[0].Unmapped())
	require.True(t, frames[1].Unmapped())
	require.False(t, frames[2].Unmapped())
	require.Equal(t, "/lib/libc.so", frames[2].LibraryPath)
}

func TestConvertWithResolverAttachesSymbolInfo(t *testing.T) {
	r := symbol.NewResolver(symbol.DynLinkerOnly)
	c := New(testSnapshots(), r)
	// /app does not exist on disk, so the resolver will fail to open
	// it and report an unresolved symbol — but Convert must still
	// succeed and still report the library/offset it found.
	f, err := c.Convert(0, callstack.Address(0x1500))
	require.NoError(t, err)
	require.Equal(t, "/app", f.LibraryPath)
	require.Equal(t, "", f.FuncName)
}
