// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package builder

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuyangjin/perflow/callstack"
	"github.com/yuyangjin/perflow/libmap"
	"github.com/yuyangjin/perflow/samplemap"
	"github.com/yuyangjin/perflow/store"
	"github.com/yuyangjin/perflow/tree"
)

func TestLoadReadsSamplesAndInsertsIntoTree(t *testing.T) {
	dir := t.TempDir()

	src := samplemap.New(16)
	src.Insert(callstack.FromFrames([]callstack.Address{0x1100, 0x1200}), 7)
	samplePath := store.SamplePath(dir, "p", 0, false)
	require.NoError(t, store.WriteSampleFile(samplePath, src, 128, 0, false))

	snaps := map[uint32]*libmap.LibraryMap{
		0: libmap.New([]libmap.Entry{
			{Path: "/app", Base: 0x1000, End: 0x2000, Executable: true},
		}),
	}
	libmapPath := store.LibMapPath(dir, "p", 0)
	require.NoError(t, store.WriteLibMapFile(libmapPath, 0, snaps))

	dst := tree.New(tree.ContextFree, tree.Both, tree.Serial, 1)
	b := New(dst, nil)

	loaded := b.Load(
		[]SampleFile{{Path: samplePath, Rank: 0}},
		[]LibMapFile{{Path: libmapPath, Rank: 0}},
	)
	require.Equal(t, 1, loaded)

	total, err := dst.TotalSamples()
	require.NoError(t, err)
	require.Equal(t, uint64(7), total)
}

func TestLoadSkipsUnreadableSampleFileButContinues(t *testing.T) {
	dir := t.TempDir()

	snaps := map[uint32]*libmap.LibraryMap{
		0: libmap.New([]libmap.Entry{{Path: "/app", Base: 0x1000, End: 0x2000, Executable: true}}),
	}
	libmapPath := store.LibMapPath(dir, "p", 0)
	require.NoError(t, store.WriteLibMapFile(libmapPath, 0, snaps))

	src := samplemap.New(16)
	src.Insert(callstack.FromFrames([]callstack.Address{0x1100}), 3)
	goodPath := store.SamplePath(dir, "p", 1, false)
	require.NoError(t, store.WriteSampleFile(goodPath, src, 128, 0, false))

	dst := tree.New(tree.ContextFree, tree.Both, tree.Serial, 2)
	b := New(dst, nil)

	loaded := b.Load(
		[]SampleFile{
			{Path: dir + "/does-not-exist.pflw", Rank: 0},
			{Path: goodPath, Rank: 1},
		},
		[]LibMapFile{{Path: libmapPath, Rank: 1}},
	)
	require.Equal(t, 1, loaded)
}

func TestLoadRespectsCancelPredicate(t *testing.T) {
	dir := t.TempDir()
	src := samplemap.New(16)
	src.Insert(callstack.FromFrames([]callstack.Address{0x1100}), 1)
	path := store.SamplePath(dir, "p", 0, false)
	require.NoError(t, store.WriteSampleFile(path, src, 128, 0, false))

	dst := tree.New(tree.ContextFree, tree.Both, tree.Serial, 1)
	b := New(dst, nil)
	b.Cancel = func() bool { return true }

	loaded := b.Load([]SampleFile{{Path: path, Rank: 0}}, nil)
	require.Equal(t, 0, loaded)
}
