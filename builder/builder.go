// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package builder implements TreeBuilder: the orchestration step that
// reads per-rank sample and library-map files, resolves raw addresses
// through an OffsetConverter, and inserts the results into a
// PerformanceTree.
package builder

import (
	"log/slog"

	"github.com/yuyangjin/perflow/convert"
	"github.com/yuyangjin/perflow/libmap"
	"github.com/yuyangjin/perflow/samplemap"
	"github.com/yuyangjin/perflow/store"
	"github.com/yuyangjin/perflow/symbol"
	"github.com/yuyangjin/perflow/tree"
)

// SampleFile pairs a sample-data path with the process rank it was
// captured under.
type SampleFile struct {
	Path string
	Rank int
}

// LibMapFile pairs a library-map path with the process rank it belongs to.
type LibMapFile struct {
	Path string
	Rank int
}

// Builder orchestrates TreeBuilder's algorithm (§4.9): register every
// library map, then stream every sample file's entries through an
// OffsetConverter into the destination Tree.
type Builder struct {
	Tree     *tree.Tree
	Resolver *symbol.Resolver // optional; nil disables symbolization
	Log      *slog.Logger

	// TimePerSampleMicros scales each (stack, count) entry's
	// accumulated execution time: time = count * TimePerSampleMicros.
	TimePerSampleMicros float64

	// Cancel, if non-nil, is checked between files; Load stops early
	// (without error) the next time it reports true.
	Cancel func() bool
}

// New creates a Builder that inserts into dst.
func New(dst *tree.Tree, resolver *symbol.Resolver) *Builder {
	return &Builder{
		Tree:     dst,
		Resolver: resolver,
		Log:      slog.Default(),
	}
}

// Load runs the TreeBuilder algorithm: registers every library-map
// file under its rank, then imports every sample file, converting and
// inserting its entries. Per-file failures are logged and skipped
// rather than aborting the batch; Load returns the number of sample
// files it loaded successfully.
func (b *Builder) Load(sampleFiles []SampleFile, libMapFiles []LibMapFile) int {
	snapshots := make(map[int]map[uint32]*libmap.LibraryMap)
	for _, lf := range libMapFiles {
		_, snaps, err := store.ReadLibMapFile(lf.Path)
		if err != nil {
			b.Log.Warn("skipping unreadable library map", "path", lf.Path, "error", err)
			continue
		}
		snapshots[lf.Rank] = snaps
	}

	loaded := 0
	for _, sf := range sampleFiles {
		if b.Cancel != nil && b.Cancel() {
			break
		}
		if b.loadOne(sf, snapshots) {
			loaded++
		}
	}
	return loaded
}

func (b *Builder) loadOne(sf SampleFile, snapshots map[int]map[uint32]*libmap.LibraryMap) bool {
	scratch := samplemap.New(4096)
	header, err := store.ReadSampleFile(sf.Path, scratch)
	if err != nil {
		b.Log.Warn("skipping unreadable sample file", "path", sf.Path, "rank", sf.Rank, "error", err)
		return false
	}

	snaps, ok := snapshots[sf.Rank]
	if !ok {
		b.Log.Warn("no library map registered for rank, skipping sample file", "path", sf.Path, "rank", sf.Rank)
		return false
	}
	conv := convert.New(snaps, b.Resolver)

	var convertErr error
	scratch.ForEach(func(e samplemap.Entry) {
		if convertErr != nil {
			return
		}
		addrs := e.Key.Frames()
		resolved, err := conv.ConvertBatch(0, addrs)
		if err != nil {
			convertErr = err
			return
		}
		// The wire format preserves the sampler's leaf-first frame
		// order; PerformanceTree.Insert expects root-first, so reverse.
		reverseFrames(resolved)

		timeMicros := float64(e.Count) * b.TimePerSampleMicros
		b.Tree.Insert(resolved, sf.Rank, e.Count, timeMicros)
	})
	if convertErr != nil {
		b.Log.Warn("skipping sample file with unconvertible entry", "path", sf.Path, "rank", sf.Rank, "error", convertErr)
		return false
	}

	b.Log.Debug("loaded sample file", "path", sf.Path, "rank", sf.Rank, "entries", header.EntryCount)
	return true
}

func reverseFrames(f []convert.ResolvedFrame) {
	for i, j := 0, len(f)-1; i < j; i, j = i+1, j-1 {
		f[i], f[j] = f[j], f[i]
	}
}
