// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/yuyangjin/perflow/libmap"
	"github.com/yuyangjin/perflow/samplemap"
)

// SamplePath returns the conventional *.pflw path for rank under dir
// with the given filename prefix, gaining a ".gz" suffix when
// compressed, per the specification's naming convention.
func SamplePath(dir, prefix string, rank int, compressed bool) string {
	name := fmt.Sprintf("%s_rank_%d.pflw", prefix, rank)
	if compressed {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

// LibMapPath returns the conventional *.libmap path for rank.
func LibMapPath(dir, prefix string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_rank_%d.libmap", prefix, rank))
}

// WriteSampleFile serializes m's entries to path, using maxStackDepth
// and captureTimeNanos as informational header fields. If compress is
// true, everything after the header is a single zlib stream.
//
// The write is atomic at the granularity of a complete file: the
// output is staged in a temp file in the same directory, fsynced, and
// renamed into place, so a reader never observes a partially written
// file (spec.md §4.7).
func WriteSampleFile(path string, m *samplemap.SampleMap, maxStackDepth uint32, captureTimeNanos uint64, compress bool) error {
	var entries []samplemap.Entry
	m.ForEach(func(e samplemap.Entry) {
		entries = append(entries, e)
	})

	var body bufEncoder
	for _, e := range entries {
		frames := e.Key.Frames()
		body.u32(uint32(len(frames)))
		body.u32(0) // reserved
		body.u64(e.Count)
		for _, f := range frames {
			body.u64(uint64(f))
		}
	}

	payload := body.buf
	if compress {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(payload); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		payload = zbuf.Bytes()
	}

	header := encodeSampleHeader(SampleHeader{
		Version:          sampleVersion,
		Compressed:       compress,
		EntryCount:       uint64(len(entries)),
		CaptureTimeNanos: captureTimeNanos,
		MaxStackDepth:    maxStackDepth,
	})

	return atomicWriteFile(path, append(header, payload...))
}

// WriteLibMapFile serializes the given rank's snapshots, keyed by
// snapshot id, to path. Snapshot ids are encoded in sorted order so
// that repeated flushes of an unchanged snapshot set — whose source is
// a map with randomized Go iteration order — produce byte-identical
// output (spec.md §4.3/§4.7 flush idempotency).
func WriteLibMapFile(path string, rank uint32, snapshots map[uint32]*libmap.LibraryMap) error {
	ids := make([]uint32, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var body bufEncoder
	for _, id := range ids {
		lm := snapshots[id]
		entries := lm.Entries()
		body.u32(id)
		body.u32(uint32(len(entries)))
		for _, e := range entries {
			body.u16(uint16(len(e.Path)))
			body.u64(e.Base)
			body.u64(e.End)
			if e.Executable {
				body.u8(1)
			} else {
				body.u8(0)
			}
			body.bytes([]byte(e.Path))
		}
	}

	header := encodeLibMapHeader(LibMapHeader{
		Version:       libmapVersion,
		Rank:          rank,
		SnapshotCount: uint32(len(snapshots)),
	})

	return atomicWriteFile(path, append(header, body.buf...))
}

// atomicWriteFile stages data in a temp file beside path, fsyncs it,
// and renames it into place — the standard "write-then-rename" idiom
// for atomic file replacement, needed here because spec.md requires the
// exporter to guarantee a reader never sees a partial file.
func atomicWriteFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".perflow-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
