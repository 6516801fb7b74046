// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"

	"github.com/yuyangjin/perflow/callstack"
	"github.com/yuyangjin/perflow/libmap"
	"github.com/yuyangjin/perflow/samplemap"
)

// ReadSampleFile reads path, validating magic/version, and inserts
// every (stack, count) entry into dst. It returns the decoded header.
//
// Rejects files with mismatched magic, unsupported version, a
// truncated header, or a truncation that prevents reading the declared
// number of entries, per spec.md §4.7/§6.
func ReadSampleFile(path string, dst *samplemap.SampleMap) (SampleHeader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SampleHeader{}, err
	}
	if len(raw) < sampleHeaderSize {
		return SampleHeader{}, ErrTruncated
	}
	header, err := decodeSampleHeader(raw[:sampleHeaderSize])
	if err != nil {
		return SampleHeader{}, err
	}

	payload := raw[sampleHeaderSize:]
	if header.Compressed {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return header, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return header, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		payload = decoded
	}

	dec := &bufDecoder{buf: payload}
	for i := uint64(0); i < header.EntryCount; i++ {
		depth, ok := dec.u32()
		if !ok {
			return header, ErrTruncated
		}
		if _, ok := dec.u32(); !ok { // reserved
			return header, ErrTruncated
		}
		count, ok := dec.u64()
		if !ok {
			return header, ErrTruncated
		}
		frames := make([]callstack.Address, depth)
		for j := range frames {
			v, ok := dec.u64()
			if !ok {
				return header, ErrTruncated
			}
			frames[j] = callstack.Address(v)
		}
		dst.Insert(callstack.FromFrames(frames), count)
	}
	return header, nil
}

// ReadLibMapFile reads path and returns the rank id and the decoded
// snapshot-id → LibraryMap mapping.
func ReadLibMapFile(path string) (rank uint32, snapshots map[uint32]*libmap.LibraryMap, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	if len(raw) < libmapHeaderSize {
		return 0, nil, ErrTruncated
	}
	header, err := decodeLibMapHeader(raw[:libmapHeaderSize])
	if err != nil {
		return 0, nil, err
	}

	dec := &bufDecoder{buf: raw[libmapHeaderSize:]}
	snapshots = make(map[uint32]*libmap.LibraryMap, header.SnapshotCount)
	for i := uint32(0); i < header.SnapshotCount; i++ {
		id, ok := dec.u32()
		if !ok {
			return 0, nil, ErrTruncated
		}
		count, ok := dec.u32()
		if !ok {
			return 0, nil, ErrTruncated
		}
		entries := make([]libmap.Entry, count)
		for j := range entries {
			pathLen, ok := dec.u16()
			if !ok {
				return 0, nil, ErrTruncated
			}
			base, ok := dec.u64()
			if !ok {
				return 0, nil, ErrTruncated
			}
			end, ok := dec.u64()
			if !ok {
				return 0, nil, ErrTruncated
			}
			flag, ok := dec.u8()
			if !ok {
				return 0, nil, ErrTruncated
			}
			pathBytes, ok := dec.bytes(int(pathLen))
			if !ok {
				return 0, nil, ErrTruncated
			}
			entries[j] = libmap.Entry{
				Path:       string(pathBytes),
				Base:       base,
				End:        end,
				Executable: flag != 0,
			}
		}
		snapshots[id] = libmap.New(entries)
	}
	return header.Rank, snapshots, nil
}
