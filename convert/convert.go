// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package convert implements OffsetConverter: joining a per-rank
// registry of LibraryMap snapshots with an optional SymbolResolver to
// turn raw captured addresses into ResolvedFrames carrying a library
// path, an in-library offset, and (if a resolver is attached) a
// function name and source location.
package convert

import (
	"fmt"

	"github.com/yuyangjin/perflow/callstack"
	"github.com/yuyangjin/perflow/libmap"
	"github.com/yuyangjin/perflow/symbol"
)

// ResolvedFrame is one stack frame after library and symbol
// resolution. LibraryPath is libmap.Unresolved and Offset is the raw
// address when no mapping covered it; FuncName is empty when no
// resolver was attached or the resolver could not resolve the
// (library, offset) pair.
type ResolvedFrame struct {
	RawAddress callstack.Address
	LibraryPath string
	Offset      uint64
	FuncName    string
	SourceFile  string
	Line        int
}

// Unmapped reports whether addr fell outside every region in the
// snapshot that was consulted.
func (f ResolvedFrame) Unmapped() bool { return f.LibraryPath == libmap.Unresolved }

// Converter resolves raw addresses captured under a particular
// snapshot id to ResolvedFrames. It is safe for concurrent use as long
// as the attached Resolver is (symbol.Resolver is).
type Converter struct {
	snapshots map[uint32]*libmap.LibraryMap
	resolver  *symbol.Resolver
}

// New creates a Converter over snapshots, a snapshot-id → LibraryMap
// registry as produced by the exporter for one rank. resolver may be
// nil, in which case converted frames carry library/offset but never a
// function name (spec.md §4.6 supports running without symbolization).
func New(snapshots map[uint32]*libmap.LibraryMap, resolver *symbol.Resolver) *Converter {
	return &Converter{snapshots: snapshots, resolver: resolver}
}

// Convert resolves a single raw address under the LibraryMap active at
// snapshotID.
func (c *Converter) Convert(snapshotID uint32, addr callstack.Address) (ResolvedFrame, error) {
	lm, ok := c.snapshots[snapshotID]
	if !ok {
		return ResolvedFrame{}, fmt.Errorf("convert: no library map for snapshot %d", snapshotID)
	}

	frame := ResolvedFrame{RawAddress: addr}
	path, off, ok := lm.Resolve(uint64(addr))
	frame.LibraryPath = path
	frame.Offset = off
	if !ok {
		return frame, nil
	}

	if c.resolver != nil {
		info := c.resolver.Resolve(path, off)
		frame.FuncName = info.FuncName
		frame.SourceFile = info.SourceFile
		frame.Line = info.Line
	}
	return frame, nil
}

// ConvertBatch resolves every frame in addrs, preserving order (leaf
// frame first, matching callstack.CallStack's own ordering
// convention). A frame whose address falls in no mapped region is
// still included, with Unmapped() true, rather than being dropped —
// callers that need total sample counts to stay consistent depend on
// the slice length matching len(addrs).
func (c *Converter) ConvertBatch(snapshotID uint32, addrs []callstack.Address) ([]ResolvedFrame, error) {
	out := make([]ResolvedFrame, len(addrs))
	for i, a := range addrs {
		f, err := c.Convert(snapshotID, a)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
