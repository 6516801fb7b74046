// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symbol implements SymbolResolver: mapping a (library, offset)
// pair to a function name, source file, and line number, via three
// tiers tried in order — an in-process dynamic-symbol-table lookup, an
// in-process DWARF walk, and an addr2line subprocess — with a shared
// cache across all three.
//
// The dynamic-linker fast path and the in-process DWARF tier (dwarf.go)
// are both adapted from perfsession.symbolize's debug/elf and
// debug/dwarf walks of a library file; unlike perfsession, which only
// ever resolves against perf.data mmap records, these tiers answer
// arbitrary (library, offset) queries and only fall through to an
// external addr2line-equivalent subprocess (the specification's §4.5b
// requirement) when the DWARF tier finds no function for the offset
// (including when a library carries no usable DWARF section),
// following the subprocess-invocation style of internal/cparse's
// exec.Command wrapping in the teacher corpus.
package symbol

import (
	"bufio"
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ianlancetaylor/demangle"
)

// SymbolInfo is the result of a resolution attempt. An empty FuncName
// means the function itself could not be resolved; an empty SourceFile
// with Line == 0 means the function was resolved but its source
// location was not (spec.md §3).
type SymbolInfo struct {
	FuncName   string
	SourceFile string
	Line       int
}

// Unresolved reports whether no function name could be determined.
func (s SymbolInfo) Unresolved() bool { return s.FuncName == "" }

// Strategy selects which backend(s) Resolve consults.
type Strategy int

const (
	// AutoFallback tries the dynamic-linker lookup first; only if the
	// function itself is unresolved does it try the in-process DWARF
	// tier, and then addr2line.
	// This is the default and matches spec.md §4.5's stated policy.
	AutoFallback Strategy = iota
	DynLinkerOnly
	Addr2LineOnly
)

type cacheKey struct {
	library string
	offset  uint64
}

// TraceEntry records one attempted lookup when debug mode is enabled.
type TraceEntry struct {
	Library string
	Offset  uint64
	Backend string
	Command string
	Func    string
	File    string
	Line    int
	Success bool
}

// A Resolver maps (library, offset) pairs to SymbolInfo, caching every
// result — including negative ones — so a repeated miss doesn't pay the
// addr2line subprocess cost twice. The cache is the only resolver state
// shared across goroutines; it is protected by a RWMutex so concurrent
// readers never block each other (spec.md §5).
type Resolver struct {
	strategy  Strategy
	addr2line string
	debug     bool

	mu    sync.RWMutex
	cache map[cacheKey]SymbolInfo

	hits   atomic.Uint64
	misses atomic.Uint64

	traceMu sync.Mutex
	trace   []TraceEntry

	dwarfOnce   sync.Once
	dwarfTables *dwarfTableCache
}

// NewResolver creates a Resolver using strategy. Debug tracing is
// enabled by the PERFLOW_SYMBOL_DEBUG=1 environment variable, matching
// spec.md §4.5/§6; SetDebug provides the equivalent programmatic
// control.
func NewResolver(strategy Strategy) *Resolver {
	return &Resolver{
		strategy:  strategy,
		addr2line: "addr2line",
		debug:     os.Getenv("PERFLOW_SYMBOL_DEBUG") == "1",
		cache:     make(map[cacheKey]SymbolInfo),
	}
}

// SetDebug toggles structured trace emission for each attempted lookup.
func (r *Resolver) SetDebug(enabled bool) { r.debug = enabled }

// SetAddr2LinePath overrides the addr2line-equivalent binary invoked by
// the DWARF line-info backend. Defaults to "addr2line" on $PATH.
func (r *Resolver) SetAddr2LinePath(path string) { r.addr2line = path }

// Resolve maps (library, offset) to a SymbolInfo, consulting the cache
// first. A cache hit is strictly cheaper than a miss (P10): it never
// invokes the dynamic linker lookup or addr2line.
func (r *Resolver) Resolve(library string, offset uint64) SymbolInfo {
	key := cacheKey{library, offset}

	r.mu.RLock()
	if info, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		r.hits.Add(1)
		return info
	}
	r.mu.RUnlock()

	r.misses.Add(1)
	info := r.resolveUncached(library, offset)

	r.mu.Lock()
	r.cache[key] = info
	r.mu.Unlock()
	return info
}

func (r *Resolver) resolveUncached(library string, offset uint64) SymbolInfo {
	switch r.strategy {
	case DynLinkerOnly:
		info, _ := r.resolveDynLinker(library, offset)
		return info

	case Addr2LineOnly:
		info, _ := r.resolveAddr2Line(library, offset)
		return info

	default: // AutoFallback
		info, ok := r.resolveDynLinker(library, offset)
		if ok && !info.Unresolved() {
			return info
		}
		if info2, ok2 := r.resolveDwarf(library, offset); ok2 {
			return info2
		}
		if info2, ok2 := r.resolveAddr2Line(library, offset); ok2 {
			return info2
		}
		return info
	}
}

// resolveDynLinker is the fast path (§4.5a): it consults library's ELF
// symbol and dynamic-symbol tables for a function whose address range
// covers offset. It never yields a source location.
func (r *Resolver) resolveDynLinker(library string, offset uint64) (SymbolInfo, bool) {
	f, err := elf.Open(library)
	if err != nil {
		r.recordTrace(library, offset, "dynlinker", "", SymbolInfo{}, false)
		return SymbolInfo{}, false
	}
	defer f.Close()

	lookup := func(syms []elf.Symbol) (SymbolInfo, bool) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
				continue
			}
			if s.Value <= offset && offset < s.Value+s.Size {
				return SymbolInfo{FuncName: s.Name}, true
			}
		}
		return SymbolInfo{}, false
	}

	if syms, err := f.Symbols(); err == nil {
		if info, ok := lookup(syms); ok {
			r.recordTrace(library, offset, "dynlinker", "", info, true)
			return info, true
		}
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		if info, ok := lookup(syms); ok {
			r.recordTrace(library, offset, "dynlinker", "", info, true)
			return info, true
		}
	}

	r.recordTrace(library, offset, "dynlinker", "", SymbolInfo{}, false)
	return SymbolInfo{}, true // attempted successfully, just unresolved
}

// resolveAddr2Line is the slow path (§4.5b): it invokes the system
// addr2line-equivalent binary on library, requesting a demangled
// function name, the source file and the line number. For
// position-independent executables it retries with a small set of
// text-segment base adjustments before giving up.
func (r *Resolver) resolveAddr2Line(library string, offset uint64) (SymbolInfo, bool) {
	candidates := []uint64{offset}
	if base, ok := firstLoadSegmentVaddr(library); ok && base != 0 {
		candidates = append(candidates, offset+base)
		if offset >= base {
			candidates = append(candidates, offset-base)
		}
	}

	for _, addr := range candidates {
		cmdline := fmt.Sprintf("%s -f -C -e %s 0x%x", r.addr2line, library, addr)
		cmd := exec.Command(r.addr2line, "-f", "-C", "-e", library, fmt.Sprintf("0x%x", addr))
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			r.recordTrace(library, offset, "addr2line", cmdline, SymbolInfo{}, false)
			continue
		}

		info, ok := parseAddr2Line(out.Bytes())
		if ok && !info.Unresolved() {
			r.recordTrace(library, offset, "addr2line", cmdline, info, true)
			return info, true
		}
		r.recordTrace(library, offset, "addr2line", cmdline, info, false)
	}
	return SymbolInfo{}, false
}

// parseAddr2Line parses "addr2line -f -C" output: a function-name line
// followed by a "file:line" line.
func parseAddr2Line(out []byte) (SymbolInfo, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	if !sc.Scan() {
		return SymbolInfo{}, false
	}
	funcName := strings.TrimSpace(sc.Text())
	if funcName == "??" {
		funcName = ""
	} else {
		funcName = demangle.Filter(funcName)
	}

	var file string
	line := 0
	if sc.Scan() {
		loc := strings.TrimSpace(sc.Text())
		if loc != "??:0" && loc != "??:?" {
			if idx := strings.LastIndex(loc, ":"); idx >= 0 {
				file = loc[:idx]
				if n, err := strconv.Atoi(loc[idx+1:]); err == nil {
					line = n
				}
			}
		}
	}

	return SymbolInfo{FuncName: funcName, SourceFile: file, Line: line}, funcName != ""
}

// firstLoadSegmentVaddr returns the virtual address of the first
// loadable (PT_LOAD) segment in library, used to adjust offsets for
// position-independent executables whose link-time and runtime address
// spaces diverge.
func firstLoadSegmentVaddr(library string) (uint64, bool) {
	f, err := elf.Open(library)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			return p.Vaddr, true
		}
	}
	return 0, false
}

func (r *Resolver) recordTrace(library string, offset uint64, backend, command string, info SymbolInfo, success bool) {
	if !r.debug {
		return
	}
	r.traceMu.Lock()
	defer r.traceMu.Unlock()
	r.trace = append(r.trace, TraceEntry{
		Library: library,
		Offset:  offset,
		Backend: backend,
		Command: command,
		Func:    info.FuncName,
		File:    info.SourceFile,
		Line:    info.Line,
		Success: success,
	})
}

// Trace returns every attempted lookup recorded since debug mode was
// enabled. It is empty unless debug tracing is on.
func (r *Resolver) Trace() []TraceEntry {
	r.traceMu.Lock()
	defer r.traceMu.Unlock()
	out := make([]TraceEntry, len(r.trace))
	copy(out, r.trace)
	return out
}

// Stats reports the cache's current size and cumulative hit/miss
// counts.
func (r *Resolver) Stats() (size int, hits, misses uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache), r.hits.Load(), r.misses.Load()
}

// ClearCache resets the cache and its hit/miss counters to zero (S7).
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[cacheKey]SymbolInfo)
	r.hits.Store(0)
	r.misses.Store(0)
}
