// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbol

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"sort"
	"sync"
)

// dwarfTable is an in-process function/line lookup built by walking a
// library's own DWARF debug info, adapted from perfsession's DWARF
// walk: instead of indexing perf.data mmap records, it answers
// (library, offset) queries the way resolveAddr2Line does, without
// forking a subprocess. It is consulted as the second tier of the
// auto-fallback policy, between the dynamic-linker symbol table and
// the addr2line subprocess.
type dwarfTable struct {
	funcs []funcRange
	lines []dwarf.LineEntry
}

type funcRange struct {
	name          string
	lowpc, highpc uint64
}

func loadDwarfTable(path string) (*dwarfTable, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if f.Section(".debug_info") == nil {
		return nil, fmt.Errorf("symbol: no DWARF info in %s", path)
	}
	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("symbol: loading DWARF from %s: %w", path, err)
	}

	return &dwarfTable{
		funcs: dwarfFuncTable(data),
		lines: dwarfLineTable(data),
	}, nil
}

// lookup returns the function name and source location covering ip, if
// any. An empty name, or an empty file with line 0, means that half is
// unknown.
func (d *dwarfTable) lookup(ip uint64) (name string, file string, line int) {
	i := sort.Search(len(d.funcs), func(i int) bool { return ip < d.funcs[i].highpc })
	if i < len(d.funcs) && d.funcs[i].lowpc <= ip && ip < d.funcs[i].highpc {
		name = d.funcs[i].name
	}

	j := sort.Search(len(d.lines), func(j int) bool { return ip < d.lines[j].Address })
	if j != 0 && !d.lines[j-1].EndSequence {
		file = d.lines[j-1].File.Name
		line = d.lines[j-1].Line
	}
	return
}

func dwarfFuncTable(data *dwarf.Data) []funcRange {
	r := data.Reader()
	var out []funcRange
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		if ent.Tag != dwarf.TagSubprogram {
			r.SkipChildren()
			continue
		}
		name, ok := ent.Val(dwarf.AttrName).(string)
		if !ok {
			continue
		}
		lowpc, ok := ent.Val(dwarf.AttrLowpc).(uint64)
		if !ok {
			continue
		}
		var highpc uint64
		switch v := ent.Val(dwarf.AttrHighpc).(type) {
		case uint64:
			highpc = v
		case int64:
			highpc = lowpc + uint64(v)
		default:
			continue
		}
		out = append(out, funcRange{name, lowpc, highpc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lowpc < out[j].lowpc })
	return out
}

func dwarfLineTable(data *dwarf.Data) []dwarf.LineEntry {
	var out []dwarf.LineEntry
	r := data.Reader()
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := data.LineReader(ent)
		if err != nil || lr == nil {
			continue
		}
		for {
			var le dwarf.LineEntry
			if err := lr.Next(&le); err != nil {
				if err != io.EOF {
					break
				}
				break
			}
			out = append(out, le)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// dwarfTableCache caches parsed DWARF tables per library path, since
// parsing is almost as expensive as the addr2line subprocess it
// replaces and every resolution against the same library should pay
// that cost once.
type dwarfTableCache struct {
	mu     sync.Mutex
	tables map[string]*dwarfTable // nil entry marks a library with no usable DWARF info
}

func newDwarfTableCache() *dwarfTableCache {
	return &dwarfTableCache{tables: make(map[string]*dwarfTable)}
}

func (c *dwarfTableCache) get(path string) *dwarfTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[path]; ok {
		return t
	}
	t, err := loadDwarfTable(path)
	if err != nil {
		t = nil
	}
	c.tables[path] = t
	return t
}

// resolveDwarf is the in-process DWARF tier of the auto-fallback
// policy: cheaper than shelling out to addr2line, but only available
// when the library carries its own DWARF debug info.
func (r *Resolver) resolveDwarf(library string, offset uint64) (SymbolInfo, bool) {
	table := r.dwarfCache().get(library)
	if table == nil {
		return SymbolInfo{}, false
	}
	name, file, line := table.lookup(offset)
	if name == "" {
		return SymbolInfo{}, false
	}
	return SymbolInfo{FuncName: name, SourceFile: file, Line: line}, true
}

func (r *Resolver) dwarfCache() *dwarfTableCache {
	r.dwarfOnce.Do(func() { r.dwarfTables = newDwarfTableCache() })
	return r.dwarfTables
}
