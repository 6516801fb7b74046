// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyze

import (
	"sort"

	"github.com/yuyangjin/perflow/tree"
)

// RankBy selects which counter HotspotAnalyzer ranks nodes by.
type RankBy int

const (
	ByTotalSamples RankBy = iota
	BySelfSamples
)

// Hotspot is one reported entry from HotspotAnalyzer: a node together
// with its rank-relative share of the tree's total samples.
type Hotspot struct {
	Node        tree.TreeNode
	FuncName    string
	LibraryPath string
	Samples     uint64
	Percentage  float64
}

// HotspotAnalyzer returns the top-N nodes ranked by total (inclusive)
// or self (exclusive) sample count.
type HotspotAnalyzer struct {
	RankBy RankBy
	TopN   int
}

// Analyze returns the top HotspotAnalyzer.TopN nodes of t ranked by
// HotspotAnalyzer.RankBy, each annotated with its percentage of the
// tree's total samples. Ties are broken by insertion (arena) order,
// since the underlying sort is stable and nodes arrive from AllNodes
// in that order.
func (h HotspotAnalyzer) Analyze(t *tree.Tree) ([]Hotspot, error) {
	nodes, err := t.AllNodes()
	if err != nil {
		return nil, err
	}
	total, err := t.TotalSamples()
	if err != nil {
		return nil, err
	}

	metric := func(n tree.TreeNode) uint64 {
		if h.RankBy == BySelfSamples {
			return n.TotalSelfSamples()
		}
		return n.TotalSamples()
	}

	var candidates []tree.TreeNode
	for _, n := range nodes {
		if n.IsRoot() {
			continue
		}
		candidates = append(candidates, n)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return metric(candidates[i]) > metric(candidates[j])
	})

	n := h.TopN
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}

	out := make([]Hotspot, n)
	for i := 0; i < n; i++ {
		node := candidates[i]
		samples := metric(node)
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(samples) / float64(total)
		}
		out[i] = Hotspot{
			Node:        node,
			FuncName:    node.FuncName(),
			LibraryPath: node.LibraryPath(),
			Samples:     samples,
			Percentage:  pct,
		}
	}
	return out, nil
}
