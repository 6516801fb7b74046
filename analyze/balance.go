// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analyze implements the two stateless analyzer passes over an
// immutable PerformanceTree: BalanceAnalyzer (per-rank load statistics)
// and HotspotAnalyzer (top-N nodes by sample count).
package analyze

import (
	"github.com/aclements/go-moremath/stats"
	"github.com/yuyangjin/perflow/tree"
)

// BalanceStats summarizes one per-rank counter vector's distribution.
type BalanceStats struct {
	Mean            float64
	StdDev          float64
	Min             float64
	Max             float64
	ImbalanceFactor float64 // (Max - Mean) / Mean, 0 when Mean == 0
	ArgMin          int     // rank holding Min
	ArgMax          int     // rank holding Max
}

// NodeBalance pairs a tree node with its per-rank balance statistics.
type NodeBalance struct {
	Node  tree.TreeNode
	Stats BalanceStats
}

// computeBalance reduces counts (one entry per rank) to BalanceStats,
// using go-moremath/stats for the mean and standard deviation and a
// plain scan for the positional argmin/argmax that stats.Sample does
// not expose.
func computeBalance(counts []uint64) BalanceStats {
	xs := make([]float64, len(counts))
	argMin, argMax := 0, 0
	for i, c := range counts {
		xs[i] = float64(c)
		if counts[i] < counts[argMin] {
			argMin = i
		}
		if counts[i] > counts[argMax] {
			argMax = i
		}
	}

	sample := stats.Sample{Xs: xs}
	mean := sample.Mean()
	min, max := sample.Bounds()

	imbalance := 0.0
	if mean != 0 {
		imbalance = (max - mean) / mean
	}

	return BalanceStats{
		Mean:            mean,
		StdDev:          sample.StdDev(),
		Min:             min,
		Max:             max,
		ImbalanceFactor: imbalance,
		ArgMin:          argMin,
		ArgMax:          argMax,
	}
}

// BalanceAnalyzer computes per-node and whole-tree rank-balance
// statistics over a consolidated tree's sampling_counts vectors.
type BalanceAnalyzer struct{}

// AnalyzeNode computes BalanceStats for a single node's per-rank
// sampling counts.
func (BalanceAnalyzer) AnalyzeNode(n tree.TreeNode) BalanceStats {
	return computeBalance(n.SamplingCounts())
}

// AnalyzeAll computes BalanceStats for every node in t.
func (a BalanceAnalyzer) AnalyzeAll(t *tree.Tree) ([]NodeBalance, error) {
	nodes, err := t.AllNodes()
	if err != nil {
		return nil, err
	}
	out := make([]NodeBalance, len(nodes))
	for i, n := range nodes {
		out[i] = NodeBalance{Node: n, Stats: a.AnalyzeNode(n)}
	}
	return out, nil
}

// WholeTree computes BalanceStats over the root's per-rank totals —
// the same statistics as AnalyzeNode applied to t.Root().
func (a BalanceAnalyzer) WholeTree(t *tree.Tree) (BalanceStats, error) {
	if _, err := t.TotalSamples(); err != nil {
		return BalanceStats{}, err
	}
	return a.AnalyzeNode(t.Root()), nil
}
