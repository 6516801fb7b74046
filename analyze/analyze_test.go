// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyze

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuyangjin/perflow/convert"
	"github.com/yuyangjin/perflow/tree"
)

func frame(name string) []convert.ResolvedFrame {
	return []convert.ResolvedFrame{{FuncName: name, LibraryPath: "/app"}}
}

// S4: four ranks, balanced — mean=100, stddev=0, imbalance_factor=0.
func TestBalanceAnalyzerBalancedRanks(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Both, tree.Serial, 4)
	for rank := 0; rank < 4; rank++ {
		tr.Insert(frame("work"), rank, 100, 0)
	}

	node, ok := tr.Root().FindChildByName("work")
	require.True(t, ok)

	stats := (BalanceAnalyzer{}).AnalyzeNode(node)
	require.Equal(t, 100.0, stats.Mean)
	require.Equal(t, 0.0, stats.StdDev)
	require.Equal(t, 0.0, stats.ImbalanceFactor)
}

// S5: four ranks, imbalanced {50,100,150,200} — mean=125, min=50,
// max=200, argmin=0, argmax=3, imbalance_factor=0.6.
func TestBalanceAnalyzerImbalancedRanks(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Both, tree.Serial, 4)
	counts := []uint64{50, 100, 150, 200}
	for rank, c := range counts {
		tr.Insert(frame("work"), rank, c, 0)
	}

	node, ok := tr.Root().FindChildByName("work")
	require.True(t, ok)

	stats := (BalanceAnalyzer{}).AnalyzeNode(node)
	require.InDelta(t, 125.0, stats.Mean, 1e-9)
	require.InDelta(t, 50.0, stats.Min, 1e-9)
	require.InDelta(t, 200.0, stats.Max, 1e-9)
	require.Equal(t, 0, stats.ArgMin)
	require.Equal(t, 3, stats.ArgMax)
	require.InDelta(t, 0.6, stats.ImbalanceFactor, 1e-9)
}

// S6: hotspot top-N — main(1000,100%), hot(900,90%), cold(100,10%) by
// total; hot(900), cold(100), main(0) by self.
func TestHotspotAnalyzerInclusiveAndSelf(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Both, tree.Serial, 1)
	tr.Insert([]convert.ResolvedFrame{
		{FuncName: "main", LibraryPath: "/app"},
		{FuncName: "hot", LibraryPath: "/app"},
	}, 0, 900, 0)
	tr.Insert([]convert.ResolvedFrame{
		{FuncName: "main", LibraryPath: "/app"},
		{FuncName: "cold", LibraryPath: "/app"},
	}, 0, 100, 0)

	inclusive, err := (HotspotAnalyzer{RankBy: ByTotalSamples, TopN: 3}).Analyze(tr)
	require.NoError(t, err)
	require.Len(t, inclusive, 3)
	require.Equal(t, "main", inclusive[0].FuncName)
	require.Equal(t, uint64(1000), inclusive[0].Samples)
	require.InDelta(t, 100.0, inclusive[0].Percentage, 1e-9)
	require.Equal(t, "hot", inclusive[1].FuncName)
	require.InDelta(t, 90.0, inclusive[1].Percentage, 1e-9)
	require.Equal(t, "cold", inclusive[2].FuncName)
	require.InDelta(t, 10.0, inclusive[2].Percentage, 1e-9)

	self, err := (HotspotAnalyzer{RankBy: BySelfSamples, TopN: 3}).Analyze(tr)
	require.NoError(t, err)
	require.Equal(t, "hot", self[0].FuncName)
	require.Equal(t, uint64(900), self[0].Samples)
	require.Equal(t, "cold", self[1].FuncName)
	require.Equal(t, uint64(100), self[1].Samples)
	require.Equal(t, "main", self[2].FuncName)
	require.Equal(t, uint64(0), self[2].Samples)
}

func TestHotspotAnalyzerTopNTruncates(t *testing.T) {
	tr := tree.New(tree.ContextFree, tree.Both, tree.Serial, 1)
	tr.Insert(frame("a"), 0, 30, 0)
	tr.Insert(frame("b"), 0, 20, 0)
	tr.Insert(frame("c"), 0, 10, 0)

	top, err := (HotspotAnalyzer{RankBy: ByTotalSamples, TopN: 2}).Analyze(tr)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "a", top[0].FuncName)
	require.Equal(t, "b", top[1].FuncName)
}
