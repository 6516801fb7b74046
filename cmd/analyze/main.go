// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command analyze is the minimal CLI front-end for PerFlow's
// post-process analysis core: it loads a directory of per-rank sample
// and library-map files, builds a PerformanceTree, runs the balance and
// hotspot analyzers, and writes a JSON report.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yuyangjin/perflow/analyze"
	"github.com/yuyangjin/perflow/builder"
	"github.com/yuyangjin/perflow/tree"
)

type opts struct {
	inputDir    string
	output      string
	topN        int
	mode        string
	countMode   string
	concurrency string
	numThreads  int
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "analyze",
		Short: "Build a performance tree from captured profiling data and report hotspots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}

	root.Flags().StringVar(&o.inputDir, "input-dir", "", "directory containing *_rank_*.pflw/.libmap files (required)")
	root.Flags().StringVar(&o.output, "output", "", "path to write the JSON report (required)")
	root.Flags().IntVar(&o.topN, "top-n", 10, "number of hotspots to report")
	root.Flags().StringVar(&o.mode, "mode", "context-free", "tree build mode: context-free|context-aware")
	root.Flags().StringVar(&o.countMode, "count-mode", "both", "sample-count mode: exclusive|inclusive|both")
	root.Flags().StringVar(&o.concurrency, "concurrency", "serial", "concurrency model: serial|fine-grained|thread-local|lock-free")
	root.Flags().IntVar(&o.numThreads, "num-threads", 1, "number of worker threads (not used: sample files are loaded one at a time)")

	root.MarkFlagRequired("input-dir")
	root.MarkFlagRequired("output")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

type report struct {
	TotalSamples uint64               `json:"total_samples"`
	NodeCount    int                  `json:"node_count"`
	WholeTree    analyze.BalanceStats `json:"whole_tree_balance"`
	Hotspots     []hotspotJSON        `json:"hotspots"`
	SelfHotspots []hotspotJSON        `json:"self_hotspots"`
}

type hotspotJSON struct {
	FuncName    string  `json:"func_name"`
	LibraryPath string  `json:"library_path"`
	Samples     uint64  `json:"samples"`
	Percentage  float64 `json:"percentage"`
}

func run(o opts) error {
	buildMode, err := parseBuildMode(o.mode)
	if err != nil {
		return err
	}
	countMode, err := parseCountMode(o.countMode)
	if err != nil {
		return err
	}
	concurMode, err := parseConcurrency(o.concurrency)
	if err != nil {
		return err
	}

	sampleFiles, libMapFiles, procCount, err := discoverInputs(o.inputDir)
	if err != nil {
		return err
	}
	if len(sampleFiles) == 0 {
		return fmt.Errorf("analyze: no sample files found under %s", o.inputDir)
	}

	t := tree.New(buildMode, countMode, concurMode, procCount)
	b := builder.New(t, nil)
	loaded := b.Load(sampleFiles, libMapFiles)
	slog.Info("loaded sample files", "loaded", loaded, "total", len(sampleFiles))

	if concurMode == tree.LockFree {
		t.Consolidate()
	}

	rep, err := buildReport(t, o.topN)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(o.output, data, 0o644)
}

func buildReport(t *tree.Tree, topN int) (report, error) {
	total, err := t.TotalSamples()
	if err != nil {
		return report{}, err
	}

	wholeTree, err := (analyze.BalanceAnalyzer{}).WholeTree(t)
	if err != nil {
		return report{}, err
	}

	inclusive, err := (analyze.HotspotAnalyzer{RankBy: analyze.ByTotalSamples, TopN: topN}).Analyze(t)
	if err != nil {
		return report{}, err
	}
	self, err := (analyze.HotspotAnalyzer{RankBy: analyze.BySelfSamples, TopN: topN}).Analyze(t)
	if err != nil {
		return report{}, err
	}

	return report{
		TotalSamples: total,
		NodeCount:    t.NodeCount(),
		WholeTree:    wholeTree,
		Hotspots:     toHotspotJSON(inclusive),
		SelfHotspots: toHotspotJSON(self),
	}, nil
}

func toHotspotJSON(hs []analyze.Hotspot) []hotspotJSON {
	out := make([]hotspotJSON, len(hs))
	for i, h := range hs {
		out[i] = hotspotJSON{
			FuncName:    h.FuncName,
			LibraryPath: h.LibraryPath,
			Samples:     h.Samples,
			Percentage:  h.Percentage,
		}
	}
	return out
}

func parseBuildMode(s string) (tree.BuildMode, error) {
	switch s {
	case "context-free":
		return tree.ContextFree, nil
	case "context-aware":
		return tree.ContextAware, nil
	default:
		return 0, fmt.Errorf("analyze: unknown --mode %q", s)
	}
}

func parseCountMode(s string) (tree.CountMode, error) {
	switch s {
	case "exclusive":
		return tree.Exclusive, nil
	case "inclusive":
		return tree.Inclusive, nil
	case "both":
		return tree.Both, nil
	default:
		return 0, fmt.Errorf("analyze: unknown --count-mode %q", s)
	}
}

func parseConcurrency(s string) (tree.ConcurrencyModel, error) {
	switch s {
	case "serial":
		return tree.Serial, nil
	case "fine-grained":
		return tree.FineGrainedLock, nil
	case "thread-local":
		return tree.ThreadLocalMerge, nil
	case "lock-free":
		return tree.LockFree, nil
	default:
		return 0, fmt.Errorf("analyze: unknown --concurrency %q", s)
	}
}

var rankFileRE = regexp.MustCompile(`_rank_(\d+)\.(pflw|pflw\.gz|libmap)$`)

// discoverInputs globs *_rank_<N>.pflw(.gz) and *_rank_<N>.libmap pairs
// out of dir and returns them alongside the highest rank seen plus one
// (the tree's required process count).
func discoverInputs(dir string) ([]builder.SampleFile, []builder.LibMapFile, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, 0, err
	}

	var samples []builder.SampleFile
	var libmaps []builder.LibMapFile
	maxRank := -1

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := rankFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		rank, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if rank > maxRank {
			maxRank = rank
		}
		path := filepath.Join(dir, e.Name())
		if m[2] == "libmap" {
			libmaps = append(libmaps, builder.LibMapFile{Path: path, Rank: rank})
		} else {
			samples = append(samples, builder.SampleFile{Path: path, Rank: rank})
		}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Rank < samples[j].Rank })
	sort.Slice(libmaps, func(i, j int) bool { return libmaps[i].Rank < libmaps[j].Rank })

	return samples, libmaps, maxRank + 1, nil
}
