// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sampler implements the profiling side of PerFlow: a Sampler
// state machine driving an interval-timer signal source, capturing call
// stacks into a SampleMap, and flushing them plus the process's
// LibraryMap snapshots to the per-rank store on stop.
package sampler

import (
	"os"
	"strconv"

	"github.com/yuyangjin/perflow/callstack"
)

// Config holds the Sampler's environment-driven parameters, per
// spec.md §6. Every field may also be set programmatically; values set
// this way take precedence over the environment.
type Config struct {
	OutputDir       string
	OutputPrefix    string
	SamplingFreqHz  int
	MaxStackDepth   int
	SymbolDebug     bool
	Compress        bool
	FlushIntervalS  int // 0 disables periodic flush
}

// DefaultConfig returns a Config seeded from environment variables,
// falling back to the documented defaults: PERFLOW_OUTPUT_DIR (system
// temp dir), PERFLOW_SAMPLING_FREQ (1000), PERFLOW_MAX_STACK_DEPTH
// (callstack.MaxDepth), PERFLOW_SYMBOL_DEBUG, PERFLOW_COMPRESS.
func DefaultConfig() Config {
	cfg := Config{
		OutputDir:      os.TempDir(),
		OutputPrefix:   "perflow",
		SamplingFreqHz: 1000,
		MaxStackDepth:  callstack.MaxDepth,
	}

	if v := os.Getenv("PERFLOW_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("PERFLOW_SAMPLING_FREQ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SamplingFreqHz = n
		}
	}
	if v := os.Getenv("PERFLOW_MAX_STACK_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= callstack.MaxDepth {
			cfg.MaxStackDepth = n
		}
	}
	if v := os.Getenv("PERFLOW_SYMBOL_DEBUG"); v == "1" {
		cfg.SymbolDebug = true
	}
	if v := os.Getenv("PERFLOW_COMPRESS"); v == "1" {
		cfg.Compress = true
	}
	return cfg
}
