// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sampler

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigFallsBackWhenEnvUnset(t *testing.T) {
	for _, k := range []string{"PERFLOW_OUTPUT_DIR", "PERFLOW_SAMPLING_FREQ", "PERFLOW_MAX_STACK_DEPTH", "PERFLOW_SYMBOL_DEBUG", "PERFLOW_COMPRESS"} {
		os.Unsetenv(k)
	}
	cfg := DefaultConfig()
	require.Equal(t, 1000, cfg.SamplingFreqHz)
	require.False(t, cfg.Compress)
	require.False(t, cfg.SymbolDebug)
}

func TestDefaultConfigReadsEnv(t *testing.T) {
	t.Setenv("PERFLOW_SAMPLING_FREQ", "500")
	t.Setenv("PERFLOW_MAX_STACK_DEPTH", "32")
	t.Setenv("PERFLOW_COMPRESS", "1")
	t.Setenv("PERFLOW_SYMBOL_DEBUG", "1")

	cfg := DefaultConfig()
	require.Equal(t, 500, cfg.SamplingFreqHz)
	require.Equal(t, 32, cfg.MaxStackDepth)
	require.True(t, cfg.Compress)
	require.True(t, cfg.SymbolDebug)
}

func TestStateTransitionsReject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	s := New(cfg)

	require.Error(t, s.Stop())  // not Running
	require.Error(t, s.Flush()) // not Initialized/Stopped yet (Uninitialized)

	require.NoError(t, s.Initialize())
	require.Equal(t, Initialized, s.State())
	require.ErrorIs(t, s.Initialize(), ErrSamplerState) // already Initialized
}

func TestInitializeThenFlushWritesFiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.OutputPrefix = "test"
	s := New(cfg)

	require.NoError(t, s.Initialize())
	require.NoError(t, s.Flush())

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestRefreshLibraryMapAssignsIncrementingSnapshotIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	s := New(cfg)
	require.NoError(t, s.Initialize())

	id1, err := s.RefreshLibraryMap()
	require.NoError(t, err)
	require.Equal(t, uint32(1), id1)

	id2, err := s.RefreshLibraryMap()
	require.NoError(t, err)
	require.Equal(t, uint32(2), id2)
}

func TestDetectMPIRankFromEnv(t *testing.T) {
	os.Unsetenv("OMPI_COMM_WORLD_RANK")
	os.Unsetenv("PMI_RANK")
	os.Unsetenv("SLURM_PROCID")

	_, ok := detectMPIRank()
	require.False(t, ok)

	t.Setenv("OMPI_COMM_WORLD_RANK", "3")
	rank, ok := detectMPIRank()
	require.True(t, ok)
	require.Equal(t, 3, rank)
}
