package corerun

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigUsesNumCPUAndUniformPolicy(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, runtime.NumCPU(), cfg.NumCPUs)
	assert.IsType(t, UniformRandomPolicy{}, cfg.Policy)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
}

func TestBuildCPUSetHonorsExplicitNumCPUs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPUs = 3

	cs := BuildCPUSet(cfg)

	require.Len(t, cs.CPUs(), 3)
	worker := cs.Pack("worker")
	require.NotNil(t, worker)
	assert.Equal(t, 3, worker.Size())
}

func TestBuildCPUSetFallsBackToNumCPUWhenZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPUs = 0

	cs := BuildCPUSet(cfg)

	assert.Len(t, cs.CPUs(), runtime.NumCPU())
}

func TestBuildCPUSetParsesMultiPackTopology(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Packs = "0,1|2,3,4"

	cs := BuildCPUSet(cfg)

	require.Len(t, cs.CPUs(), 5)
	worker := cs.Pack("worker")
	require.NotNil(t, worker)
	assert.Equal(t, 2, worker.Size())
	pack1 := cs.Pack("pack1")
	require.NotNil(t, pack1)
	assert.Equal(t, 3, pack1.Size())
}

func TestBuildCPUSetFallsBackOnInvalidTopology(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPUs = 2
	cfg.Packs = "0,1||2"

	cs := BuildCPUSet(cfg)

	require.Len(t, cs.CPUs(), 2)
	worker := cs.Pack("worker")
	require.NotNil(t, worker)
}

func TestBuildCPUSetHonorsPollTuningOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPUs = 1
	cfg.MaxTasksPerTick = 7
	cfg.MaxPollTimeout = 50 * time.Millisecond

	cs := BuildCPUSet(cfg)

	require.Len(t, cs.CPUs(), 1)
	c := cs.CPUs()[0]
	assert.Equal(t, 7, c.maxTasksPerTick)
	assert.Equal(t, 50*time.Millisecond, c.maxPollTimeout)
}

func TestConfigApplyEnvFillsUnsetFieldsOnly(t *testing.T) {
	t.Setenv(envListenAddr, "10.0.0.1:9000")
	t.Setenv(envNumCPUs, "6")
	t.Setenv(envPacks, "0,1|2,3")

	cfg := Config{ListenAddr: "explicit:1"}
	cfg.ApplyEnv()

	assert.Equal(t, "explicit:1", cfg.ListenAddr, "explicitly set fields must not be overridden by env")
	assert.Equal(t, 6, cfg.NumCPUs)
	assert.Equal(t, "0,1|2,3", cfg.Packs)
}
