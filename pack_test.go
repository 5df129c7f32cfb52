package corerun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCPUs(t *testing.T, n int) []*CPU {
	t.Helper()
	log := testLogger()
	cpus := make([]*CPU, n)
	for i := range cpus {
		cpu, err := NewCPU(i, log, NewMetrics())
		require.NoError(t, err)
		cpus[i] = cpu
	}
	return cpus
}

func TestUniformRandomPolicyReachesEveryCPU(t *testing.T) {
	cpus := newTestCPUs(t, 4)
	seen := make(map[int]bool)

	policy := UniformRandomPolicy{}
	for i := 0; i < 2000 && len(seen) < len(cpus); i++ {
		c := policy.Select(cpus)
		seen[c.ID()] = true
	}

	assert.Len(t, seen, len(cpus), "every CPU, including the last index, must be reachable")
}

func TestLeastLoadedPolicyPicksFewestTasksRun(t *testing.T) {
	cpus := newTestCPUs(t, 3)
	cpus[0].metrics.TasksRun.Store(50)
	cpus[1].metrics.TasksRun.Store(5)
	cpus[2].metrics.TasksRun.Store(20)

	got := LeastLoadedPolicy{}.Select(cpus)

	assert.Equal(t, cpus[1].ID(), got.ID())
}

func TestPackGetCPUUsesDefaultPolicyWhenNil(t *testing.T) {
	cpus := newTestCPUs(t, 2)
	p := NewPack("worker", nil, cpus...)

	got := p.GetCPU()

	assert.Contains(t, []int{cpus[0].ID(), cpus[1].ID()}, got.ID())
}

func TestPackCPUsReturnsACopy(t *testing.T) {
	cpus := newTestCPUs(t, 2)
	p := NewPack("worker", UniformRandomPolicy{}, cpus...)

	got := p.CPUs()
	got[0] = nil

	assert.NotNil(t, p.CPUs()[0], "mutating the returned slice must not affect the pack")
}

func TestPackSize(t *testing.T) {
	cpus := newTestCPUs(t, 3)
	p := NewPack("worker", UniformRandomPolicy{}, cpus...)

	assert.Equal(t, 3, p.Size())
}
