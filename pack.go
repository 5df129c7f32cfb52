package corerun

import (
	"math/rand"

	"golang.org/x/sys/unix"
)

// PlacementPolicy chooses which CPU in a Pack a new unit of work (an
// accepted connection, a scheduled job) should land on.
type PlacementPolicy interface {
	Select(cpus []*CPU) *CPU
}

// UniformRandomPolicy picks among a Pack's CPUs with equal probability.
// This is the default: simple, and with enough connections it balances
// about as well as anything smarter without needing live load feedback.
type UniformRandomPolicy struct{}

// Select implements PlacementPolicy. rand.Intn's upper bound is
// exclusive, so every CPU in cpus is reachable — unlike a naive
// nextInt(0, len-1) helper, which would silently never pick the last one.
func (UniformRandomPolicy) Select(cpus []*CPU) *CPU {
	return cpus[rand.Intn(len(cpus))]
}

// LeastLoadedPolicy picks the CPU with the fewest tasks run since the
// last Reset of its Metrics, a cheap proxy for instantaneous load that
// needs no extra bookkeeping beyond what Metrics already tracks.
type LeastLoadedPolicy struct{}

// Select implements PlacementPolicy.
func (LeastLoadedPolicy) Select(cpus []*CPU) *CPU {
	best := cpus[0]
	bestLoad := best.metrics.TasksRun.Load()
	for _, c := range cpus[1:] {
		if load := c.metrics.TasksRun.Load(); load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

// Pack is a named group of CPUs that share a placement policy, e.g. "the
// CPUs that accept connections" versus "the CPUs that run background
// compaction". Channels and scheduled work are placed within a Pack, not
// across Packs.
type Pack struct {
	Name   string
	cpus   []*CPU
	policy PlacementPolicy
}

// NewPack creates a Pack over cpus using policy. A nil policy defaults to
// UniformRandomPolicy.
func NewPack(name string, policy PlacementPolicy, cpus ...*CPU) *Pack {
	if policy == nil {
		policy = UniformRandomPolicy{}
	}
	return &Pack{Name: name, cpus: cpus, policy: policy}
}

// GetCPU selects one CPU from the pack according to its placement policy.
func (p *Pack) GetCPU() *CPU {
	return p.policy.Select(p.cpus)
}

// CPUs returns the pack's member CPUs in registration order.
func (p *Pack) CPUs() []*CPU {
	out := make([]*CPU, len(p.cpus))
	copy(out, p.cpus)
	return out
}

// Size returns how many CPUs belong to the pack.
func (p *Pack) Size() int { return len(p.cpus) }

// Register wraps an already-accepted socket fd into a Channel on a CPU
// chosen by the pack's placement policy, then runs onSuccess with the new
// Channel or onFailure with the registration error — always on that
// target CPU's own thread. This is the seam between a Listener's accept
// loop (or any other code handing off a raw fd) and application protocol
// handlers: placement and registration both happen here, once.
func (p *Pack) Register(fd int, onSuccess func(*Channel), onFailure func(error)) {
	target := p.GetCPU()
	target.Schedule(func() {
		ch, err := newChannel(target, fd)
		if err != nil {
			wrapped := WrapError("Pack.Register", err)
			target.log.Errorf("fd=%d: register: %v", fd, wrapped)
			unix.Close(fd)
			if onFailure != nil {
				onFailure(wrapped)
			}
			return
		}
		onSuccess(ch)
	})
}
