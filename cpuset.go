package corerun

import (
	"sync"

	"github.com/corelace/corerun/internal/logging"
)

// CPUSet is the whole runtime topology: every CPU the process owns,
// grouped into Packs, each run on its own OS thread.
type CPUSet struct {
	cpus  []*CPU
	packs []*Pack

	wg sync.WaitGroup
}

// Builder assembles a CPUSet one Pack at a time.
type Builder struct {
	packs   []*Pack
	log     *logging.Logger
	cpuOpts []CPUOption
}

// NewBuilder starts a CPUSet construction using the default logger.
func NewBuilder() *Builder {
	return &Builder{log: logging.Default()}
}

// WithLogger overrides the logger every CPU created through this builder
// uses.
func (b *Builder) WithLogger(log *logging.Logger) *Builder {
	b.log = log
	return b
}

// WithCPUOptions applies opts to every CPU the builder creates afterward,
// e.g. poll-loop tuning knobs sourced from a Config.
func (b *Builder) WithCPUOptions(opts ...CPUOption) *Builder {
	b.cpuOpts = append(b.cpuOpts, opts...)
	return b
}

// AddPack builds n new CPUs (each with its own selector, timer wheel, and
// Metrics), wraps them in a Pack named name using policy, and adds it to
// the set under construction.
func (b *Builder) AddPack(name string, n int, policy PlacementPolicy) *Builder {
	cpus := make([]*CPU, n)
	base := 0
	for _, p := range b.packs {
		base += p.Size()
	}
	for i := 0; i < n; i++ {
		metrics := NewMetrics()
		cpu, err := NewCPU(base+i, b.log, metrics, b.cpuOpts...)
		if err != nil {
			b.log.Errorf("AddPack %s: failed to create cpu %d: %v", name, base+i, err)
			continue
		}
		cpus[i] = cpu
	}
	b.packs = append(b.packs, NewPack(name, policy, cpus...))
	return b
}

// Build finalizes the CPUSet. It does not start any CPU's event loop;
// call Run for that.
func (b *Builder) Build() *CPUSet {
	cs := &CPUSet{}
	for _, p := range b.packs {
		cs.packs = append(cs.packs, p)
		cs.cpus = append(cs.cpus, p.CPUs()...)
	}
	return cs
}

// Packs returns every Pack in the set, in AddPack order.
func (cs *CPUSet) Packs() []*Pack { return cs.packs }

// Pack returns the Pack with the given name, or nil if none matches.
func (cs *CPUSet) Pack(name string) *Pack {
	for _, p := range cs.packs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// CPUs returns every CPU in the set across all packs.
func (cs *CPUSet) CPUs() []*CPU { return cs.cpus }

// Run starts every CPU's event loop, one goroutine (and, once pinned via
// runtime.LockOSThread, one OS thread) per CPU, and blocks until every
// one of them returns from Halt.
func (cs *CPUSet) Run() {
	cs.wg.Add(len(cs.cpus))
	for _, c := range cs.cpus {
		c := c
		go func() {
			defer cs.wg.Done()
			c.Run()
		}()
	}
	cs.wg.Wait()
}

// Halt stops every CPU in the set.
func (cs *CPUSet) Halt() {
	for _, c := range cs.cpus {
		c.Halt()
	}
}
