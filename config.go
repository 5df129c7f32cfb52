package corerun

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/corelace/corerun/internal/logging"
)

// Config holds the parameters for assembling a runtime's CPUSet: how many
// CPUs to run (or, for a multi-pack topology, how they're grouped), how
// to place new connections among them, how the poll loop is tuned, and
// how verbose to log. Application entry points (cmd/echosum,
// cmd/fragecho) build one of these from flags and pass it to
// BuildCPUSet.
type Config struct {
	// NumCPUs is how many CPUs the single "worker" Pack contains when
	// Packs is empty. Zero means runtime.NumCPU().
	NumCPUs int

	// Packs describes an explicit multi-pack topology as groups of
	// comma-separated CPU indices, one group per Pack, separated by "|" —
	// e.g. "0,1|2,3" builds two 2-CPU packs named "worker" and "pack1".
	// The indices themselves only determine each group's size; actual CPU
	// IDs are still assigned sequentially by Builder.AddPack. Empty means
	// a single "worker" Pack sized NumCPUs.
	Packs string

	// Policy chooses which CPU a new connection lands on. Nil defaults to
	// UniformRandomPolicy.
	Policy PlacementPolicy

	// ListenAddr is the host:port the runtime's Listener binds.
	ListenAddr string

	// LogLevel controls the verbosity of the default logger.
	LogLevel logging.LogLevel

	// MaxTasksPerTick overrides how many locally-queued tasks a CPU
	// drains per tick before polling the selector again. Zero keeps the
	// runtime's built-in default.
	MaxTasksPerTick int

	// MaxPollTimeout overrides the longest a CPU will block in Poll when
	// it has no armed timers. Zero keeps the runtime's built-in default.
	MaxPollTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration: one CPU per
// hardware thread, uniform random placement, informational logging, and
// the runtime's built-in poll-loop tuning.
func DefaultConfig() Config {
	return Config{
		NumCPUs:    runtime.NumCPU(),
		Policy:     UniformRandomPolicy{},
		ListenAddr: "127.0.0.1:7000",
		LogLevel:   logging.LevelInfo,
	}
}

// Env-var fallbacks read by ApplyEnv, checked directly via os.Getenv
// alongside flag parsing rather than through a generic env library.
const (
	envListenAddr      = "CORERUN_LISTEN_ADDR"
	envPacks           = "CORERUN_PACKS"
	envNumCPUs         = "CORERUN_NUM_CPUS"
	envMaxTasksPerTick = "CORERUN_MAX_TASKS_PER_TICK"
	envMaxPollWait     = "CORERUN_MAX_POLL_WAIT"
)

// ApplyEnv fills in any field of cfg still at its zero value from the
// corresponding CORERUN_* environment variable, so a deployment can
// override topology and tuning without touching the command line. Flags
// parsed on top of cfg after calling ApplyEnv still win, matching the
// teacher's pattern of checking an environment variable only as a
// fallback for an otherwise-unset knob.
func (cfg *Config) ApplyEnv() {
	if cfg.ListenAddr == "" {
		if v := os.Getenv(envListenAddr); v != "" {
			cfg.ListenAddr = v
		}
	}
	if cfg.Packs == "" {
		if v := os.Getenv(envPacks); v != "" {
			cfg.Packs = v
		}
	}
	if cfg.NumCPUs == 0 {
		if v := os.Getenv(envNumCPUs); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.NumCPUs = n
			}
		}
	}
	if cfg.MaxTasksPerTick == 0 {
		if v := os.Getenv(envMaxTasksPerTick); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.MaxTasksPerTick = n
			}
		}
	}
	if cfg.MaxPollTimeout == 0 {
		if v := os.Getenv(envMaxPollWait); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.MaxPollTimeout = d
			}
		}
	}
}

// parsePackTopology splits a Packs string like "0,1|2,3" into per-pack
// sizes. The values between commas aren't validated as CPU IDs — only
// their count, per group, matters.
func parsePackTopology(s string) ([]int, error) {
	groups := strings.Split(s, "|")
	sizes := make([]int, 0, len(groups))
	for _, g := range groups {
		ids := strings.Split(g, ",")
		if len(ids) == 0 || (len(ids) == 1 && strings.TrimSpace(ids[0]) == "") {
			return nil, fmt.Errorf("corerun: empty pack group in topology %q", s)
		}
		sizes = append(sizes, len(ids))
	}
	return sizes, nil
}

// BuildCPUSet constructs a CPUSet from cfg: either a single Pack named
// "worker" holding cfg.NumCPUs CPUs, or — when cfg.Packs names an
// explicit topology — one Pack per group ("worker" for the first group,
// "pack1", "pack2", ... after that), each under cfg.Policy and tuned by
// cfg.MaxTasksPerTick/cfg.MaxPollTimeout.
func BuildCPUSet(cfg Config) *CPUSet {
	log := logging.NewLogger(&logging.Config{Level: cfg.LogLevel})

	var opts []CPUOption
	if cfg.MaxTasksPerTick > 0 {
		opts = append(opts, WithMaxTasksPerTick(cfg.MaxTasksPerTick))
	}
	if cfg.MaxPollTimeout > 0 {
		opts = append(opts, WithMaxPollTimeout(cfg.MaxPollTimeout))
	}

	b := NewBuilder().WithLogger(log).WithCPUOptions(opts...)

	sizes, err := parsePackTopology(cfg.Packs)
	if cfg.Packs == "" || err != nil {
		if err != nil {
			log.Errorf("invalid pack topology %q: %v; falling back to a single worker pack", cfg.Packs, err)
		}
		n := cfg.NumCPUs
		if n <= 0 {
			n = runtime.NumCPU()
		}
		return b.AddPack("worker", n, cfg.Policy).Build()
	}

	for i, n := range sizes {
		name := "worker"
		if i > 0 {
			name = fmt.Sprintf("pack%d", i)
		}
		b.AddPack(name, n, cfg.Policy)
	}
	return b.Build()
}
