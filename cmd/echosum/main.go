// Command echosum runs a runtime with one CPU per hardware thread. Each
// connection speaks a tiny framed protocol: a big-endian int32 count N,
// followed by N big-endian int32s; the server replies with a single
// big-endian int64 holding their sum, then waits for the next frame.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	corerun "github.com/corelace/corerun"
	"github.com/corelace/corerun/internal/logging"
)

func main() {
	var (
		addr            = flag.String("addr", "", "listen address (default 127.0.0.1:7000, env CORERUN_LISTEN_ADDR)")
		numCPUs         = flag.Int("cpus", 0, "number of CPUs to run (0 = runtime.NumCPU(), env CORERUN_NUM_CPUS)")
		packs           = flag.String("packs", "", `explicit pack topology, e.g. "0,1|2,3" (env CORERUN_PACKS)`)
		maxTasksPerTick = flag.Int("max-tasks-per-tick", 0, "override per-tick task batch bound (0 = runtime default)")
		maxPollWait     = flag.Duration("max-poll-wait", 0, "override longest selector poll wait (0 = runtime default)")
		verbose         = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	cfg := corerun.DefaultConfig()
	cfg.ListenAddr = *addr
	cfg.Packs = *packs
	cfg.NumCPUs = *numCPUs
	if *maxTasksPerTick > 0 {
		cfg.MaxTasksPerTick = *maxTasksPerTick
	}
	if *maxPollWait > 0 {
		cfg.MaxPollTimeout = *maxPollWait
	}
	cfg.ApplyEnv()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7000"
	}
	if *verbose {
		cfg.LogLevel = logging.LevelDebug
	}

	cs := corerun.BuildCPUSet(cfg)
	logger := logging.Default()

	worker := cs.Pack("worker")
	acceptor := worker.CPUs()[0]
	onAcceptFailure := func(err error) {
		logger.Error("failed to accept connection", "error", err)
	}
	if _, err := acceptor.Listen(cfg.ListenAddr, worker, serveConnection, onAcceptFailure); err != nil {
		logger.Error("failed to listen", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("listening", "addr", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cs.Halt()
	}()

	var g errgroup.Group
	for _, cpu := range cs.CPUs() {
		cpu := cpu
		g.Go(func() error {
			cpu.Run()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("fatal runtime error", "error", err)
		os.Exit(1)
	}
}

// serveConnection implements the length-prefixed sum protocol for one
// accepted Channel, looping until the peer closes the connection.
func serveConnection(ch *corerun.Channel) {
	readFrame(ch)
}

func readFrame(ch *corerun.Channel) {
	ch.In.ReadInt().AndThen(func(count int32) {
		sumFrame(ch, count)
	}).Check(func(error) {
		ch.Close()
	})
}

func sumFrame(ch *corerun.Channel, count int32) {
	if count < 0 {
		ch.Close()
		return
	}
	var sum int64
	var readNext func(remaining int32)
	readNext = func(remaining int32) {
		if remaining == 0 {
			// WriteLong is fire-and-forget; the read and write halves of a
			// duplex socket make independent progress, so the next frame
			// can start arriving while this reply is still draining. A
			// write that fails closes the channel via OutputStream's
			// onError hook instead of through a future here.
			ch.Out.WriteLong(sum)
			readFrame(ch)
			return
		}
		ch.In.ReadInt().AndThen(func(v int32) {
			sum += int64(v)
			readNext(remaining - 1)
		}).Check(func(error) {
			ch.Close()
		})
	}
	readNext(count)
}
