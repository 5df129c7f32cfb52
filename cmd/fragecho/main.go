// Command fragecho runs a runtime that echoes length-prefixed byte
// frames back to the sender unchanged: a big-endian int32 length L
// followed by L bytes, which may arrive fragmented across any number of
// socket reads. It exists to exercise InputStream.ReadWithConsumer's
// put-back-on-NeedMore contract against a frame whose body itself needs
// more than one read to fill.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	corerun "github.com/corelace/corerun"
	"github.com/corelace/corerun/buffer"
	"github.com/corelace/corerun/internal/logging"
)

// banner is sent to every newly accepted connection via
// OutputStream.TransferFrom before the frame-echo loop starts, so the
// zero-copy sendfile path gets exercised by a real client alongside the
// buffered WriteAndFlush path the echo loop itself uses.
var (
	bannerFD   = -1
	bannerSize int64
)

func loadBanner() error {
	data := []byte("fragecho ready\n")
	path := filepath.Join(os.TempDir(), fmt.Sprintf("fragecho-banner-%d", os.Getpid()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		os.Remove(path)
		return err
	}
	os.Remove(path) // unlinked once open; the fd keeps the data alive until exit
	bannerFD = fd
	bannerSize = int64(len(data))
	return nil
}

func main() {
	var (
		addr            = flag.String("addr", "", "listen address (default 127.0.0.1:7001, env CORERUN_LISTEN_ADDR)")
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
		cfg.ListenAddr = "127.0.0.1:7001"
	}
	if *verbose {
		cfg.LogLevel = logging.LevelDebug
	}

	cs := corerun.BuildCPUSet(cfg)
	logger := logging.Default()

	if err := loadBanner(); err != nil {
		logger.Error("failed to prepare banner", "error", err)
		os.Exit(1)
	}

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

func serveConnection(ch *corerun.Channel) {
	if bannerFD < 0 {
		readFrame(ch)
		return
	}
	ch.Out.TransferFrom(bannerFD, 0, bannerSize).AndThen(func(int64) {
		readFrame(ch)
	}).Check(func(error) {
		ch.Close()
	})
}

// readFrame decodes one length-prefixed frame using a single custom
// consumer spanning both the length header and the body, so a peer that
// sends the 4-byte length and the body bytes in separate writes (or one
// byte at a time) is handled identically to one that sends it all at
// once: each partial call returns NeedMore and the stream replays from
// the mark once more bytes land.
func readFrame(ch *corerun.Channel) {
	corerun.ReadWithConsumer(ch.In, func(buf *buffer.Buffer) corerun.ConsumeDecision[*buffer.Buffer] {
		if buf.ReadableBytes() < 4 {
			return corerun.NeedMore[*buffer.Buffer]()
		}
		length, err := buf.ReadInt()
		if err != nil {
			return corerun.NeedMore[*buffer.Buffer]()
		}
		if length < 0 {
			return corerun.Consumed[*buffer.Buffer](nil)
		}
		if buf.ReadableBytes() < int(length) {
			return corerun.NeedMore[*buffer.Buffer]()
		}
		body, err := buf.ReadBytes(int(length))
		if err != nil {
			return corerun.NeedMore[*buffer.Buffer]()
		}
		return corerun.Consumed(body)
	}).AndThen(func(body *buffer.Buffer) {
		if body == nil {
			ch.Close()
			return
		}
		n := body.ReadableBytes()
		out := buffer.New(4 + n)
		out.WriteInt(int32(n))
		out.WriteBytes(body.Bytes())
		body.Release()
		ch.Out.WriteAndFlush(out).AndThen(func(int64) {
			readFrame(ch)
		}).Check(func(error) {
			ch.Close()
		})
	}).Check(func(error) {
		ch.Close()
	})
}
