package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/chainforge/evmship/actionhash"
	"github.com/chainforge/evmship/assembler"
	"github.com/chainforge/evmship/broadcast"
	"github.com/chainforge/evmship/common"
	"github.com/chainforge/evmship/config"
	"github.com/chainforge/evmship/evmdecode"
	"github.com/chainforge/evmship/logger"
	"github.com/chainforge/evmship/shipclient"
	"github.com/chainforge/evmship/shiptypes"
	"github.com/chainforge/evmship/sink"
	"github.com/chainforge/evmship/sink/boltsink"
	"github.com/chainforge/evmship/sink/leveldbsink"
)

func openSink(cfg config.SinkConfig) (sink.ConsumerSink, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := common.CreateDirSafe(dir, 0750); err != nil {
			return nil, fmt.Errorf("preparing sink directory (%s): %w", dir, err)
		}
	}

	switch cfg.Backend {
	case "", "bolt":
		return boltsink.New(cfg.Path)
	case "leveldb":
		return leveldbsink.New(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

// run drives indexing sessions until ctx is cancelled. A fatal
// assembler error (ErrGap/ErrFork, a non-debug-mode decode error, or a
// sink error) tears down the current Runner/ShipClient pair and starts
// a fresh one resumed from the sink's last indexed block, rather than
// exiting the process: spec §5/§8 scenario 5 treats a gap or fork as
// session-abort-and-reconnect, not an operator-level restart.
func run(ctx context.Context, cfg config.Config, log hclog.Logger) error {
	consumerSink, err := openSink(cfg.Sink)
	if err != nil {
		return fmt.Errorf("opening sink: %w", err)
	}
	defer consumerSink.Close() //nolint:errcheck

	if err := consumerSink.Init(); err != nil {
		return fmt.Errorf("initializing sink: %w", err)
	}

	var broadcaster broadcast.Broadcaster

	if cfg.Broadcast.WSPort != 0 {
		hub := broadcast.NewHub(log.Named("broadcast"))
		broadcaster = hub

		addr := fmt.Sprintf("%s:%d", cfg.Broadcast.WSHost, cfg.Broadcast.WSPort)

		go func() {
			if err := hub.ListenAndServe(addr); err != nil {
				log.Error("broadcast server stopped", "err", err)
			}
		}()
	}

	for {
		restart, err := runSession(ctx, cfg, log, consumerSink, broadcaster)
		if !restart {
			return err
		}

		log.Warn("evmship: restarting session after fatal assembler error", "err", err)
	}
}

// runSession builds a fresh Assembler/Runner/ShipClient trio resumed
// from the sink's current last-indexed block and drives it until the
// session ends. restart is true when the caller should loop and build
// another trio (a fatal assembler error); false when run should return
// (context cancellation or the ShipClient itself stopping).
func runSession(
	ctx context.Context, cfg config.Config, log hclog.Logger,
	consumerSink sink.ConsumerSink, broadcaster broadcast.Broadcaster,
) (restart bool, err error) {
	lastIndexed, err := consumerSink.GetLastIndexedBlock()
	if err != nil {
		return false, fmt.Errorf("reading last indexed block: %w", err)
	}

	startBlock := cfg.StartBlock
	if lastIndexed != nil && lastIndexed.BlockNum+1 > startBlock {
		startBlock = lastIndexed.BlockNum + 1
	}

	hasherMode := actionhash.ModeRelease
	if cfg.Debug {
		hasherMode = actionhash.ModeDebug
	}

	asm := assembler.New(assembler.Config{
		Hasher: actionhash.New(hasherMode),
		Decoders: evmdecode.Decoders{
			Raw:      evmdecode.Reference{},
			Withdraw: evmdecode.Reference{},
			Deposit:  evmdecode.Reference{},
		},
		Sink:        consumerSink,
		Broadcaster: broadcaster,
		Debug:       cfg.Debug,
		Logger:      log.Named("assembler"),
	})
	asm.Resume(lastIndexed)

	runner := assembler.NewRunner(asm, assembler.RunnerConfig{QueueChannelSize: cfg.Perf.MaxMsgsInFlight}, log.Named("runner"))
	runner.Start(ctx)
	defer runner.Close()

	client := shipclient.New(shipclient.Config{
		URL:                  cfg.WSEndpoint,
		StartBlock:           startBlock,
		StopBlock:            cfg.StopBlock,
		MaxMessagesInFlight:  cfg.Perf.MaxMsgsInFlight,
		MinBlockConfirmation: firstNonZero(cfg.MinBlockConfirmation, 1),
		DecodeThreads:        cfg.Perf.WorkerAmount,
		QueueConcurrency:     cfg.Perf.ConcurrencyAmount,
		ReconnectDelay:       time.Duration(firstNonZero(cfg.ReconnectDelaySeconds, 5)) * time.Second,
		AllowEmptyBlock:      cfg.AllowEmptyBlock,
		AllowEmptyTraces:     cfg.AllowEmptyTraces,
		AllowEmptyDeltas:     cfg.AllowEmptyDeltas,
		Debug:                cfg.Debug,
	}, runner, actionhash.New(hasherMode), log.Named("shipclient"))
	defer client.Close()

	initial := shiptypes.NewBlockRequest(startBlock, cfg.Perf.MaxMsgsInFlight)
	if cfg.StopBlock != 0 {
		initial.EndBlockNum = cfg.StopBlock
	}

	clientDone := make(chan error, 1)

	go func() {
		clientDone <- client.Run(ctx, initial)
	}()

	select {
	case <-ctx.Done():
		// spec §5 cancellation: persist lastIndexedBlock via indexState
		// before exiting; in-flight decode/assemble work is abandoned,
		// the sink's idempotence on blockNum covers the resumption.
		if stateErr := consumerSink.IndexState(asm.Snapshot().State); stateErr != nil {
			log.Error("persisting indexer state on shutdown", "err", stateErr)
		}

		return false, ctx.Err()
	case err := <-runner.ErrorCh():
		return true, fmt.Errorf("assembler runner: %w", err)
	case err := <-clientDone:
		return false, err
	}
}

func firstNonZero(v, fallback int) int {
	if v != 0 {
		return v
	}

	return fallback
}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "evmship:", err)
		os.Exit(1)
	}

	logLevel := hclog.Info
	if cfg.Debug {
		logLevel = hclog.Debug
	}

	log, err := logger.NewLogger(logger.LoggerConfig{
		Name:          "evmship",
		LogLevel:      logLevel,
		JSONLogFormat: false,
		AppendFile:    true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "evmship:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Error("evmship exited with error", "err", err)
		os.Exit(1)
	}
}
