package worker

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/dustyrockpyle/mpworker/codec"
	"github.com/dustyrockpyle/mpworker/transport"
)

// Environment passed from client.Spawn to the re-executed child.
const (
	EnvWorker   = "MPWORKER_PROCESS"
	EnvWorkerID = "MPWORKER_ID"
	EnvCodec    = "MPWORKER_CODEC"
)

// SpawnedProcess reports whether this process was started by client.Spawn.
// Programs using Spawn re-execute their own binary, so main (or TestMain)
// must check this early and hand control to Main.
func SpawnedProcess() bool {
	return os.Getenv(EnvWorker) != ""
}

// Main is the worker-process entry point. It wires the endpoint onto
// stdin/stdout, routes SIGTERM/SIGINT to the close-requested signal, runs the
// loop, and exits: 0 after a clean close, 1 after a transport failure.
//
// Stdout belongs to the transport; all worker logging goes to stderr.
func Main() {
	logger := processLogger()
	defer func() { _ = logger.Sync() }()

	codecType := codec.CodecTypeGob
	if v := os.Getenv(EnvCodec); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			codecType = codec.CodecType(n)
		}
	}

	ep := transport.NewEndpoint(os.Stdin, os.Stdout, codecType)
	loop := NewLoop(ep, WithLogger(logger))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	go func() {
		sig := <-sigCh
		logger.Info("close requested", zap.String("signal", sig.String()))
		loop.RequestClose()
	}()

	if err := loop.Run(); err != nil {
		logger.Error("worker loop failed", zap.Error(err))
		os.Exit(1)
	}
	os.Exit(0)
}

func processLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("worker_id", os.Getenv(EnvWorkerID)))
}
