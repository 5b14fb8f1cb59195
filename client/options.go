package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/dustyrockpyle/mpworker/codec"
	"github.com/dustyrockpyle/mpworker/middleware"
)

// DefaultPollInterval bounds how long the reconciler goes between
// worker-closed checks when no replies arrive.
const DefaultPollInterval = 100 * time.Millisecond

// defaultFaultGrace is how long teardown waits for the process waiter to
// harvest the exit status before failing pending calls without it.
const defaultFaultGrace = 5 * time.Second

type options struct {
	logger       *zap.Logger
	pollInterval time.Duration
	faultGrace   time.Duration
	codecType    codec.CodecType
	middlewares  []middleware.Middleware
	command      string
	commandArgs  []string
	env          []string
}

type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
		faultGrace:   defaultFaultGrace,
		codecType:    codec.CodecTypeGob,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codecType = ct }
}

// WithMiddleware installs submit-side interceptors, applied in the given
// order around every Submit (the spawn handshake bypasses them).
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithCommand overrides the worker executable. The default re-executes the
// current binary, relying on worker.SpawnedProcess gating in main.
func WithCommand(path string, args ...string) Option {
	return func(o *options) {
		o.command = path
		o.commandArgs = args
	}
}

// WithEnv appends extra environment variables for the worker process.
func WithEnv(env ...string) Option {
	return func(o *options) { o.env = append(o.env, env...) }
}
