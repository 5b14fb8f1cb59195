package client

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dustyrockpyle/mpworker/message"
	"github.com/dustyrockpyle/mpworker/proxy"
	"github.com/dustyrockpyle/mpworker/transport"
	"github.com/dustyrockpyle/mpworker/worker"
)

// Spawn starts a worker process, constructs an instance of the registered
// type inside it, and returns the handle. The handle is usable immediately:
// calls submitted before construction finishes are queued behind the
// construction reply in the usual FIFO order.
//
// The worker is this same binary re-executed; main (or TestMain) must route
// to worker.Main when worker.SpawnedProcess reports true.
func Spawn(sched Scheduler, typeName string, args ...any) (*Handle, error) {
	return SpawnKW(sched, typeName, args, nil)
}

// SpawnKW is Spawn with keyword arguments and options.
func SpawnKW(sched Scheduler, typeName string, args []any, kwargs message.Kwargs, opts ...Option) (*Handle, error) {
	t, ok := proxy.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("client: type not registered: %s", typeName)
	}
	o := newOptions(opts)
	id := ulid.Make().String()

	path := o.command
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("client: locating executable: %w", err)
		}
		path = exe
	}

	// Plain os.Pipe pairs instead of StdinPipe/StdoutPipe: the waiter calls
	// cmd.Wait concurrently with the reconciler's reads, and Wait must not
	// own the controller's pipe ends.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, err
	}

	cmd := exec.Command(path, o.commandArgs...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		worker.EnvWorker+"=1",
		worker.EnvWorkerID+"="+id,
		worker.EnvCodec+"="+strconv.Itoa(int(o.codecType)),
	)
	cmd.Env = append(cmd.Env, o.env...)

	if err := cmd.Start(); err != nil {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("client: starting worker: %w", err)
	}
	// The child owns its ends now.
	inR.Close()
	outW.Close()

	o.logger.Info("worker spawned",
		zap.String("worker_id", id),
		zap.String("type", typeName),
		zap.Int("pid", cmd.Process.Pid))

	ep := transport.NewEndpoint(outR, inW, o.codecType)
	return newHandle(id, ep, newExecProcess(cmd), sched, o, t, typeName, args, kwargs), nil
}

// Attach runs the full protocol against an in-process worker loop: same
// wire format, same shutdown signals, no process boundary. Used by tests and
// by callers that want the handle semantics without a second process.
func Attach(sched Scheduler, typeName string, args []any, kwargs message.Kwargs, opts ...Option) (*Handle, error) {
	t, ok := proxy.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("client: type not registered: %s", typeName)
	}
	o := newOptions(opts)
	id := ulid.Make().String()

	toWorkerR, toWorkerW := io.Pipe()
	toCtrlR, toCtrlW := io.Pipe()

	workerEp := transport.NewEndpoint(toWorkerR, toCtrlW, o.codecType)
	loop := worker.NewLoop(workerEp,
		worker.WithLogger(o.logger.With(zap.String("worker_id", id))),
		worker.WithPollInterval(o.pollInterval))
	go func() { _ = loop.Run() }()

	ctrlEp := transport.NewEndpoint(toCtrlR, toWorkerW, o.codecType)
	return newHandle(id, ctrlEp, loopProcess{loop}, sched, o, t, typeName, args, kwargs), nil
}

// newHandle wires manager + handle and submits the construction call, which
// is always pending call #1.
func newHandle(id string, ep *transport.Endpoint, proc Process, sched Scheduler, o *options, t *proxy.Type, typeName string, args []any, kwargs message.Kwargs) *Handle {
	m := newManager(id, ep, proc, sched, o)
	h := &Handle{
		m:        m,
		typeName: typeName,
		methods:  t.MethodNames(),
	}
	h.ctor = m.submitConstruct(typeName, args, kwargs)
	return h
}
