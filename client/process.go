package client

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/dustyrockpyle/mpworker/worker"
)

// Process is the lifecycle surface of a worker: the two one-shot shutdown
// signals, seen from the controller side. Both travel outside the transport —
// close-requested as a signal to the child, worker-closed as process exit —
// so neither depends on the message stream still working.
type Process interface {
	// RequestStop delivers the close-requested signal. Idempotent.
	RequestStop() error
	// Done is closed once the worker has fully stopped (worker-closed).
	Done() <-chan struct{}
	// Err reports the worker's exit error. Valid once Done is closed.
	Err() error
}

// execProcess supervises a real spawned worker process.
type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // written by the waiter before done closes

	stopOnce sync.Once
	stopErr  error
}

// newExecProcess starts the waiter goroutine that reaps the child and raises
// the worker-closed signal.
func newExecProcess(cmd *exec.Cmd) *execProcess {
	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p
}

func (p *execProcess) RequestStop() error {
	p.stopOnce.Do(func() {
		err := p.cmd.Process.Signal(syscall.SIGTERM)
		// The worker may have exited already; that is not a failure to stop.
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.stopErr = err
		}
	})
	return p.stopErr
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// loopProcess adapts an in-process worker.Loop to the Process surface. Used
// by Attach: same protocol, no process boundary.
type loopProcess struct {
	loop *worker.Loop
}

func (p loopProcess) RequestStop() error {
	p.loop.RequestClose()
	return nil
}

func (p loopProcess) Done() <-chan struct{} {
	return p.loop.Closed()
}

func (p loopProcess) Err() error {
	return nil
}
