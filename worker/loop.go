// Package worker runs the process-side half of the protocol: it owns the one
// proxied instance and serves call requests against it, strictly one at a
// time, in receipt order.
//
// Lifecycle:
//
//	construct phase:  first request must be __init__ → build instance →
//	                  first reply reports success or the construction fault
//	serve phase:      poll → (re-check close) → recv → dispatch → reply,
//	                  until close-requested
//	exit:             mark worker-closed exactly once
//
// The poll timeout bounds how long a quiet worker goes between close-signal
// checks. When a frame becomes ready in the same window a close is requested,
// the close wins and the frame is dropped unread; the controller's teardown
// path fails the corresponding pending call.
package worker

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dustyrockpyle/mpworker/message"
	"github.com/dustyrockpyle/mpworker/protocol"
	"github.com/dustyrockpyle/mpworker/proxy"
	"github.com/dustyrockpyle/mpworker/transport"
)

// DefaultPollInterval bounds the latency between close-signal checks when no
// traffic arrives.
const DefaultPollInterval = time.Second

type Option func(*Loop)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.pollInterval = d }
}

// Loop is the worker's message loop.
type Loop struct {
	ep           *transport.Endpoint
	logger       *zap.Logger
	pollInterval time.Duration

	closeReq  chan struct{}
	closeOnce sync.Once

	closed     chan struct{}
	closedOnce sync.Once
}

func NewLoop(ep *transport.Endpoint, opts ...Option) *Loop {
	l := &Loop{
		ep:           ep,
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
		closeReq:     make(chan struct{}),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RequestClose delivers the close-requested signal. One-shot and idempotent;
// it never reverts.
func (l *Loop) RequestClose() {
	l.closeOnce.Do(func() { close(l.closeReq) })
}

// Closed is the worker-closed signal: closed exactly once, when the loop has
// exited and will never send again.
func (l *Loop) Closed() <-chan struct{} {
	return l.closed
}

func (l *Loop) closeRequested() bool {
	select {
	case <-l.closeReq:
		return true
	default:
		return false
	}
}

// Run executes the loop until close is requested or the transport fails.
// Construction faults are reported to the controller as the first reply and
// end the worker cleanly; only transport-level failures return an error.
func (l *Loop) Run() error {
	defer l.markClosed()

	inst, err := l.construct()
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}
	return l.serve(inst)
}

// construct handles the mandatory first request. A nil, nil return means the
// worker should exit cleanly: close requested before construction, the
// controller went away, or construction failed (already reported as the
// first reply).
func (l *Loop) construct() (*proxy.Instance, error) {
	f, err := l.waitFrame()
	if err != nil || f == nil {
		return nil, err
	}
	seq := f.Header.Seq

	req, err := l.ep.DecodeRequest(f)
	if err != nil {
		return nil, l.reply(seq, &message.Reply{Fault: message.CaptureFault(err)})
	}
	if req.Name != message.ConstructName || len(req.Args) < 1 {
		err := errors.New("worker: first request must be " + message.ConstructName)
		if rerr := l.reply(seq, &message.Reply{Fault: message.CaptureFault(err)}); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}
	typeName, ok := req.Args[0].(string)
	if !ok {
		err := errors.New("worker: malformed construct request")
		if rerr := l.reply(seq, &message.Reply{Fault: message.CaptureFault(err)}); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}

	t, found := proxy.Lookup(typeName)
	if !found {
		err := errors.New("worker: type not registered: " + typeName)
		l.logger.Error("unknown proxy type", zap.String("type", typeName))
		return nil, l.reply(seq, &message.Reply{Fault: message.CaptureFault(err)})
	}

	inst, err := t.New(req.Args[1:], req.Kwargs)
	if err != nil {
		l.logger.Warn("construction failed", zap.String("type", typeName), zap.Error(err))
		return nil, l.reply(seq, &message.Reply{Fault: message.CaptureFault(err)})
	}

	if err := l.reply(seq, &message.Reply{Value: true}); err != nil {
		return nil, err
	}
	l.logger.Info("instance constructed", zap.String("type", typeName))
	return inst, nil
}

// serve drains one request at a time and sends exactly one reply per request,
// in receipt order.
func (l *Loop) serve(inst *proxy.Instance) error {
	for {
		f, err := l.waitFrame()
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}

		seq := f.Header.Seq
		if f.Header.MsgType != protocol.MsgTypeRequest {
			l.logger.Warn("unexpected frame type", zap.Uint8("msg_type", uint8(f.Header.MsgType)), zap.Uint32("seq", seq))
			continue
		}

		req, err := l.ep.DecodeRequest(f)
		if err != nil {
			if rerr := l.reply(seq, &message.Reply{Fault: message.CaptureFault(err)}); rerr != nil {
				return rerr
			}
			continue
		}

		result, derr := inst.Dispatch(req)
		rep := &message.Reply{}
		if derr != nil {
			rep.Fault = message.CaptureFault(derr)
		} else {
			rep.Value = result
		}
		l.logger.Debug("dispatched",
			zap.String("op", req.Name),
			zap.Uint32("seq", seq),
			zap.Bool("fault", derr != nil))

		if err := l.reply(seq, rep); err != nil {
			return err
		}
	}
}

// waitFrame polls with the bounded timeout until a frame is ready, close is
// requested, or the transport fails. nil, nil means "exit cleanly": close was
// requested, or the controller closed its end. The close re-check after a
// successful poll is the race guard — a frame that became ready as close was
// requested is dropped, never read.
func (l *Loop) waitFrame() (*transport.Frame, error) {
	for {
		if l.closeRequested() {
			return nil, nil
		}
		ready, err := l.ep.Poll(l.pollInterval)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				l.logger.Info("controller closed the pipe")
				return nil, nil
			}
			return nil, err
		}
		if !ready {
			continue
		}
		if l.closeRequested() {
			l.logger.Debug("close requested with frame pending; dropping")
			return nil, nil
		}
		return l.ep.Recv()
	}
}

// reply sends exactly one reply for seq. A non-transmissible result is
// replaced by a fault reply so the one-reply-per-request contract holds even
// when the payload can't cross the boundary.
func (l *Loop) reply(seq uint32, rep *message.Reply) error {
	err := l.ep.SendReply(seq, rep)
	if errors.Is(err, transport.ErrEncode) {
		l.logger.Warn("reply not transmissible", zap.Uint32("seq", seq), zap.Error(err))
		return l.ep.SendReply(seq, &message.Reply{Fault: message.CaptureFault(err)})
	}
	return err
}

// markClosed raises worker-closed exactly once. Closing the endpoint here
// surfaces EOF to the controller even when no process exit will (the
// in-process Attach mode).
func (l *Loop) markClosed() {
	l.closedOnce.Do(func() {
		_ = l.ep.Close()
		close(l.closed)
		l.logger.Info("worker closed")
	})
}
