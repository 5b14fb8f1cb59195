package worker

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dustyrockpyle/mpworker/codec"
	"github.com/dustyrockpyle/mpworker/message"
	"github.com/dustyrockpyle/mpworker/protocol"
	"github.com/dustyrockpyle/mpworker/proxy"
	"github.com/dustyrockpyle/mpworker/transport"
)

type adder struct {
	Total int
}

func newAdder(start int) *adder {
	return &adder{Total: start}
}

func (a *adder) Add(n int) int {
	a.Total += n
	return a.Total
}

func (a *adder) Untransmissible() chan int {
	return make(chan int)
}

func (a *adder) SlowAdd(n int, ms int) int {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	a.Total += n
	return a.Total
}

func init() {
	proxy.MustRegister("loop_adder", newAdder)
	proxy.MustRegister("loop_refuser", func() (*adder, error) {
		return nil, errors.New("refusing to construct")
	})
}

// startLoop runs a loop over in-memory pipes and returns the controller-side
// endpoint. The short poll interval keeps close-path tests fast.
func startLoop(t *testing.T) (*transport.Endpoint, *Loop) {
	t.Helper()
	toWorkerR, toWorkerW := io.Pipe()
	toCtrlR, toCtrlW := io.Pipe()

	loop := NewLoop(
		transport.NewEndpoint(toWorkerR, toCtrlW, codec.CodecTypeGob),
		WithPollInterval(20*time.Millisecond),
	)
	go loop.Run()

	ctrl := transport.NewEndpoint(toCtrlR, toWorkerW, codec.CodecTypeGob)
	t.Cleanup(func() {
		ctrl.Close()
		loop.RequestClose()
		waitClosed(t, loop)
	})
	return ctrl, loop
}

func waitClosed(t *testing.T, loop *Loop) {
	t.Helper()
	select {
	case <-loop.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not close in time")
	}
}

func construct(t *testing.T, ctrl *transport.Endpoint, typeName string, args ...any) *message.Reply {
	t.Helper()
	req := &message.Request{Name: message.ConstructName, Args: append([]any{typeName}, args...)}
	if err := ctrl.SendRequest(1, req); err != nil {
		t.Fatalf("sending construct request: %v", err)
	}
	return recvReply(t, ctrl, 1)
}

func recvReply(t *testing.T, ctrl *transport.Endpoint, wantSeq uint32) *message.Reply {
	t.Helper()
	f, err := ctrl.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if f.Header.MsgType != protocol.MsgTypeReply {
		t.Fatalf("expected a reply frame, got type %d", f.Header.MsgType)
	}
	if f.Header.Seq != wantSeq {
		t.Fatalf("reply out of order: got seq %d, want %d", f.Header.Seq, wantSeq)
	}
	rep, err := ctrl.DecodeReply(f)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	return rep
}

func TestConstructAndDispatch(t *testing.T) {
	ctrl, _ := startLoop(t)

	rep := construct(t, ctrl, "loop_adder", 10)
	if rep.Fault != nil {
		t.Fatalf("construction faulted: %v", rep.Fault)
	}
	if rep.Value != true {
		t.Errorf("construct reply value: got %v, want true", rep.Value)
	}

	if err := ctrl.SendRequest(2, &message.Request{Name: "Add", Args: []any{5}}); err != nil {
		t.Fatalf("sending Add: %v", err)
	}
	rep = recvReply(t, ctrl, 2)
	if rep.Fault != nil {
		t.Fatalf("Add faulted: %v", rep.Fault)
	}
	if rep.Value != 15 {
		t.Errorf("Add reply: got %v, want 15", rep.Value)
	}
}

func TestRepliesFollowReceiptOrder(t *testing.T) {
	ctrl, _ := startLoop(t)

	if rep := construct(t, ctrl, "loop_adder", 0); rep.Fault != nil {
		t.Fatalf("construction faulted: %v", rep.Fault)
	}

	for seq := uint32(2); seq <= 6; seq++ {
		if err := ctrl.SendRequest(seq, &message.Request{Name: "Add", Args: []any{1}}); err != nil {
			t.Fatalf("sending Add %d: %v", seq, err)
		}
	}
	for seq := uint32(2); seq <= 6; seq++ {
		rep := recvReply(t, ctrl, seq)
		if rep.Value != int(seq)-1 {
			t.Errorf("seq %d reply: got %v, want %d", seq, rep.Value, seq-1)
		}
	}
}

func TestConstructUnknownType(t *testing.T) {
	ctrl, loop := startLoop(t)

	rep := construct(t, ctrl, "loop_never_registered")
	if rep.Fault == nil {
		t.Fatal("expected a construction fault")
	}
	waitClosed(t, loop)
}

func TestConstructorFailureReported(t *testing.T) {
	ctrl, loop := startLoop(t)

	rep := construct(t, ctrl, "loop_refuser")
	if rep.Fault == nil {
		t.Fatal("expected a construction fault")
	}
	if rep.Fault.Message == "" || rep.Fault.Type == "" {
		t.Errorf("fault should carry type and message, got %#v", rep.Fault)
	}
	// A failed construction ends the worker.
	waitClosed(t, loop)
}

func TestDispatchFaultKeepsServing(t *testing.T) {
	ctrl, _ := startLoop(t)

	if rep := construct(t, ctrl, "loop_adder", 0); rep.Fault != nil {
		t.Fatalf("construction faulted: %v", rep.Fault)
	}

	if err := ctrl.SendRequest(2, &message.Request{Name: "Missing"}); err != nil {
		t.Fatalf("sending unknown method: %v", err)
	}
	if rep := recvReply(t, ctrl, 2); rep.Fault == nil {
		t.Error("expected a fault for an unknown method")
	}

	if err := ctrl.SendRequest(3, &message.Request{Name: "Add", Args: []any{2}}); err != nil {
		t.Fatalf("sending Add after fault: %v", err)
	}
	if rep := recvReply(t, ctrl, 3); rep.Fault != nil || rep.Value != 2 {
		t.Errorf("loop stopped serving after a fault: %#v", rep)
	}
}

func TestUntransmissibleResultBecomesFault(t *testing.T) {
	ctrl, _ := startLoop(t)

	if rep := construct(t, ctrl, "loop_adder", 0); rep.Fault != nil {
		t.Fatalf("construction faulted: %v", rep.Fault)
	}

	if err := ctrl.SendRequest(2, &message.Request{Name: "Untransmissible"}); err != nil {
		t.Fatalf("sending: %v", err)
	}
	// The channel result cannot be encoded; the one-reply contract still
	// holds, carried by a fault.
	rep := recvReply(t, ctrl, 2)
	if rep.Fault == nil {
		t.Fatal("expected a fault for a non-transmissible result")
	}
}

func TestCloseWithoutTraffic(t *testing.T) {
	_, loop := startLoop(t)

	loop.RequestClose()
	loop.RequestClose() // idempotent
	waitClosed(t, loop)
}

func TestCloseDuringService(t *testing.T) {
	ctrl, loop := startLoop(t)

	if rep := construct(t, ctrl, "loop_adder", 0); rep.Fault != nil {
		t.Fatalf("construction faulted: %v", rep.Fault)
	}

	loop.RequestClose()
	waitClosed(t, loop)

	select {
	case <-loop.Closed():
	default:
		t.Error("Closed must stay closed")
	}
}

func TestCloseDropsReadyFrame(t *testing.T) {
	ctrl, loop := startLoop(t)

	if rep := construct(t, ctrl, "loop_adder", 0); rep.Fault != nil {
		t.Fatalf("construction faulted: %v", rep.Fault)
	}

	// Occupy the loop with a slow dispatch, then land another request and
	// the close signal while it is busy. When the dispatch finishes, close
	// wins: the buffered frame is dropped without being read, never served.
	if err := ctrl.SendRequest(2, &message.Request{Name: "SlowAdd", Args: []any{1, 200}}); err != nil {
		t.Fatalf("sending SlowAdd: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := ctrl.SendRequest(3, &message.Request{Name: "Add", Args: []any{1}}); err != nil {
		t.Fatalf("sending Add: %v", err)
	}
	loop.RequestClose()

	// The in-flight call still gets its reply.
	rep := recvReply(t, ctrl, 2)
	if rep.Fault != nil || rep.Value != 1 {
		t.Errorf("in-flight call reply: %#v", rep)
	}
	waitClosed(t, loop)

	// The loop closed its endpoint on exit; the only thing left on the wire
	// is EOF, not a reply to the dropped request.
	if f, err := ctrl.Recv(); err == nil {
		t.Fatalf("dropped request was served: got reply seq %d", f.Header.Seq)
	}
}

func TestControllerGoneIsCleanExit(t *testing.T) {
	ctrl, loop := startLoop(t)

	if rep := construct(t, ctrl, "loop_adder", 0); rep.Fault != nil {
		t.Fatalf("construction faulted: %v", rep.Fault)
	}

	// Dropping the controller's end of the pipe reads as EOF on the worker
	// side and ends the loop without an error path.
	ctrl.Close()
	waitClosed(t, loop)
}
