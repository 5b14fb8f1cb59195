package transport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dustyrockpyle/mpworker/codec"
	"github.com/dustyrockpyle/mpworker/message"
	"github.com/dustyrockpyle/mpworker/protocol"
)

// endpointPair wires two endpoints back to back over in-memory pipes, the way
// the controller and worker share the stdin/stdout pair.
func endpointPair(t *testing.T) (a, b *Endpoint) {
	t.Helper()
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()
	a = NewEndpoint(aR, aW, codec.CodecTypeGob)
	b = NewEndpoint(bR, bW, codec.CodecTypeGob)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := endpointPair(t)

	req := &message.Request{Name: "Increment", Args: []any{5}}
	if err := a.SendRequest(42, req); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	f, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if f.Header.Seq != 42 {
		t.Errorf("Seq mismatch: got %d, want 42", f.Header.Seq)
	}
	if f.Header.MsgType != protocol.MsgTypeRequest {
		t.Errorf("MsgType mismatch: got %d", f.Header.MsgType)
	}

	decoded, err := b.DecodeRequest(f)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if decoded.Name != "Increment" || decoded.Args[0] != 5 {
		t.Errorf("request mismatch: got %#v", decoded)
	}
}

func TestPollTimeout(t *testing.T) {
	_, b := endpointPair(t)

	start := time.Now()
	ready, err := b.Poll(30 * time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if ready {
		t.Error("Poll reported a frame on a quiet stream")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Poll returned before the timeout: %v", elapsed)
	}
}

func TestPollPeeksWithoutConsuming(t *testing.T) {
	a, b := endpointPair(t)

	if err := a.SendReply(7, &message.Reply{Value: "ok"}); err != nil {
		t.Fatalf("SendReply failed: %v", err)
	}

	// Poll any number of times: the frame stays queued until Recv takes it.
	for i := 0; i < 3; i++ {
		ready, err := b.Poll(time.Second)
		if err != nil {
			t.Fatalf("Poll %d failed: %v", i, err)
		}
		if !ready {
			t.Fatalf("Poll %d did not see the frame", i)
		}
	}

	f, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if f.Header.Seq != 7 {
		t.Errorf("Seq mismatch: got %d, want 7", f.Header.Seq)
	}

	ready, err := b.Poll(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Poll after Recv failed: %v", err)
	}
	if ready {
		t.Error("frame was delivered twice")
	}
}

func TestFIFOOrderPreserved(t *testing.T) {
	a, b := endpointPair(t)

	for seq := uint32(1); seq <= 5; seq++ {
		if err := a.SendRequest(seq, &message.Request{Name: "Ping"}); err != nil {
			t.Fatalf("SendRequest %d failed: %v", seq, err)
		}
	}

	for want := uint32(1); want <= 5; want++ {
		f, err := b.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if f.Header.Seq != want {
			t.Fatalf("out of order: got seq %d, want %d", f.Header.Seq, want)
		}
	}
}

func TestBufferedFramesSurviveClose(t *testing.T) {
	a, b := endpointPair(t)

	for seq := uint32(1); seq <= 3; seq++ {
		if err := a.SendReply(seq, &message.Reply{Value: int(seq)}); err != nil {
			t.Fatalf("SendReply %d failed: %v", seq, err)
		}
	}
	// Give the receive goroutine time to buffer, then drop the peer.
	time.Sleep(50 * time.Millisecond)
	a.Close()

	for want := uint32(1); want <= 3; want++ {
		f, err := b.Recv()
		if err != nil {
			t.Fatalf("Recv %d failed after peer close: %v", want, err)
		}
		if f.Header.Seq != want {
			t.Errorf("Seq mismatch: got %d, want %d", f.Header.Seq, want)
		}
	}

	if _, err := b.Recv(); err == nil {
		t.Fatal("expected error once the stream is drained")
	}
	if err := b.Err(); !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected pipe-closed error, got: %v", err)
	}
}

func TestEncodeFailureLeavesStreamClean(t *testing.T) {
	a, b := endpointPair(t)

	err := a.SendRequest(1, &message.Request{Name: "Bad", Args: []any{make(chan int)}})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got: %v", err)
	}

	// Nothing touched the stream, so the next frame parses normally.
	if err := a.SendRequest(2, &message.Request{Name: "Good"}); err != nil {
		t.Fatalf("SendRequest after encode failure: %v", err)
	}
	f, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if f.Header.Seq != 2 {
		t.Errorf("Seq mismatch: got %d, want 2", f.Header.Seq)
	}
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	a, b := endpointPair(t)

	const n = 10
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(seq uint32) {
			defer wg.Done()
			if err := a.SendRequest(seq, &message.Request{Name: "Ping", Args: []any{int(seq)}}); err != nil {
				t.Errorf("SendRequest %d failed: %v", seq, err)
			}
		}(uint32(i))
	}

	seen := make(map[uint32]bool)
	for i := 0; i < n; i++ {
		f, err := b.Recv()
		if err != nil {
			t.Fatalf("Recv %d failed: %v", i, err)
		}
		req, err := b.DecodeRequest(f)
		if err != nil {
			t.Fatalf("frame %d corrupted: %v", i, err)
		}
		if req.Args[0] != int(f.Header.Seq) {
			t.Errorf("header/body mismatch: seq %d carries %v", f.Header.Seq, req.Args[0])
		}
		seen[f.Header.Seq] = true
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d distinct frames, got %d", n, len(seen))
	}
}
