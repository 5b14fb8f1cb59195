// Package transport implements one side of the duplex channel between the
// controller and the worker process.
//
// An Endpoint wraps the raw reader/writer pair (in practice the two halves of
// the stdin/stdout pipes) and runs a background receive goroutine that parses
// frames off the stream into an in-memory queue:
//
//	Send ──frame──→ pipe ──→ peer
//	recvLoop: pipe ──frame──→ frames chan ──→ Poll / Recv
//
// A single goroutine reads the stream — frame boundaries only parse when reads
// are sequential. Poll is a peek: it reports whether a frame is available
// without consuming it, so callers can re-check shutdown signals between
// noticing traffic and committing to read it. Per-direction FIFO order is
// preserved end to end: frames leave the channel in the order they were
// written.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dustyrockpyle/mpworker/codec"
	"github.com/dustyrockpyle/mpworker/message"
	"github.com/dustyrockpyle/mpworker/protocol"
)

// ErrEncode marks a payload that could not be serialized. The frame was never
// written, so the stream is still clean and the endpoint remains usable.
var ErrEncode = errors.New("transport: payload not serializable")

// Frame is one received frame, body not yet decoded.
type Frame struct {
	Header *protocol.Header
	Body   []byte
}

// Endpoint is one side of the duplex channel.
type Endpoint struct {
	r io.Reader
	w io.Writer
	c codec.Codec

	sending sync.Mutex // serializes frame writes, same as sharing any conn

	frames chan *Frame

	pollMu sync.Mutex
	head   *Frame // peeked by Poll, not yet consumed by Recv

	errMu   sync.Mutex
	recvErr error

	closeOnce sync.Once
	closeErr  error
}

// NewEndpoint creates an endpoint over the given reader/writer pair and
// starts the receive goroutine.
func NewEndpoint(r io.Reader, w io.Writer, codecType codec.CodecType) *Endpoint {
	e := &Endpoint{
		r:      r,
		w:      w,
		c:      codec.GetCodec(codecType),
		frames: make(chan *Frame, 16),
	}
	go e.recvLoop()
	return e
}

// Send encodes v and writes it as a single frame. Encoding failures are
// reported as ErrEncode before anything touches the stream; write failures
// mean the pipe itself is broken.
func (e *Endpoint) Send(msgType protocol.MsgType, seq uint32, v any) error {
	body, err := e.c.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}

	header := protocol.Header{
		CodecType: byte(e.c.Type()),
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	e.sending.Lock()
	defer e.sending.Unlock()
	return protocol.Encode(e.w, &header, body)
}

// SendRequest sends a call request frame.
func (e *Endpoint) SendRequest(seq uint32, req *message.Request) error {
	return e.Send(protocol.MsgTypeRequest, seq, req)
}

// SendReply sends a call reply frame.
func (e *Endpoint) SendReply(seq uint32, rep *message.Reply) error {
	return e.Send(protocol.MsgTypeReply, seq, rep)
}

// Poll reports whether a frame is available, waiting up to timeout for one to
// arrive. It never consumes the frame; a subsequent Recv returns it. Once the
// stream has failed and every buffered frame has been drained, Poll returns
// the receive error.
func (e *Endpoint) Poll(timeout time.Duration) (bool, error) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	if e.head != nil {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-e.frames:
		if !ok {
			return false, e.Err()
		}
		e.head = f
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// Recv consumes the next frame, blocking until one arrives or the stream
// fails.
func (e *Endpoint) Recv() (*Frame, error) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	if e.head != nil {
		f := e.head
		e.head = nil
		return f, nil
	}

	f, ok := <-e.frames
	if !ok {
		return nil, e.Err()
	}
	return f, nil
}

// DecodeRequest decodes a request frame's body using the codec named in its
// header.
func (e *Endpoint) DecodeRequest(f *Frame) (*message.Request, error) {
	var req message.Request
	c := codec.GetCodec(codec.CodecType(f.Header.CodecType))
	if err := c.Decode(f.Body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeReply decodes a reply frame's body using the codec named in its
// header.
func (e *Endpoint) DecodeReply(f *Frame) (*message.Reply, error) {
	var rep message.Reply
	c := codec.GetCodec(codec.CodecType(f.Header.CodecType))
	if err := c.Decode(f.Body, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Err returns the receive-side error, set once the stream has failed.
// io.EOF means the peer closed its end cleanly.
func (e *Endpoint) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.recvErr
}

// Close closes both halves of the pipe (where closable). The receive
// goroutine then fails its blocking read and drains out.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		if c, ok := e.r.(io.Closer); ok {
			e.closeErr = multierr.Append(e.closeErr, c.Close())
		}
		if c, ok := e.w.(io.Closer); ok {
			e.closeErr = multierr.Append(e.closeErr, c.Close())
		}
	})
	return e.closeErr
}

// recvLoop is the single stream reader. On any decode or read error it
// records the error and closes the frame channel; frames already buffered
// remain consumable so no delivered reply is ever lost to a later failure.
func (e *Endpoint) recvLoop() {
	for {
		header, body, err := protocol.Decode(e.r)
		if err != nil {
			e.errMu.Lock()
			e.recvErr = err
			e.errMu.Unlock()
			close(e.frames)
			return
		}
		e.frames <- &Frame{Header: header, Body: body}
	}
}
