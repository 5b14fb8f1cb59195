// Package protocol implements the binary frame protocol spoken over the
// worker pipe.
//
// A frame is a fixed 14-byte header followed by a variable-length body. The
// receiver reads the header first to learn the body length, then reads exactly
// that many bytes, so frames never split or merge on the byte stream.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...   │
//	│ mpw  │01│  │  │ uint32  │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Seq is assigned by the controller, strictly increasing from 1, and echoed
// verbatim by the worker in the matching reply. Delivery is FIFO on each
// direction, so seq carries no routing information; it exists to turn a broken
// ordering invariant into a detectable fault instead of a silently misrouted
// result.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "mpw" identify a frame stream. Anything else on the pipe (a
// stray print to stdout inside the worker, typically) is rejected up front.
const (
	MagicByte1 byte = 0x6d // 'm'
	MagicByte2 byte = 0x70 // 'p'
	MagicByte3 byte = 0x77 // 'w'
	Version    byte = 0x01
	HeaderSize int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)
)

// MsgType distinguishes the two frame directions.
type MsgType byte

const (
	MsgTypeRequest MsgType = 0 // controller → worker call request
	MsgTypeReply   MsgType = 1 // worker → controller call reply
)

// Codec type constants, mirrored from the codec package to avoid a circular
// import.
const (
	CodecTypeGob  byte = 0
	CodecTypeJSON byte = 1
)

// Header is the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // serialization format: 0=gob, 1=JSON
	MsgType   MsgType // request or reply
	Seq       uint32  // request sequence, echoed in the reply
	BodyLen   uint32  // body length in bytes
}

// Encode writes a complete frame (header + body) to w. Callers sharing a
// writer across goroutines must serialize calls, or frames will interleave
// and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)

	copy(buf[0:3], []byte{MagicByte1, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads one complete frame from r, validating the magic, version,
// codec type, and message type. io.ReadFull guarantees exactly HeaderSize and
// BodyLen bytes are consumed, never a partial frame.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeGob && headerBuf[4] != CodecTypeJSON {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeReply) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
