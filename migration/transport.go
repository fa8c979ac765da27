// This file implements the framed binary transport used to stream
// migration data between the source and destination over a TCP connection
// or into a snapshot file.
//
// Wire format for each message:
//
//	[4-byte big-endian type][8-byte big-endian payload length][payload bytes]
//
// A stream is Hello, full memory, Snapshot, Done. Over TCP the receiver
// answers with Ready once the machine runs.
package migration

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// maxPayload bounds a single message; guest memory is at most 4GiB.
const maxPayload = 1 << 32

// Version is the stream format written by this package.
const Version = 1

var (
	errPayloadTooLarge = errors.New("payload too large")
	errVersion         = errors.New("unsupported stream version")
	errMismatch        = errors.New("machine mismatch")
)

// MsgType identifies a migration protocol message.
type MsgType uint32

const (
	MsgSnapshot   MsgType = 1 // gob-encoded Snapshot (no memory)
	MsgMemoryFull MsgType = 2 // raw guest memory (full copy)
	MsgDone       MsgType = 4 // source signals end-of-migration
	MsgReady      MsgType = 5 // destination confirms it is running
	MsgHello      MsgType = 6 // gob-encoded Hello, first message of a stream
)

func (t MsgType) String() string {
	switch t {
	case MsgSnapshot:
		return "snapshot"
	case MsgMemoryFull:
		return "memory"
	case MsgDone:
		return "done"
	case MsgReady:
		return "ready"
	case MsgHello:
		return "hello"
	}

	return fmt.Sprintf("MsgType(%d)", uint32(t))
}

// Sender writes framed messages to an underlying writer (typically a TCP conn).
type Sender struct {
	w io.Writer
}

// NewSender wraps w as a migration Sender.
func NewSender(w io.Writer) *Sender { return &Sender{w: w} }

// send writes a single framed message.
func (s *Sender) send(t MsgType, payload []byte) error {
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(payload)))

	if _, err := s.w.Write(hdr); err != nil {
		return fmt.Errorf("send header: %w", err)
	}

	if len(payload) > 0 {
		if _, err := s.w.Write(payload); err != nil {
			return fmt.Errorf("send payload: %w", err)
		}
	}

	return nil
}

func (s *Sender) sendGob(t MsgType, v any) error {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode %v: %w", t, err)
	}

	return s.send(t, buf.Bytes())
}

// SendHello announces the machine the rest of the stream describes.
func (s *Sender) SendHello(h *Hello) error {
	return s.sendGob(MsgHello, h)
}

// SendSnapshot encodes snap with gob and sends it as a MsgSnapshot.
func (s *Sender) SendSnapshot(snap *Snapshot) error {
	return s.sendGob(MsgSnapshot, snap)
}

// SendMemoryFull sends the raw memory bytes (full copy).
func (s *Sender) SendMemoryFull(mem []byte) error {
	return s.send(MsgMemoryFull, mem)
}

// SendDone signals the end of the migration stream.
func (s *Sender) SendDone() error { return s.send(MsgDone, nil) }

// SendReady signals that the destination machine is running.
func (s *Sender) SendReady() error { return s.send(MsgReady, nil) }

// Receiver reads framed messages from an underlying reader.
type Receiver struct {
	r io.Reader
}

// NewReceiver wraps r as a migration Receiver.
func NewReceiver(r io.Reader) *Receiver { return &Receiver{r: r} }

// Next reads the next message header and returns the type and full payload.
func (r *Receiver) Next() (MsgType, []byte, error) {
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	t := MsgType(binary.BigEndian.Uint32(hdr[0:4]))
	length := binary.BigEndian.Uint64(hdr[4:12])

	if length == 0 {
		return t, nil, nil
	}

	if length > maxPayload {
		return 0, nil, fmt.Errorf("%v of %d bytes: %w", t, length, errPayloadTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload (type=%d len=%d): %w", t, length, err)
	}

	return t, payload, nil
}

// DecodeSnapshot decodes a gob-encoded Snapshot from payload bytes.
func DecodeSnapshot(payload []byte) (*Snapshot, error) {
	snap := &Snapshot{}

	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return snap, nil
}

// Hello opens every stream so a receiver can refuse a machine it cannot
// hold before any memory is transferred.
type Hello struct {
	Version int
	Model   string
	NCPUs   int
	MemSize int
}

// DecodeHello decodes a gob-encoded Hello and checks its version.
func DecodeHello(payload []byte) (*Hello, error) {
	h := &Hello{}

	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(h); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}

	if h.Version != Version {
		return nil, fmt.Errorf("version %d: %w", h.Version, errVersion)
	}

	return h, nil
}

// Check reports whether the announced machine matches the local one.
func (h *Hello) Check(model string, nCPUs, memSize int) error {
	if h.Model != model || h.NCPUs != nCPUs || h.MemSize != memSize {
		return fmt.Errorf("stream has %s x%d with %d bytes, machine has %s x%d with %d bytes: %w",
			h.Model, h.NCPUs, h.MemSize, model, nCPUs, memSize, errMismatch)
	}

	return nil
}
