// Package wire implements the framed request/reply protocol spoken between a
// fetching peer and a serving peer over a raw byte-stream socket.
//
// Exchange:
//
//	client -> server: int32 len | request body
//	server -> client: int32 len | reply body
//	on ReplyOK:       int64 size | size raw bytes
//
// All integers are big-endian. Bodies are CBOR arrays of [code, data]. The
// codec reads and writes the streams it is given and never closes them.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/imdevinc/netinf-node/internal/transfer"
)

const (
	// MaxMessageSize bounds a request or reply body.
	MaxMessageSize = 64 * 1024

	// DefaultPayloadLimit bounds a payload when the caller passes no limit.
	DefaultPayloadLimit = 1 << 30

	readBufferSize = 32 * 1024
	maxEmptyReads  = 100
)

// Code identifies the kind of message.
type Code uint8

const (
	CodeRequest    Code = 1
	CodeReplyOK    Code = 2
	CodeReplyError Code = 3
)

func (c Code) String() string {
	switch c {
	case CodeRequest:
		return "REQUEST"
	case CodeReplyOK:
		return "REPLY_OK"
	case CodeReplyError:
		return "REPLY_ERROR"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

func (c Code) valid() bool {
	return c >= CodeRequest && c <= CodeReplyError
}

// Message is a request or reply record. Requests carry the content hash in
// Data, replies carry a status string.
type Message struct {
	_    struct{} `cbor:",toarray"`
	Code Code
	Data string
}

// NewRequest builds a request for the given hash.
func NewRequest(hash string) Message {
	return Message{Code: CodeRequest, Data: hash}
}

// NewReply builds a reply with the given status.
func NewReply(ok bool, status string) Message {
	if ok {
		return Message{Code: CodeReplyOK, Data: status}
	}
	return Message{Code: CodeReplyError, Data: status}
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to build cbor encoder: %v", err))
	}
	encMode = em
}

// Marshal serializes the message body.
func Marshal(m Message) ([]byte, error) {
	if !m.Code.valid() {
		return nil, fmt.Errorf("%w: invalid message code %d", transfer.ErrProtocol, m.Code)
	}
	return encMode.Marshal(m)
}

// Unmarshal parses a message body.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: malformed message body: %v", transfer.ErrProtocol, err)
	}
	if !m.Code.valid() {
		return Message{}, fmt.Errorf("%w: invalid message code %d", transfer.ErrProtocol, m.Code)
	}
	return m, nil
}

// WriteMessage writes one length-prefixed message frame.
func WriteMessage(w io.Writer, m Message) error {
	body, err := Marshal(m)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", m.Code, err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message frame.
func ReadMessage(r io.Reader) (Message, error) {
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Message{}, readErr("message length", err)
	}
	if length < 0 || length > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: message length %d out of range", transfer.ErrProtocol, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, readErr("message body", err)
	}
	return Unmarshal(body)
}

// WritePayload writes the size-prefixed payload that follows a ReplyOK.
func WritePayload(w io.Writer, data []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write payload size: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// ReadPayload reads the size prefix and then accumulates exactly that many
// bytes, tolerating arbitrarily short reads. It stops at the declared size
// and does not wait for end of stream. limit <= 0 means DefaultPayloadLimit.
func ReadPayload(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}

	var size int64
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, readErr("payload size", err)
	}
	if size < 0 || size > limit {
		return nil, fmt.Errorf("%w: payload size %d out of range", transfer.ErrProtocol, size)
	}

	initial := size
	if initial > readBufferSize {
		initial = readBufferSize
	}
	buf := make([]byte, 0, initial)
	tmp := make([]byte, readBufferSize)
	empty := 0

	for int64(len(buf)) < size {
		want := size - int64(len(buf))
		if want > int64(len(tmp)) {
			want = int64(len(tmp))
		}
		n, err := r.Read(tmp[:want])
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			empty = 0
		}
		if err != nil {
			if int64(len(buf)) == size {
				break
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: received %d of %d payload bytes", transfer.ErrTruncated, len(buf), size)
			}
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return nil, fmt.Errorf("failed to read payload: %w", io.ErrNoProgress)
			}
		}
	}

	return buf, nil
}

func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short %s", transfer.ErrTruncated, what)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}
