package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/imdevinc/netinf-node/internal/transfer"
)

func TestMessageRoundTrip(t *testing.T) {
	messages := []Message{
		NewRequest("f4OxZX_x_FO5LcGBSKHWXfwtSx-j1ncoSt3SABJtkGk"),
		NewRequest(""),
		NewReply(true, "ok"),
		NewReply(false, "not found"),
		NewReply(false, ""),
		NewRequest(strings.Repeat("x", 4096)),
		NewRequest("ünïcødé;hash"),
	}

	for _, m := range messages {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, m); err != nil {
			t.Fatalf("WriteMessage(%v) failed: %v", m.Code, err)
		}

		length := binary.BigEndian.Uint32(buf.Bytes()[:4])
		if int(length) != buf.Len()-4 {
			t.Errorf("length prefix %d does not match body %d", length, buf.Len()-4)
		}

		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if got != m {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
		}
		if buf.Len() != 0 {
			t.Errorf("%d unread bytes left after frame", buf.Len())
		}
	}
}

func TestMarshalRejectsInvalidCode(t *testing.T) {
	if _, err := Marshal(Message{Code: 0, Data: "x"}); !errors.Is(err, transfer.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if err := WriteMessage(io.Discard, Message{Code: 9}); !errors.Is(err, transfer.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestReadMessageMalformed(t *testing.T) {
	frame := func(body []byte) *bytes.Reader {
		b := make([]byte, 4+len(body))
		binary.BigEndian.PutUint32(b, uint32(len(body)))
		copy(b[4:], body)
		return bytes.NewReader(b)
	}

	t.Run("Garbage", func(t *testing.T) {
		_, err := ReadMessage(frame([]byte("garbage")))
		if !errors.Is(err, transfer.ErrProtocol) {
			t.Fatalf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("EmptyBody", func(t *testing.T) {
		_, err := ReadMessage(frame(nil))
		if !errors.Is(err, transfer.ErrProtocol) {
			t.Fatalf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("NegativeLength", func(t *testing.T) {
		b := []byte{0xff, 0xff, 0xff, 0xfe}
		_, err := ReadMessage(bytes.NewReader(b))
		if !errors.Is(err, transfer.ErrProtocol) {
			t.Fatalf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, MaxMessageSize+1)
		_, err := ReadMessage(bytes.NewReader(b))
		if !errors.Is(err, transfer.ErrProtocol) {
			t.Fatalf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("TruncatedBody", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, NewRequest("abcdef")); err != nil {
			t.Fatal(err)
		}
		short := buf.Bytes()[:buf.Len()-2]
		_, err := ReadMessage(bytes.NewReader(short))
		if !errors.Is(err, transfer.ErrTruncated) {
			t.Fatalf("expected ErrTruncated, got %v", err)
		}
	})

	t.Run("TruncatedLength", func(t *testing.T) {
		_, err := ReadMessage(bytes.NewReader([]byte{0, 0}))
		if !errors.Is(err, transfer.ErrTruncated) {
			t.Fatalf("expected ErrTruncated, got %v", err)
		}
	})
}

func TestPayloadOneByteReads(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, size := range []int{0, 1, 7, readBufferSize - 1, readBufferSize + 13, 200 * 1024} {
		data := make([]byte, size)
		r.Read(data)

		var buf bytes.Buffer
		if err := WritePayload(&buf, data); err != nil {
			t.Fatalf("WritePayload failed: %v", err)
		}

		got, err := ReadPayload(iotest.OneByteReader(&buf), 0)
		if err != nil {
			t.Fatalf("ReadPayload(size=%d) failed: %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("payload mismatch for size %d", size)
		}
	}
}

func TestPayloadStopsAtDeclaredSize(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePayload(&buf, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("trailing bytes that belong to someone else")

	got, err := ReadPayload(iotest.HalfReader(&buf), 0)
	if err != nil {
		t.Fatalf("ReadPayload failed: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if !strings.HasPrefix(buf.String(), "trailing") {
		t.Fatalf("reader consumed past payload: %q", buf.String())
	}
}

// dataErrReader returns the final bytes together with io.EOF.
type dataErrReader struct {
	r io.Reader
}

func (d *dataErrReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == nil && n > 0 {
		if br, ok := d.r.(*bytes.Reader); ok && br.Len() == 0 {
			return n, io.EOF
		}
	}
	return n, err
}

func TestPayloadDataWithEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePayload(&buf, []byte("exact")); err != nil {
		t.Fatal(err)
	}
	got, err := ReadPayload(&dataErrReader{r: bytes.NewReader(buf.Bytes())}, 0)
	if err != nil {
		t.Fatalf("ReadPayload failed: %v", err)
	}
	if string(got) != "exact" {
		t.Fatalf("expected exact, got %q", got)
	}
}

func TestPayloadTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePayload(&buf, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	short := buf.Bytes()[:buf.Len()-3]

	_, err := ReadPayload(bytes.NewReader(short), 0)
	if !errors.Is(err, transfer.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestPayloadLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePayload(&buf, make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	_, err := ReadPayload(&buf, 10)
	if !errors.Is(err, transfer.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestPayloadReadError(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePayload(&buf, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	injected := errors.New("connection reset")
	r := io.MultiReader(bytes.NewReader(buf.Bytes()[:12]), iotest.ErrReader(injected))

	_, err := ReadPayload(r, 0)
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}
}
