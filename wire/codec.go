package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/lanbeam/lanbeam/limits"
)

var (
	// ErrTruncated indicates the stream ended before a complete message
	// could be read. Callers must treat it as a peer disconnect, never
	// as a partial message.
	ErrTruncated = errors.New("truncated message")

	// ErrUnknownTag indicates an unrecognized tag byte: a protocol
	// version mismatch or stream corruption.
	ErrUnknownTag = errors.New("unknown message tag")

	// ErrMalformed indicates a structurally invalid message, such as an
	// implausible declared string length from a hostile peer.
	ErrMalformed = errors.New("malformed message")
)

// WriteMessage encodes m and writes it to w as a single write.
func WriteMessage(w io.Writer, m Message) error {
	buf, err := m.appendTo(make([]byte, 0, 64))
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", m.Tag(), err)
	}
	return nil
}

// ReadMessage reads exactly one message from r. The stream position after a
// successful read is the first byte past the message, so the data phase can
// follow a SEND with no framing in between.
func ReadMessage(r io.Reader) (Message, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, truncated(err)
	}

	switch Tag(tag[0]) {
	case TagHello:
		return readHello(r)
	case TagAck:
		return Ack{}, nil
	case TagNack:
		return readNack(r)
	case TagSend:
		return readSend(r)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tag[0])
	}
}

func readHello(r io.Reader) (Message, error) {
	name, err := readString(r, limits.MaxFileNameBytes)
	if err != nil {
		return nil, fmt.Errorf("HELLO file name: %w", err)
	}
	if len(name) == 0 {
		return nil, fmt.Errorf("%w: empty file name in HELLO", ErrMalformed)
	}
	size, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("HELLO file size: %w", err)
	}
	return Hello{FileName: name, FileSize: size}, nil
}

func readNack(r io.Reader) (Message, error) {
	reason, err := readString(r, limits.MaxReasonBytes)
	if err != nil {
		return nil, fmt.Errorf("NACK reason: %w", err)
	}
	return Nack{Reason: reason}, nil
}

func readSend(r io.Reader) (Message, error) {
	size, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("SEND file size: %w", err)
	}
	return Send{FileSize: size}, nil
}

// readString reads a uint16 length prefix and that many bytes. The declared
// length is validated against maxLen before any allocation so a hostile peer
// cannot force a large buffer.
func readString(r io.Reader, maxLen int) (string, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", truncated(err)
	}
	n := int(binary.BigEndian.Uint16(prefix[:]))
	if n > maxLen {
		return "", fmt.Errorf("%w: declared length %d exceeds limit %d", ErrMalformed, n, maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", truncated(err)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrMalformed)
	}
	return string(buf), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, truncated(err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// truncated maps short-read errors onto ErrTruncated while keeping other
// transport errors (resets, deadline expiry) intact for the caller.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}
