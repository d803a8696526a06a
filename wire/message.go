// Package wire implements the binary encoding of the lanbeam handshake
// protocol.
//
// Every message is one tag byte followed by variant-specific fields:
// fixed-width big-endian integers for sizes and uint16 length prefixes for
// UTF-8 strings. The layout is deterministic and delimiter-free because
// file names are attacker-influenced data on a trust-nothing network.
//
//	| Tag  | Message | Fields                                      |
//	| 0x01 | HELLO   | name length, name bytes, file size (uint64) |
//	| 0x02 | ACK     | —                                           |
//	| 0x03 | NACK    | reason length, reason bytes                 |
//	| 0x04 | SEND    | file size (uint64)                          |
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/lanbeam/lanbeam/limits"
)

// Tag identifies the variant of a handshake message.
type Tag byte

const (
	// TagHello is the sender's file offer.
	TagHello Tag = 0x01
	// TagAck accepts the most recently offered file.
	TagAck Tag = 0x02
	// TagNack rejects the offer; the session must terminate cleanly.
	TagNack Tag = 0x03
	// TagSend is the sender's final commitment before streaming bytes.
	TagSend Tag = 0x04
)

// String returns the protocol name of the tag.
func (t Tag) String() string {
	switch t {
	case TagHello:
		return "HELLO"
	case TagAck:
		return "ACK"
	case TagNack:
		return "NACK"
	case TagSend:
		return "SEND"
	default:
		return fmt.Sprintf("tag 0x%02x", byte(t))
	}
}

// Message is one handshake protocol message.
type Message interface {
	// Tag returns the wire tag of the variant.
	Tag() Tag

	// appendTo appends the encoded message, including the tag byte.
	appendTo(buf []byte) ([]byte, error)
}

// Hello is the sender's offer: the file it wants to transfer.
type Hello struct {
	FileName string
	FileSize uint64
}

// Tag returns TagHello.
func (h Hello) Tag() Tag { return TagHello }

func (h Hello) appendTo(buf []byte) ([]byte, error) {
	if err := limits.ValidateFileName(h.FileName); err != nil {
		return nil, fmt.Errorf("encode HELLO: %w", err)
	}
	buf = append(buf, byte(TagHello))
	buf = appendString(buf, h.FileName)
	return binary.BigEndian.AppendUint64(buf, h.FileSize), nil
}

// Ack is the receiver's acceptance of the offered file.
type Ack struct{}

// Tag returns TagAck.
func (Ack) Tag() Tag { return TagAck }

func (Ack) appendTo(buf []byte) ([]byte, error) {
	return append(buf, byte(TagAck)), nil
}

// Nack is the receiver's rejection of the offered file.
type Nack struct {
	Reason string
}

// Tag returns TagNack.
func (n Nack) Tag() Tag { return TagNack }

func (n Nack) appendTo(buf []byte) ([]byte, error) {
	if err := limits.ValidateReason(n.Reason); err != nil {
		return nil, fmt.Errorf("encode NACK: %w", err)
	}
	buf = append(buf, byte(TagNack))
	return appendString(buf, n.Reason), nil
}

// Send is the sender's commitment that exactly FileSize bytes follow.
// It must restate the size from the HELLO of the same session; a mismatch
// is a protocol violation on the receiving side.
type Send struct {
	FileSize uint64
}

// Tag returns TagSend.
func (s Send) Tag() Tag { return TagSend }

func (s Send) appendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(TagSend))
	return binary.BigEndian.AppendUint64(buf, s.FileSize), nil
}

// appendString appends a uint16 length prefix followed by the string bytes.
func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}
