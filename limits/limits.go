// Package limits provides centralized size limits for the lanbeam wire
// protocol. This ensures consistent validation across the codec, the
// session state machine and the storage layer.
package limits

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxFileNameBytes is the maximum allowed file name length in bytes.
	// The value (255) matches typical filesystem limits and fits in the
	// uint16 length prefix used on the wire.
	MaxFileNameBytes = 255

	// MaxReasonBytes is the maximum allowed length of a rejection reason.
	// Reasons are human-readable one-liners; anything longer is treated
	// as hostile input.
	MaxReasonBytes = 512

	// MaxMessageBytes is the absolute maximum size of one encoded
	// handshake message, derived from the largest variant with its
	// length prefix and fixed fields. Anything declaring more is
	// hostile or corrupt.
	MaxMessageBytes = 1 + 2 + MaxReasonBytes + 8
)

var (
	// ErrNameEmpty indicates an empty file name was provided.
	ErrNameEmpty = errors.New("empty file name")

	// ErrNameTooLong indicates a file name exceeds MaxFileNameBytes.
	ErrNameTooLong = errors.New("file name too long")

	// ErrNameNotUTF8 indicates a file name is not valid UTF-8.
	ErrNameNotUTF8 = errors.New("file name is not valid UTF-8")

	// ErrReasonTooLong indicates a rejection reason exceeds MaxReasonBytes.
	ErrReasonTooLong = errors.New("rejection reason too long")
)

// ValidateFileName validates a file name against the wire protocol limits.
// It checks only length and encoding; path safety is the storage layer's
// concern.
func ValidateFileName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxFileNameBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrNameTooLong, len(name), MaxFileNameBytes)
	}
	if !utf8.ValidString(name) {
		return ErrNameNotUTF8
	}
	return nil
}

// ValidateReason validates a NACK reason string. Empty reasons are allowed;
// a receiver is not required to explain itself.
func ValidateReason(reason string) error {
	if len(reason) > MaxReasonBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrReasonTooLong, len(reason), MaxReasonBytes)
	}
	return nil
}
