// Package session drives one connection through the lanbeam handshake and,
// if the offer is accepted, the bulk data phase.
//
// A session owns its connection for its whole lifetime and is run to
// completion by a single goroutine. The state machine is:
//
//	StateStart → StateAwaitingOffer (receiver) | StateOfferSent (sender)
//	           → StateDecided → StateTransferring → StateDone
//
// with StateAborted reachable from every non-terminal state. Protocol
// violations, decode errors and timeouts are never retried: the session
// aborts, the connection is closed by the caller, and sibling sessions are
// unaffected.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/wire"
)

var (
	// ErrProtocolViolation indicates the peer broke the handshake
	// contract: an out-of-order message or a SEND size that does not
	// match the offered HELLO size.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTimeout indicates a bounded wait on the peer elapsed.
	ErrTimeout = errors.New("timed out waiting for peer")
)

const (
	// DefaultHandshakeTimeout bounds every blocking read while a
	// handshake reply is outstanding.
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultStallTimeout bounds each individual read or write during
	// the data phase. A transfer making any progress never trips it.
	DefaultStallTimeout = 30 * time.Second

	// copyBufferSize is the chunk size for the data phase.
	copyBufferSize = 32 * 1024
)

// Role distinguishes the two ends of a transfer.
type Role uint8

const (
	// RoleSender initiates the transfer and streams the file.
	RoleSender Role = iota
	// RoleReceiver accepts or rejects the offer and stores the file.
	RoleReceiver
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// State is the current position of a session in the handshake.
type State uint8

const (
	// StateStart is the initial state of every session.
	StateStart State = iota
	// StateAwaitingOffer is the receiver blocking on a HELLO.
	StateAwaitingOffer
	// StateOfferSent is the sender blocking on an ACK or NACK.
	StateOfferSent
	// StateDecided means the offer was accepted and SEND is pending.
	StateDecided
	// StateTransferring is the bulk data phase.
	StateTransferring
	// StateDone is the terminal state of a clean session, whether the
	// transfer completed or the offer was rejected.
	StateDone
	// StateAborted is the terminal state after a failure.
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateOfferSent:
		return "offer-sent"
	case StateDecided:
		return "decided"
	case StateTransferring:
		return "transferring"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// FileEntry is one reserved destination accepting the incoming bytes.
// Exactly one of Commit or Abort finishes it; Abort after Commit is a no-op
// so sessions can defer it.
type FileEntry interface {
	io.Writer

	// Commit finalizes the destination; only then may the file appear
	// at its final path.
	Commit() error

	// Abort discards anything staged and releases the destination name.
	Abort()
}

// Sink hands out destinations rooted at an output directory.
type Sink interface {
	// Create validates and reserves name and opens a destination for
	// it. An error means the offer must be rejected.
	Create(name string) (FileEntry, error)
}

// Session is one end-to-end run of the protocol over one connection.
type Session struct {
	id          uuid.UUID
	conn        net.Conn
	role        Role
	state       State
	fileName    string
	fileSize    uint64
	transferred uint64

	handshakeTimeout time.Duration
	stallTimeout     time.Duration
	progress         func(transferred uint64)

	log *logrus.Entry
}

// Option configures a session.
type Option func(*Session)

// WithHandshakeTimeout bounds each blocking handshake read. Zero disables
// the bound; every production caller should keep one.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithStallTimeout bounds each individual data-phase read and write.
// Zero disables stall detection.
func WithStallTimeout(d time.Duration) Option {
	return func(s *Session) { s.stallTimeout = d }
}

// WithProgress installs a callback invoked after every data-phase chunk
// with the total bytes transferred so far.
func WithProgress(fn func(transferred uint64)) Option {
	return func(s *Session) { s.progress = fn }
}

func newSession(conn net.Conn, role Role, opts ...Option) *Session {
	s := &Session{
		id:               uuid.New(),
		conn:             conn,
		role:             role,
		state:            StateStart,
		handshakeTimeout: DefaultHandshakeTimeout,
		stallTimeout:     DefaultStallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = logrus.WithFields(logrus.Fields{
		"session_id": s.id.String(),
		"role":       role.String(),
		"remote":     conn.RemoteAddr().String(),
	})
	return s
}

// setState records a state transition.
func (s *Session) setState(next State) {
	s.log.WithFields(logrus.Fields{
		"function": "setState",
		"from":     s.state.String(),
		"to":       next.String(),
	}).Debug("Session state transition")
	s.state = next
}

// readHandshakeMessage reads exactly one message under the handshake
// deadline and clears the deadline afterwards.
func (s *Session) readHandshakeMessage() (wire.Message, error) {
	if s.handshakeTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer s.conn.SetReadDeadline(time.Time{})
	}

	msg, err := wire.ReadMessage(s.conn)
	if err != nil {
		return nil, s.classify(err)
	}
	return msg, nil
}

// writeHandshakeMessage writes one message under the handshake deadline.
func (s *Session) writeHandshakeMessage(m wire.Message) error {
	if s.handshakeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.handshakeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	if err := wire.WriteMessage(s.conn, m); err != nil {
		return s.classify(err)
	}
	return nil
}

// classify maps deadline expiry onto ErrTimeout so callers can tell "peer
// is slow or gone" apart from other transport failures.
func (s *Session) classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// abort moves the session to its failed terminal state.
func (s *Session) abort(err error) Outcome {
	s.setState(StateAborted)
	s.log.WithFields(logrus.Fields{
		"function":    "abort",
		"file_name":   s.fileName,
		"transferred": s.transferred,
		"error":       err.Error(),
	}).Error("Session aborted")
	return Failed(err)
}

// advance updates progress accounting after a data-phase chunk.
func (s *Session) advance(n int) {
	s.transferred += uint64(n)
	if s.progress != nil {
		s.progress(s.transferred)
	}
}
