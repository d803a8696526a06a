package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/limits"
	"github.com/lanbeam/lanbeam/wire"
)

// RunReceiver drives conn through a receiver-role session: await exactly
// one HELLO, apply the admission policy and the sink's name validation,
// and, if both accept, receive exactly the offered byte count into the
// sink. It runs to a terminal state and returns the outcome; closing conn
// is the caller's job.
func RunReceiver(conn net.Conn, sink Sink, policy Policy, opts ...Option) Outcome {
	s := newSession(conn, RoleReceiver, opts...)
	if policy == nil {
		policy = AcceptAll()
	}

	s.log.WithFields(logrus.Fields{
		"function": "RunReceiver",
	}).Debug("Starting receiver session")

	return s.runReceiver(sink, policy)
}

func (s *Session) runReceiver(sink Sink, policy Policy) Outcome {
	s.setState(StateAwaitingOffer)

	msg, err := s.readHandshakeMessage()
	if err != nil {
		return s.abort(err)
	}
	hello, ok := msg.(wire.Hello)
	if !ok {
		return s.abort(fmt.Errorf("%w: expected HELLO in state %s, got %s",
			ErrProtocolViolation, s.state, msg.Tag()))
	}
	s.fileName = hello.FileName
	s.fileSize = hello.FileSize

	s.log.WithFields(logrus.Fields{
		"function":  "runReceiver",
		"file_name": s.fileName,
		"file_size": s.fileSize,
	}).Info("Received file offer")

	if err := policy.Admit(hello.FileName, hello.FileSize); err != nil {
		return s.reject(err.Error())
	}

	// Reserving the destination before ACK means a duplicate-name race
	// is decided here, cheaply, with no bytes moved yet.
	entry, err := sink.Create(hello.FileName)
	if err != nil {
		return s.reject(err.Error())
	}
	defer entry.Abort()

	if err := s.writeHandshakeMessage(wire.Ack{}); err != nil {
		return s.abort(err)
	}
	s.setState(StateDecided)

	msg, err = s.readHandshakeMessage()
	if err != nil {
		return s.abort(err)
	}
	send, ok := msg.(wire.Send)
	if !ok {
		return s.abort(fmt.Errorf("%w: expected SEND in state %s, got %s",
			ErrProtocolViolation, s.state, msg.Tag()))
	}
	if send.FileSize != s.fileSize {
		return s.abort(fmt.Errorf("%w: SEND size %d does not match offered size %d",
			ErrProtocolViolation, send.FileSize, s.fileSize))
	}
	s.setState(StateTransferring)

	if err := s.receiveBody(entry); err != nil {
		return s.abort(err)
	}
	if err := entry.Commit(); err != nil {
		return s.abort(fmt.Errorf("finalize file: %w", err))
	}
	s.setState(StateDone)

	s.log.WithFields(logrus.Fields{
		"function":  "runReceiver",
		"file_name": s.fileName,
		"bytes":     s.transferred,
	}).Info("Transfer completed")
	return Completed(s.fileSize)
}

// reject declines the offer with a NACK and terminates the session
// cleanly. No further I/O happens after the NACK is flushed.
func (s *Session) reject(reason string) Outcome {
	if len(reason) > limits.MaxReasonBytes {
		reason = reason[:limits.MaxReasonBytes]
	}
	if err := s.writeHandshakeMessage(wire.Nack{Reason: reason}); err != nil {
		return s.abort(err)
	}
	s.setState(StateDone)

	s.log.WithFields(logrus.Fields{
		"function":  "reject",
		"file_name": s.fileName,
		"reason":    reason,
	}).Info("Offer rejected")
	return Rejected(reason)
}

// receiveBody reads exactly fileSize bytes from the connection into the
// destination. A stream that closes early is a truncation failure, never a
// silently short file. Each read carries a rolling stall deadline.
func (s *Session) receiveBody(w io.Writer) error {
	buf := make([]byte, copyBufferSize)
	remaining := s.fileSize

	for remaining > 0 {
		if s.stallTimeout > 0 {
			if derr := s.conn.SetReadDeadline(time.Now().Add(s.stallTimeout)); derr != nil {
				return fmt.Errorf("set read deadline: %w", derr)
			}
		}

		chunk := buf
		if remaining < uint64(len(chunk)) {
			chunk = buf[:remaining]
		}

		n, err := s.conn.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return fmt.Errorf("write file: %w", werr)
			}
			s.advance(n)
			remaining -= uint64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if remaining == 0 {
					break
				}
				return fmt.Errorf("%w: stream closed after %d of %d bytes",
					wire.ErrTruncated, s.transferred, s.fileSize)
			}
			return s.classify(err)
		}
	}
	return nil
}
