package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/wire"
)

// RunSender drives conn through a sender-role session: offer the file,
// await the verdict and, if accepted, stream exactly size bytes from src.
// It runs to a terminal state and returns the outcome; closing conn is the
// caller's job.
func RunSender(conn net.Conn, src io.Reader, name string, size uint64, opts ...Option) Outcome {
	s := newSession(conn, RoleSender, opts...)
	s.fileName = name
	s.fileSize = size

	s.log.WithFields(logrus.Fields{
		"function":  "RunSender",
		"file_name": name,
		"file_size": size,
	}).Info("Starting sender session")

	return s.runSender(src)
}

func (s *Session) runSender(src io.Reader) Outcome {
	if err := s.writeHandshakeMessage(wire.Hello{FileName: s.fileName, FileSize: s.fileSize}); err != nil {
		return s.abort(err)
	}
	s.setState(StateOfferSent)

	msg, err := s.readHandshakeMessage()
	if err != nil {
		return s.abort(err)
	}

	switch m := msg.(type) {
	case wire.Ack:
		s.setState(StateDecided)
	case wire.Nack:
		s.setState(StateDone)
		s.log.WithFields(logrus.Fields{
			"function":  "runSender",
			"file_name": s.fileName,
			"reason":    m.Reason,
		}).Info("Peer declined the offer")
		return Rejected(m.Reason)
	default:
		return s.abort(fmt.Errorf("%w: expected ACK or NACK in state %s, got %s",
			ErrProtocolViolation, s.state, msg.Tag()))
	}

	// The SEND size must restate the HELLO size; the receiver verifies.
	if err := s.writeHandshakeMessage(wire.Send{FileSize: s.fileSize}); err != nil {
		return s.abort(err)
	}
	s.setState(StateTransferring)

	if err := s.sendBody(src); err != nil {
		return s.abort(err)
	}
	s.setState(StateDone)

	s.log.WithFields(logrus.Fields{
		"function":  "runSender",
		"file_name": s.fileName,
		"bytes":     s.transferred,
	}).Info("Transfer completed")
	return Completed(s.fileSize)
}

// sendBody streams exactly fileSize bytes from src to the connection,
// verbatim and in order, with no framing. Each write carries a rolling
// stall deadline.
func (s *Session) sendBody(src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	remaining := s.fileSize

	for remaining > 0 {
		chunk := buf
		if remaining < uint64(len(chunk)) {
			chunk = buf[:remaining]
		}

		n, err := src.Read(chunk)
		if n > 0 {
			if s.stallTimeout > 0 {
				if derr := s.conn.SetWriteDeadline(time.Now().Add(s.stallTimeout)); derr != nil {
					return fmt.Errorf("set write deadline: %w", derr)
				}
			}
			if _, werr := s.conn.Write(chunk[:n]); werr != nil {
				return s.classify(werr)
			}
			s.advance(n)
			remaining -= uint64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && remaining > 0 {
				return fmt.Errorf("file source ended after %d of %d bytes", s.transferred, s.fileSize)
			}
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("read file source: %w", err)
			}
		}
	}
	return nil
}
