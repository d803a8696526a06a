// Package sender implements the outbound half of lanbeam: open one TCP
// connection to a known peer and run a single sender-role transfer session
// to completion.
package sender

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/session"
)

// ErrConnection indicates the outbound connection could not be
// established; no protocol exchange was attempted.
var ErrConnection = errors.New("cannot connect to peer")

// DefaultDialTimeout bounds the TCP connection attempt.
const DefaultDialTimeout = 10 * time.Second

// Config describes one outbound transfer.
type Config struct {
	// Host and Port locate the listening peer.
	Host string
	Port int

	// Source provides the file bytes; exactly FileSize bytes are read.
	Source io.Reader

	// FileName is the destination name offered to the peer.
	FileName string

	// FileSize is the exact byte count committed in the handshake.
	FileSize uint64

	// DialTimeout bounds the connection attempt; zero means
	// DefaultDialTimeout.
	DialTimeout time.Duration

	// HandshakeTimeout and StallTimeout override the session defaults
	// when non-zero.
	HandshakeTimeout time.Duration
	StallTimeout     time.Duration

	// Progress, when non-nil, is invoked with the running byte total.
	Progress func(transferred uint64)
}

// Send runs one transfer against cfg's peer and returns its outcome. It is
// single-session by design and runs on the caller's goroutine.
func Send(cfg Config) session.Outcome {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	logrus.WithFields(logrus.Fields{
		"function":  "Send",
		"peer":      addr,
		"file_name": cfg.FileName,
		"file_size": cfg.FileSize,
	}).Info("Connecting to peer")

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"peer":     addr,
			"error":    err.Error(),
		}).Error("Connection failed")
		return session.Failed(fmt.Errorf("%w: %v", ErrConnection, err))
	}
	defer conn.Close()

	return session.RunSender(conn, cfg.Source, cfg.FileName, cfg.FileSize, cfg.sessionOptions()...)
}

func (cfg Config) sessionOptions() []session.Option {
	var opts []session.Option
	if cfg.HandshakeTimeout > 0 {
		opts = append(opts, session.WithHandshakeTimeout(cfg.HandshakeTimeout))
	}
	if cfg.StallTimeout > 0 {
		opts = append(opts, session.WithStallTimeout(cfg.StallTimeout))
	}
	if cfg.Progress != nil {
		opts = append(opts, session.WithProgress(cfg.Progress))
	}
	return opts
}
