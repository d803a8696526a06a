// Package receiver implements the listening half of lanbeam: accept
// inbound connections indefinitely and run one receiver-role transfer
// session per connection, concurrently.
//
// Sessions are fully independent; a slow or hostile sender can only stall
// its own session. The single shared resource is the output directory's
// namespace, arbitrated by storage.Dir.
package receiver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/session"
	"github.com/lanbeam/lanbeam/storage"
)

// Config describes one listen invocation.
type Config struct {
	// Host is the bind address; empty means all interfaces.
	Host string
	Port int

	// OutputDir is where accepted files materialize. It must exist.
	OutputDir string

	// Overwrite allows incoming files to replace completed files of the
	// same name.
	Overwrite bool

	// Policy is the admission rule; nil means accept every offer.
	Policy session.Policy

	// HandshakeTimeout and StallTimeout override the session defaults
	// when non-zero.
	HandshakeTimeout time.Duration
	StallTimeout     time.Duration
}

// Receiver owns a bound listener and the sessions spawned from it. The
// listening state lives only for one Serve invocation; nothing here is a
// process-wide singleton.
type Receiver struct {
	listener net.Listener
	dir      *storage.Dir
	policy   session.Policy
	opts     []session.Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds the listening endpoint and opens the output directory. A bind
// failure is fatal to the whole listen operation: no sessions can exist
// without a bound endpoint.
func New(cfg Config) (*Receiver, error) {
	var dirOpts []storage.Option
	if cfg.Overwrite {
		dirOpts = append(dirOpts, storage.WithOverwrite())
	}
	dir, err := storage.NewDir(cfg.OutputDir, dirOpts...)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	policy := cfg.Policy
	if policy == nil {
		policy = session.AcceptAll()
	}

	var opts []session.Option
	if cfg.HandshakeTimeout > 0 {
		opts = append(opts, session.WithHandshakeTimeout(cfg.HandshakeTimeout))
	}
	if cfg.StallTimeout > 0 {
		opts = append(opts, session.WithStallTimeout(cfg.StallTimeout))
	}

	ctx, cancel := context.WithCancel(context.Background())

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"listen":     listener.Addr().String(),
		"output_dir": dir.Root(),
	}).Info("Receiver listening")

	return &Receiver{
		listener: listener,
		dir:      dir,
		policy:   policy,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Addr returns the bound listening address.
func (r *Receiver) Addr() net.Addr {
	return r.listener.Addr()
}

// Serve accepts connections until Stop is called. Accepting the next
// connection never waits on any in-flight session; each accepted
// connection gets its own goroutine and session. Serve returns nil on a
// clean stop.
func (r *Receiver) Serve() error {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.ctx.Done():
				return nil
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"error":    err.Error(),
			}).Warn("Failed to accept connection")
			continue
		}

		r.wg.Add(1)
		go r.handleConnection(conn)
	}
}

// handleConnection runs one receiver-role session to completion. Every
// outcome, including failure, is local to this session: it is logged and
// dropped, never propagated to the accept loop.
func (r *Receiver) handleConnection(conn net.Conn) {
	defer r.wg.Done()
	defer conn.Close()

	outcome := session.RunReceiver(conn, dirSink{r.dir}, r.policy, r.opts...)

	log := logrus.WithFields(logrus.Fields{
		"function": "handleConnection",
		"remote":   conn.RemoteAddr().String(),
		"outcome":  outcome.Status.String(),
	})
	switch outcome.Status {
	case session.StatusCompleted:
		log.WithField("bytes", outcome.Bytes).Info("Session finished")
	case session.StatusRejected:
		log.WithField("reason", outcome.Reason).Info("Session finished")
	default:
		log.WithField("error", outcome.Err.Error()).Warn("Session failed")
	}
}

// Stop makes Serve return after the current accept call and stops
// accepting new connections. In-flight sessions keep running; use Wait to
// drain them.
func (r *Receiver) Stop() {
	r.cancel()
	r.listener.Close()
}

// Wait blocks until every in-flight session has finished.
func (r *Receiver) Wait() {
	r.wg.Wait()
}

// dirSink adapts storage.Dir to the session.Sink interface.
type dirSink struct {
	dir *storage.Dir
}

func (s dirSink) Create(name string) (session.FileEntry, error) {
	entry, err := s.dir.Create(name)
	if err != nil {
		return nil, err
	}
	return entry, nil
}
