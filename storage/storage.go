// Package storage materializes received files under one output directory.
//
// It owns the two safety properties the receiver engine relies on:
//
//   - a negotiated file name can never escape the output directory
//     (path traversal guard), and
//   - a destination name is reserved atomically before any bytes move, so
//     two concurrent sessions negotiating the same name resolve
//     deterministically: one wins, the other is rejected.
//
// Incoming bytes are staged in a ".part" file and renamed onto the final
// name on commit, so a partial file never exists at the final path.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lanbeam/lanbeam/limits"
)

var (
	// ErrUnsafeName indicates a file name that could escape the output
	// directory: separators, ".." segments or other traversal attempts.
	ErrUnsafeName = errors.New("unsafe file name")

	// ErrNameBusy indicates the destination name is already reserved by a
	// concurrent session or occupied by an existing file.
	ErrNameBusy = errors.New("destination name busy")
)

// partSuffix marks in-flight staging files.
const partSuffix = ".part"

// Dir is a destination sink rooted at one output directory. It is safe for
// concurrent use by any number of sessions.
type Dir struct {
	root      string
	overwrite bool

	mu    sync.Mutex
	inUse map[string]struct{}
}

// Option configures a Dir.
type Option func(*Dir)

// WithOverwrite allows an incoming transfer to replace an existing
// completed file of the same name. Concurrent in-flight duplicates are
// still rejected.
func WithOverwrite() Option {
	return func(d *Dir) { d.overwrite = true }
}

// NewDir opens an existing directory as a destination sink.
func NewDir(root string, opts ...Option) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output directory: %s is not a directory", root)
	}

	d := &Dir{
		root:  root,
		inUse: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Root returns the output directory path.
func (d *Dir) Root() string { return d.root }

// ValidateName rejects any file name that could resolve outside the output
// directory. The wire codec already bounds length and encoding; this check
// is about path semantics.
func ValidateName(name string) error {
	if err := limits.ValidateFileName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeName, err)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a path separator", ErrUnsafeName, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	// Belt and braces: after cleaning, the name must still be a bare
	// single-element relative path.
	if cleaned := filepath.Clean(name); cleaned != name || filepath.IsAbs(cleaned) {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}

// Create validates name, reserves it against concurrent sessions and opens
// a staging file for the incoming bytes. The returned Entry must be
// finished with exactly one of Commit or Abort.
func (d *Dir) Create(name string) (*Entry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if err := d.reserve(name); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(d.root, name+partSuffix), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		d.release(name)
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Create",
		"dir":      d.root,
		"name":     name,
	}).Debug("Destination reserved, staging file opened")

	return &Entry{dir: d, name: name, file: f}, nil
}

// reserve claims name for one session. The existence check for a completed
// file lives inside the same critical section so the check-and-reserve is
// one atomic step.
func (d *Dir) reserve(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inUse[name]; busy {
		return fmt.Errorf("%w: %q is being received by another session", ErrNameBusy, name)
	}
	if !d.overwrite {
		if _, err := os.Lstat(filepath.Join(d.root, name)); err == nil {
			return fmt.Errorf("%w: %q already exists", ErrNameBusy, name)
		}
	}
	d.inUse[name] = struct{}{}
	return nil
}

func (d *Dir) release(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inUse, name)
}

// Entry is one reserved destination with an open staging file. It is owned
// by a single session and is not safe for concurrent use.
type Entry struct {
	dir  *Dir
	name string
	file *os.File
	done bool
}

// Write appends incoming bytes to the staging file.
func (e *Entry) Write(p []byte) (int, error) {
	return e.file.Write(p)
}

// Commit flushes the staging file and renames it onto the final name,
// then releases the reservation. The rename is the only moment the final
// path comes into existence.
func (e *Entry) Commit() error {
	if e.done {
		return errors.New("entry already finished")
	}
	e.done = true
	defer e.dir.release(e.name)

	if err := e.file.Sync(); err != nil {
		e.file.Close()
		return fmt.Errorf("sync staging file: %w", err)
	}
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(e.stagingPath(), e.FinalPath()); err != nil {
		return fmt.Errorf("finalize %q: %w", e.name, err)
	}
	return nil
}

// Abort discards the staging file and releases the reservation. Safe to
// call after Commit; it then does nothing, which lets sessions defer it.
func (e *Entry) Abort() {
	if e.done {
		return
	}
	e.done = true

	e.file.Close()
	if err := os.Remove(e.stagingPath()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Abort",
			"name":     e.name,
			"error":    err.Error(),
		}).Warn("Failed to remove staging file")
	}
	e.dir.release(e.name)
}

// FinalPath returns the path the file will occupy after Commit.
func (e *Entry) FinalPath() string {
	return filepath.Join(e.dir.root, e.name)
}

func (e *Entry) stagingPath() string {
	return filepath.Join(e.dir.root, e.name+partSuffix)
}
