package session

import (
	"bytes"
	"errors"
	"sync"
)

// memSink is an in-memory Sink for session tests.
type memSink struct {
	mu        sync.Mutex
	createErr error
	entries   map[string]*memEntry
}

func newMemSink() *memSink {
	return &memSink{entries: make(map[string]*memEntry)}
}

func (s *memSink) Create(name string) (FileEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	e := &memEntry{}
	s.entries[name] = e
	return e, nil
}

func (s *memSink) entry(name string) *memEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[name]
}

// memEntry records what a session did with its destination.
type memEntry struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	committed bool
	aborted   bool
}

func (e *memEntry) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Write(p)
}

func (e *memEntry) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return errors.New("commit after abort")
	}
	e.committed = true
	return nil
}

func (e *memEntry) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.committed {
		e.aborted = true
	}
}

func (e *memEntry) bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Bytes()
}

func (e *memEntry) isCommitted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed
}
