package session

import "fmt"

// Policy is the admission rule a receiver applies to a file offer before
// any bytes move. A nil error accepts; a non-nil error rejects, with the
// error text sent to the peer as the NACK reason.
type Policy interface {
	Admit(name string, size uint64) error
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(name string, size uint64) error

// Admit implements Policy.
func (f PolicyFunc) Admit(name string, size uint64) error {
	return f(name, size)
}

// AcceptAll is the baseline admission policy: every offer is accepted.
func AcceptAll() Policy {
	return PolicyFunc(func(string, uint64) error { return nil })
}

// MaxSize rejects offers larger than limit bytes.
func MaxSize(limit uint64) Policy {
	return PolicyFunc(func(name string, size uint64) error {
		if size > limit {
			return fmt.Errorf("file too large: %d bytes exceeds limit %d", size, limit)
		}
		return nil
	})
}

// AllOf accepts an offer only if every given policy accepts it. The first
// rejection wins.
func AllOf(policies ...Policy) Policy {
	return PolicyFunc(func(name string, size uint64) error {
		for _, p := range policies {
			if err := p.Admit(name, size); err != nil {
				return err
			}
		}
		return nil
	})
}
