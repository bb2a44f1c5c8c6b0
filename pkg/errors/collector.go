package errors

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Collector safely accumulates errors in the order they were reported.
type Collector struct {
	mu        sync.Mutex
	errs      []error
	dropped   int
	maxErrors int
}

// NewCollector creates a new error collector. A non-positive maxErrors keeps
// every error; otherwise errors past the limit are only counted.
func NewCollector(maxErrors int) *Collector {
	return &Collector{maxErrors: maxErrors}
}

// Add records err. Nested MultiErrors are flattened.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range Flatten(err) {
		if c.maxErrors > 0 && len(c.errs) >= c.maxErrors {
			c.dropped++
			continue
		}
		c.errs = append(c.errs, e)
	}
}

// HasErrors returns true if any errors have been collected
func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs) > 0
}

// Len returns the number of errors kept
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// ToError returns nil when empty, otherwise a *MultiError with every kept error.
func (c *Collector) ToError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errs) == 0 {
		return nil
	}
	errs := make([]error, len(c.errs))
	copy(errs, c.errs)
	return &MultiError{Errors: errs, Dropped: c.dropped}
}

// MultiError is the complete, ordered list of errors reported by one operation.
type MultiError struct {
	Errors  []error
	Dropped int
}

// Error implements the error interface
func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		if m.Dropped == 0 {
			return m.Errors[0].Error()
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d errors occurred", len(m.Errors)+m.Dropped)
	for i, err := range m.Errors {
		fmt.Fprintf(&b, "\n  [%d] %v", i+1, err)
	}
	if m.Dropped > 0 {
		fmt.Fprintf(&b, "\n  ... and %d more", m.Dropped)
	}
	return b.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Flatten returns the leaf errors of err, expanding MultiErrors recursively.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	var multi *MultiError
	if !errors.As(err, &multi) {
		return []error{err}
	}
	out := make([]error, 0, len(multi.Errors))
	for _, e := range multi.Errors {
		out = append(out, Flatten(e)...)
	}
	return out
}

// AsList returns err as a *MultiError, wrapping a single error in a
// one-element list. nil stays nil.
func AsList(err error) error {
	if err == nil {
		return nil
	}
	var multi *MultiError
	if errors.As(err, &multi) {
		return multi
	}
	return &MultiError{Errors: []error{err}}
}
