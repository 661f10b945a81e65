// Package sink defines the delivery targets decoded mail is handed to.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

// Sink is the interface that delivery targets must implement. Each sink
// does something final with a decoded message: print it, store it, or
// forward it to another service.
type Sink interface {
	// Deliver hands a decoded message to this sink.
	// It returns an error if the delivery fails.
	Deliver(ctx context.Context, m *mail.ParsedMail) error

	// Name returns the human-readable name of this sink.
	Name() string
}

// Multi delivers every message to each of its sinks in order. All sinks are
// tried even when one fails.
type Multi []Sink

// Deliver hands m to every sink and joins their errors.
func (ms Multi) Deliver(ctx context.Context, m *mail.ParsedMail) error {
	var errs []error
	for _, s := range ms {
		if err := s.Deliver(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns "multi".
func (ms Multi) Name() string {
	return "multi"
}
