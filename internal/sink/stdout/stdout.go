// Package stdout implements a Sink that prints decoded mail.
package stdout

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/zhangyunhao116/zmail/internal/mail"
	"github.com/zhangyunhao116/zmail/internal/show"
)

// Sink prints decoded messages in a human-readable format.
type Sink struct {
	mu sync.Mutex

	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Sink that writes to os.Stdout.
func New() *Sink {
	return &Sink{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Sink that writes to the given writer.
func NewWithWriter(w io.Writer) *Sink {
	return &Sink{writer: w}
}

// Deliver prints the message. Write errors are logged, not returned: the
// message has been handled either way.
func (s *Sink) Deliver(_ context.Context, m *mail.ParsedMail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := show.Fprint(s.writer, m); err != nil {
		slog.Warn("stdout sink write failed", "error", err)
	}
	return nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "stdout"
}
