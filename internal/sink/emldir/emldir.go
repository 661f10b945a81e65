// Package emldir implements a Sink that stores each message as an .eml
// file, with its attachments extracted next to it.
package emldir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/zmail/internal/eml"
	"github.com/zhangyunhao116/zmail/internal/mail"
)

// maxSubjectLen bounds the subject part of file names.
const maxSubjectLen = 64

// Sink writes messages below a directory.
type Sink struct {
	dir         string
	attachments bool
	overwrite   bool
	seq         atomic.Uint64
	now         func() time.Time
}

// Config holds the options of an emldir Sink.
type Config struct {
	Dir       string
	Overwrite bool

	// Attachments extracts attachments into a directory named after the
	// .eml file.
	Attachments bool
}

// New creates the directory if needed and returns a Sink writing into it.
func New(cfg Config) (*Sink, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	return &Sink{
		dir:         cfg.Dir,
		attachments: cfg.Attachments,
		overwrite:   cfg.Overwrite,
		now:         time.Now,
	}, nil
}

// Deliver saves m as <time>-<n>-<subject>.eml.
func (s *Sink) Deliver(_ context.Context, m *mail.ParsedMail) error {
	base := s.baseName(m)
	path := filepath.Join(s.dir, base+".eml")
	if err := eml.Save(path, m, s.overwrite); err != nil {
		return err
	}

	var saved []string
	if s.attachments && len(m.Attachments) > 0 {
		var err error
		saved, err = eml.SaveAttachments(filepath.Join(s.dir, base), m, s.overwrite)
		if err != nil {
			return err
		}
	}

	slog.Info("mail stored",
		"path", path,
		"attachments", len(saved),
	)
	return nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "emldir"
}

func (s *Sink) baseName(m *mail.ParsedMail) string {
	n := uint64(m.ID)
	if n == 0 {
		n = s.seq.Add(1)
	}
	subject := []rune(m.Subject)
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	name := fmt.Sprintf("%s-%d", s.now().UTC().Format("20060102T150405"), n)
	if len(subject) > 0 {
		name += "-" + string(subject)
	}
	return eml.SafeName(name)
}
