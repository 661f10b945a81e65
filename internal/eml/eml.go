// Package eml stores decoded mail on disk: raw .eml files, mbox archives
// and extracted attachments.
package eml

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

// ErrExists is returned instead of replacing an existing file.
var ErrExists = fmt.Errorf("eml: refusing to overwrite: %w", fs.ErrExist)

// ErrNoRaw is returned when a ParsedMail does not carry its original lines.
var ErrNoRaw = errors.New("eml: mail has no raw content")

// Read returns the lines of a raw message.
func Read(r io.Reader) ([][]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading eml: %w", err)
	}
	return mail.SplitLines(raw), nil
}

// ReadFile returns the lines of the .eml file at path.
func ReadFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening eml: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write writes the original message of m as CRLF-terminated lines.
func Write(w io.Writer, m *mail.ParsedMail) error {
	b := m.Bytes()
	if b == nil {
		return ErrNoRaw
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing eml: %w", err)
	}
	return nil
}

// Save writes the original message of m to path. An existing file is only
// replaced when overwrite is set.
func Save(path string, m *mail.ParsedMail, overwrite bool) error {
	b := m.Bytes()
	if b == nil {
		return ErrNoRaw
	}
	return writeFile(path, b, overwrite)
}

// SaveAttachments writes every attachment of m into dir and returns the
// paths written. Names are reduced to their base name; an attachment whose
// file exists stops the save with ErrExists unless overwrite is set.
func SaveAttachments(dir string, m *mail.ParsedMail, overwrite bool) ([]string, error) {
	if len(m.Attachments) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachment dir: %w", err)
	}
	var paths []string
	for _, att := range m.Attachments {
		path := filepath.Join(dir, SafeName(att.Filename))
		if err := writeFile(path, att.Data, overwrite); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SafeName turns a name taken from mail into a plain file name.
func SafeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "Untitled"
	}
	return name
}

func writeFile(path string, data []byte, overwrite bool) error {
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
