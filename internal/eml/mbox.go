package eml

import (
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

// ReadMbox returns every message of an mbox archive as lines.
func ReadMbox(r io.Reader) ([][][]byte, error) {
	mr := mbox.NewReader(r)
	var msgs [][][]byte
	for {
		msg, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			return msgs, nil
		}
		if err != nil {
			return msgs, fmt.Errorf("reading mbox message %d: %w", len(msgs)+1, err)
		}
		lines, err := Read(msg)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, trimTrailingEmpty(lines))
	}
}

// WriteMbox appends the original messages of mails to an mbox archive.
func WriteMbox(w io.Writer, mails []*mail.ParsedMail) error {
	mw := mbox.NewWriter(w)
	for i, m := range mails {
		b := m.Bytes()
		if b == nil {
			return fmt.Errorf("mbox message %d: %w", i+1, ErrNoRaw)
		}
		t := time.Now()
		if m.Date != nil {
			t = *m.Date
		}
		msgw, err := mw.CreateMessage(envelopeSender(m.From), t)
		if err != nil {
			return fmt.Errorf("creating mbox message %d: %w", i+1, err)
		}
		if _, err := msgw.Write(b); err != nil {
			return fmt.Errorf("writing mbox message %d: %w", i+1, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing mbox: %w", err)
	}
	return nil
}

// envelopeSender extracts the bare address for the mbox "From " line.
func envelopeSender(from string) string {
	if addr, err := netmail.ParseAddress(from); err == nil {
		return addr.Address
	}
	return "MAILER-DAEMON"
}

func trimTrailingEmpty(lines [][]byte) [][]byte {
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}
