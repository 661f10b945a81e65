// Package mailbox retrieves and decodes mail from a POP3 mailbox.
package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhangyunhao116/zmail/internal/mail"
	"github.com/zhangyunhao116/zmail/internal/metrics"
	"github.com/zhangyunhao116/zmail/internal/parser"
)

// ErrEmpty is returned by GetLatest when the mailbox holds no mail.
var ErrEmpty = errors.New("mailbox is empty")

// Conn is the part of a POP3 connection the mailbox uses. Multi-line
// responses are returned already dot-unstuffed, without the terminating
// dot line.
type Conn interface {
	Auth(user, password string) error
	Stat() (count, size int, err error)
	RetrRaw(id int) (*bytes.Buffer, error)
	Cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error)
	Dele(ids ...int) error
	Quit() error
}

// Dialer opens a new connection.
type Dialer func(ctx context.Context) (Conn, error)

// HeaderSummary is the decoded header block of one message.
type HeaderSummary struct {
	ID      int
	Headers mail.Headers
	Subject string
	From    string
	To      string
	Date    *time.Time
}

// Mailbox runs every operation in its own authenticated session.
type Mailbox struct {
	dial     Dialer
	user     string
	password string
	decoder  *parser.Decoder
	logger   *slog.Logger
}

// New creates a Mailbox. A nil decoder uses parser defaults.
func New(dial Dialer, user, password string, decoder *parser.Decoder, logger *slog.Logger) *Mailbox {
	if decoder == nil {
		decoder = parser.New(parser.Options{Logger: logger})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		dial:     dial,
		user:     user,
		password: password,
		decoder:  decoder,
		logger:   logger,
	}
}

func (m *Mailbox) session(ctx context.Context, fn func(Conn) error) error {
	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	if err := conn.Auth(m.user, m.password); err != nil {
		conn.Quit()
		return fmt.Errorf("authenticating %s: %w", m.user, err)
	}

	err = fn(conn)
	if qerr := conn.Quit(); qerr != nil && err == nil {
		err = fmt.Errorf("quit: %w", qerr)
	}
	return err
}

// Stat returns the message count and the mailbox size in bytes.
func (m *Mailbox) Stat(ctx context.Context) (count, size int, err error) {
	err = m.session(ctx, func(c Conn) error {
		count, size, err = c.Stat()
		return err
	})
	return count, size, err
}

// GetMail retrieves and decodes message id.
func (m *Mailbox) GetMail(ctx context.Context, id int) (*mail.ParsedMail, error) {
	var pm *mail.ParsedMail
	err := m.session(ctx, func(c Conn) error {
		var err error
		pm, err = m.retrieve(c, id)
		return err
	})
	return pm, err
}

// GetLatest retrieves and decodes the newest message.
func (m *Mailbox) GetLatest(ctx context.Context) (*mail.ParsedMail, error) {
	var pm *mail.ParsedMail
	err := m.session(ctx, func(c Conn) error {
		count, _, err := c.Stat()
		if err != nil {
			return fmt.Errorf("stat: %w", err)
		}
		if count == 0 {
			return ErrEmpty
		}
		pm, err = m.retrieve(c, count)
		return err
	})
	return pm, err
}

// GetHeaders returns the header summaries of the messages numbered
// start..end, clipped to the mailbox. Zero start or end leaves that side
// open.
func (m *Mailbox) GetHeaders(ctx context.Context, start, end int) ([]HeaderSummary, error) {
	var out []HeaderSummary
	err := m.session(ctx, func(c Conn) error {
		var err error
		out, err = m.headers(c, start, end)
		return err
	})
	return out, err
}

// GetMails returns the decoded messages matching q, in message number
// order. Header conditions are checked on TOP output before a message is
// retrieved. Messages that fail to decode are logged and skipped.
func (m *Mailbox) GetMails(ctx context.Context, q Query) ([]*mail.ParsedMail, error) {
	var out []*mail.ParsedMail
	err := m.session(ctx, func(c Conn) error {
		summaries, err := m.headers(c, q.Start, q.End)
		if err != nil {
			return err
		}
		for _, s := range summaries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !q.Match(s) {
				continue
			}
			pm, err := m.retrieve(c, s.ID)
			if errors.Is(err, parser.ErrParse) {
				m.logger.Error("skipping undecodable mail", "id", s.ID, "error", err)
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, pm)
		}
		return nil
	})
	return out, err
}

// Delete marks the given messages for deletion; they are removed when the
// session ends.
func (m *Mailbox) Delete(ctx context.Context, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	return m.session(ctx, func(c Conn) error {
		if err := c.Dele(ids...); err != nil {
			return fmt.Errorf("deleting %v: %w", ids, err)
		}
		m.logger.Info("mails deleted", "ids", ids)
		return nil
	})
}

func (m *Mailbox) retrieve(c Conn, id int) (*mail.ParsedMail, error) {
	buf, err := c.RetrRaw(id)
	if err != nil {
		return nil, fmt.Errorf("retrieving mail %d: %w", id, err)
	}
	pm, err := m.decoder.Decode(mail.SplitLines(buf.Bytes()))
	metrics.ObserveDecode(pm, err)
	if err != nil {
		return nil, fmt.Errorf("decoding mail %d: %w", id, err)
	}
	pm.ID = id
	return pm, nil
}

func (m *Mailbox) headers(c Conn, start, end int) ([]HeaderSummary, error) {
	count, _, err := c.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	var out []HeaderSummary
	for _, id := range Intersection(1, count, start, end) {
		buf, err := c.Cmd("TOP", true, id, 0)
		if err != nil {
			return out, fmt.Errorf("top %d: %w", id, err)
		}
		lines := mail.SplitLines(buf.Bytes())
		if len(lines) == 0 || len(bytes.TrimSpace(lines[len(lines)-1])) != 0 {
			lines = append(lines, nil)
		}
		hb, err := m.decoder.ParseHeaders(lines)
		if err != nil {
			m.logger.Error("skipping unparseable headers", "id", id, "error", err)
			continue
		}
		out = append(out, HeaderSummary{
			ID:      id,
			Headers: hb.Headers,
			Subject: hb.Headers.Get("Subject"),
			From:    hb.Headers.Get("From"),
			To:      hb.Headers.Get("To"),
			Date:    hb.Date,
		})
	}
	return out, nil
}
