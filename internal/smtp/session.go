package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/zhangyunhao116/zmail/internal/metrics"
	"github.com/zhangyunhao116/zmail/internal/parser"
	"github.com/zhangyunhao116/zmail/internal/sink"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// DefaultMaxMessageSize is the DATA size limit used when none is configured (10 MB).
const DefaultMaxMessageSize = 10 * 1024 * 1024

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	auth     *Authenticator
	decoder  *parser.Decoder
	sink     sink.Sink
	hostname string
	maxSize  int

	// nextID tags each accepted message; nil leaves ParsedMail.ID zero.
	nextID func() int

	tlsConfig *tls.Config
	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, auth *Authenticator, dec *parser.Decoder, dst sink.Sink, hostname string, tlsConfig *tls.Config) *Session {
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		auth:      auth,
		decoder:   dec,
		sink:      dst,
		hostname:  hostname,
		maxSize:   DefaultMaxMessageSize,
		tlsConfig: tlsConfig,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP zmail", s.hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250-SIZE %d", s.maxSize)
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection to TLS. The client must greet again
// afterwards.
func (s *Session) handleSTARTTLS() {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.mailFrom = ""
	s.rcptTo = nil
}

// handleAUTH processes AUTH commands (PLAIN and LOGIN mechanisms).
func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		s.handleAuthPlain(initial)
	case "LOGIN":
		s.handleAuthLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
	}
}

func (s *Session) handleAuthPlain(encoded string) {
	if encoded == "" {
		s.writeLine("334")
		line, ok := s.readResponse("AUTH PLAIN")
		if !ok {
			return
		}
		encoded = line
	}
	if encoded == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}
	s.finishAuth(s.auth.VerifyPlain(encoded))
}

func (s *Session) handleAuthLogin() {
	// "Username:" and "Password:", base64 encoded.
	s.writeLine("334 VXNlcm5hbWU6")
	user, ok := s.readResponse("AUTH LOGIN username")
	if !ok {
		return
	}
	if user == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	s.writeLine("334 UGFzc3dvcmQ6")
	pass, ok := s.readResponse("AUTH LOGIN password")
	if !ok {
		return
	}
	if pass == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}
	s.finishAuth(s.auth.VerifyLogin(user, pass))
}

func (s *Session) readResponse(what string) (string, bool) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		slog.Error("failed to read auth response", "step", what, "error", err)
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func (s *Session) finishAuth(err error) {
	if err != nil {
		slog.Warn("SMTP authentication failed",
			"remote", s.conn.RemoteAddr().String(),
			"error", err,
		)
		s.writeLine("535 Authentication failed")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}

	addr, ok := parsePath(arg, "FROM:")
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	addr, ok := parsePath(arg, "TO:")
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message, decodes it and delivers it to the sink.
func (s *Session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	lines, tooBig, err := s.readData()
	if err != nil {
		slog.Error("error reading DATA", "error", err)
		return
	}
	defer s.resetTransaction()

	if tooBig {
		slog.Warn("message rejected",
			"from", s.mailFrom,
			"max_size", s.maxSize,
		)
		s.writeLine("552 Message exceeds fixed maximum message size")
		return
	}

	m, err := s.decoder.Decode(lines)
	metrics.ObserveDecode(m, err)
	if err != nil {
		slog.Error("failed to decode message",
			"from", s.mailFrom,
			"error", err,
		)
		s.writeLine("554 Message could not be decoded")
		return
	}

	// The envelope stands in for missing headers.
	if m.From == "" {
		m.From = s.mailFrom
	}
	if m.To == "" {
		m.To = strings.Join(s.rcptTo, ", ")
	}
	if s.nextID != nil {
		m.ID = s.nextID()
	}

	err = s.sink.Deliver(ctx, m)
	metrics.ObserveDelivery(s.sink.Name(), err)
	if err != nil {
		slog.Error("sink delivery failed",
			"sink", s.sink.Name(),
			"subject", m.Subject,
			"error", err,
		)
		s.writeLine("451 Temporary failure, please try again later")
		return
	}

	slog.Info("message accepted",
		"id", m.ID,
		"from", m.From,
		"subject", m.Subject,
		"attachments", len(m.Attachments),
		"warnings", len(m.Warnings),
	)
	s.writeLine("250 OK message queued")
}

// readData reads DATA lines up to the terminating "." line, removing the
// line terminators and dot-stuffing. Lines past the size limit are drained
// and dropped.
func (s *Session) readData() (lines [][]byte, tooBig bool, err error) {
	size := 0
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			return nil, false, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 1 && line[0] == '.' {
			return lines, tooBig, nil
		}
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}

		size += len(line) + 2
		if size > s.maxSize {
			tooBig = true
			lines = nil
			continue
		}
		lines = append(lines, line)
	}
}

// resetTransaction clears the current mail transaction state without
// affecting the session state (greeting, auth).
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.auth.Enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// parsePath extracts the address of a "FROM:<addr> params" or "TO:<addr>"
// argument. The null reverse path "<>" yields an empty address.
func parsePath(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	s := strings.TrimSpace(arg[len(prefix):])

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	// Bare address, possibly followed by ESMTP parameters.
	addr, _, _ := strings.Cut(s, " ")
	return addr, addr != ""
}
