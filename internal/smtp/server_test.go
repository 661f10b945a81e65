package smtp

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	zmailtls "github.com/zhangyunhao116/zmail/internal/tls"
)

// startServer serves cfg on a loopback listener until the test ends.
func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return srv
}

func TestServer_SendMail(t *testing.T) {
	t.Parallel()

	dst := newMockSink()
	srv := startServer(t, ServerConfig{Decoder: quietDecoder(), Sink: dst})

	if srv.Addr() == "" {
		t.Fatal("Addr(): empty while serving")
	}

	msg := "Subject: first\r\n\r\none\r\n"
	for i := 1; i <= 2; i++ {
		if err := smtp.SendMail(srv.Addr(), nil, "a@example.com", []string{"b@example.com"}, []byte(msg)); err != nil {
			t.Fatalf("SendMail %d: %v", i, err)
		}
		m := dst.last(t)
		if m.ID != i {
			t.Errorf("message %d: ID %d", i, m.ID)
		}
		if m.Subject != "first" || m.To != "b@example.com" {
			t.Errorf("message %d: subject %q, to %q", i, m.Subject, m.To)
		}
	}
}

func TestServer_StartTLSAndAuth(t *testing.T) {
	t.Parallel()

	tlsConfig, err := zmailtls.Load(zmailtls.Config{Hostname: "localhost"})
	if err != nil {
		t.Fatalf("loading TLS: %v", err)
	}

	dst := newMockSink()
	srv := startServer(t, ServerConfig{
		Decoder:      quietDecoder(),
		Sink:         dst,
		TLSConfig:    tlsConfig,
		AuthUsername: "user",
		AuthPassword: "pass",
	})

	c, err := smtp.Dial(srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		t.Fatal("STARTTLS not advertised")
	}
	if err := c.StartTLS(&tls.Config{ServerName: "localhost", InsecureSkipVerify: true}); err != nil {
		t.Fatalf("StartTLS: %v", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		t.Error("STARTTLS advertised after upgrade")
	}
	if err := c.Auth(smtp.PlainAuth("", "user", "pass", "127.0.0.1")); err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if err := c.Mail("a@example.com"); err != nil {
		t.Fatalf("Mail: %v", err)
	}
	if err := c.Rcpt("b@example.com"); err != nil {
		t.Fatalf("Rcpt: %v", err)
	}
	w, err := c.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if _, err := w.Write([]byte("Subject: secure\r\n\r\n.hidden dot\r\n")); err != nil {
		t.Fatalf("writing data: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing data: %v", err)
	}
	if err := c.Quit(); err != nil {
		t.Errorf("Quit: %v", err)
	}

	m := dst.last(t)
	if m.Subject != "secure" {
		t.Errorf("Subject: got %q", m.Subject)
	}
	if len(m.ContentText) != 1 || !strings.HasPrefix(m.ContentText[0], ".hidden dot") {
		t.Errorf("ContentText: got %q", m.ContentText)
	}
}
