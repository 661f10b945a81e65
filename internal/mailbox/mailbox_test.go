package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/zhangyunhao116/zmail/internal/parser"
)

// mockConn serves a fixed list of raw mails numbered from 1. Like go-pop3,
// it hands out mails already dot-unstuffed.
type mockConn struct {
	mails    []string
	password string

	authed  bool
	quit    bool
	deleted []int
	retr    []int
}

func (c *mockConn) Auth(_, password string) error {
	if password != c.password {
		return errors.New("-ERR invalid password")
	}
	c.authed = true
	return nil
}

func (c *mockConn) Stat() (int, int, error) {
	size := 0
	for _, m := range c.mails {
		size += len(m)
	}
	return len(c.mails), size, nil
}

func (c *mockConn) RetrRaw(id int) (*bytes.Buffer, error) {
	if id < 1 || id > len(c.mails) {
		return nil, fmt.Errorf("-ERR no such message %d", id)
	}
	c.retr = append(c.retr, id)
	return bytes.NewBufferString(c.mails[id-1]), nil
}

func (c *mockConn) Cmd(cmd string, _ bool, args ...interface{}) (*bytes.Buffer, error) {
	if cmd != "TOP" || len(args) != 2 {
		return nil, fmt.Errorf("-ERR unexpected %s %v", cmd, args)
	}
	id := args[0].(int)
	if id < 1 || id > len(c.mails) {
		return nil, fmt.Errorf("-ERR no such message %d", id)
	}
	head, _, _ := strings.Cut(c.mails[id-1], "\r\n\r\n")
	return bytes.NewBufferString(head + "\r\n\r\n"), nil
}

func (c *mockConn) Dele(ids ...int) error {
	c.deleted = append(c.deleted, ids...)
	return nil
}

func (c *mockConn) Quit() error {
	c.quit = true
	return nil
}

func rawMail(subject, from, date, body string) string {
	return "From: " + from + "\r\n" +
		"To: me@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + date + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		body + "\r\n"
}

func testMailbox(conn *mockConn) *Mailbox {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dial := func(context.Context) (Conn, error) { return conn, nil }
	return New(dial, "me@example.com", "secret", parser.New(parser.Options{Logger: logger}), logger)
}

func fixture() *mockConn {
	return &mockConn{
		password: "secret",
		mails: []string{
			rawMail("weekly report", "alice@example.com", "Mon, 1 Jan 2018 10:00:00 +0000", "one"),
			rawMail("lunch", "bob@example.com", "Tue, 2 Jan 2018 10:00:00 +0000", "two"),
			rawMail("monthly report", "bob@example.com", "Wed, 3 Jan 2018 10:00:00 +0000", "wait....\r\n.....\r\n..x"),
		},
	}
}

func TestStat(t *testing.T) {
	t.Parallel()

	conn := fixture()
	count, size, err := testMailbox(conn).Stat(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 || size == 0 {
		t.Errorf("got %d, %d", count, size)
	}
	if !conn.authed || !conn.quit {
		t.Errorf("session not completed: authed=%v quit=%v", conn.authed, conn.quit)
	}
}

func TestAuthFailure(t *testing.T) {
	t.Parallel()

	conn := fixture()
	conn.password = "other"
	if _, _, err := testMailbox(conn).Stat(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !conn.quit {
		t.Error("connection not closed after failed auth")
	}
}

func TestGetMail(t *testing.T) {
	t.Parallel()

	m, err := testMailbox(fixture()).GetMail(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID != 2 || m.Subject != "lunch" {
		t.Errorf("got id %d subject %q", m.ID, m.Subject)
	}
	if !reflect.DeepEqual(m.ContentText, []string{"two"}) {
		t.Errorf("ContentText: got %q", m.ContentText)
	}
}

func TestGetMailKeepsLeadingDots(t *testing.T) {
	t.Parallel()

	conn := fixture()
	m, err := testMailbox(conn).GetMail(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "wait....\r\n.....\r\n..x"
	if !reflect.DeepEqual(m.ContentText, []string{want}) {
		t.Errorf("ContentText: got %q, want %q", m.ContentText, []string{want})
	}
	if got := string(m.Bytes()); got != conn.mails[2] {
		t.Errorf("raw bytes changed:\ngot  %q\nwant %q", got, conn.mails[2])
	}
}

func TestGetLatest(t *testing.T) {
	t.Parallel()

	m, err := testMailbox(fixture()).GetLatest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID != 3 || m.Subject != "monthly report" {
		t.Errorf("got id %d subject %q", m.ID, m.Subject)
	}

	if _, err := testMailbox(&mockConn{password: "secret"}).GetLatest(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty mailbox: got %v, want ErrEmpty", err)
	}
}

func TestGetHeaders(t *testing.T) {
	t.Parallel()

	conn := fixture()
	hdrs, err := testMailbox(conn).GetHeaders(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hdrs) != 2 {
		t.Fatalf("got %d summaries, want 2", len(hdrs))
	}
	if hdrs[0].ID != 2 || hdrs[0].Subject != "lunch" || hdrs[0].From != "bob@example.com" {
		t.Errorf("first summary: %+v", hdrs[0])
	}
	if hdrs[1].Date == nil || hdrs[1].Date.Day() != 3 {
		t.Errorf("second summary date: %v", hdrs[1].Date)
	}
	if len(conn.retr) != 0 {
		t.Errorf("headers should not retrieve full mails, got %v", conn.retr)
	}
}

func TestGetMails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query Query
		want  []int
	}{
		{"all", Query{}, []int{1, 2, 3}},
		{"subject", Query{Subject: "report"}, []int{1, 3}},
		{"sender", Query{Sender: "bob"}, []int{2, 3}},
		{"subject and sender", Query{Subject: "report", Sender: "bob"}, []int{3}},
		{"after", Query{After: time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC)}, []int{2, 3}},
		{"before inclusive", Query{Before: time.Date(2018, 1, 2, 10, 0, 0, 0, time.UTC)}, []int{1, 2}},
		{"index range", Query{Start: 2, End: 2}, []int{2}},
		{"no match", Query{Subject: "invoice"}, nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn := fixture()
			mails, err := testMailbox(conn).GetMails(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []int
			for _, m := range mails {
				got = append(got, m.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got ids %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(conn.retr, tt.want) {
				t.Errorf("retrieved %v, want only %v", conn.retr, tt.want)
			}
		})
	}
}

func TestGetMailsSkipsUndecodable(t *testing.T) {
	t.Parallel()

	conn := fixture()
	conn.mails[1] = "Subject: broken\r\nContent-Type: text/plain\r\nContent-Transfer-Encoding: x-bogus\r\n\r\nbody\r\n"

	mails, err := testMailbox(conn).GetMails(context.Background(), Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mails) != 2 || mails[0].ID != 1 || mails[1].ID != 3 {
		t.Errorf("got %d mails", len(mails))
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	conn := fixture()
	if err := testMailbox(conn).Delete(context.Background(), 1, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(conn.deleted, []int{1, 3}) {
		t.Errorf("deleted: got %v", conn.deleted)
	}
	if !conn.quit {
		t.Error("deletion must be committed with QUIT")
	}
}

func TestDialFailure(t *testing.T) {
	t.Parallel()

	dial := func(context.Context) (Conn, error) { return nil, errors.New("connection refused") }
	mb := New(dial, "u", "p", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := mb.GetMail(context.Background(), 1); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("got %v", err)
	}
}
