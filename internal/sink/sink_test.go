package sink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

// mockSink records delivered mails for test assertions.
type mockSink struct {
	name      string
	err       error
	delivered []*mail.ParsedMail
}

func (m *mockSink) Deliver(_ context.Context, pm *mail.ParsedMail) error {
	m.delivered = append(m.delivered, pm)
	return m.err
}

func (m *mockSink) Name() string {
	return m.name
}

func TestMultiDeliversToAll(t *testing.T) {
	t.Parallel()

	a := &mockSink{name: "a", err: errors.New("disk full")}
	b := &mockSink{name: "b"}
	pm := &mail.ParsedMail{Subject: "x"}

	err := Multi{a, b}.Deliver(context.Background(), pm)
	if err == nil || !strings.Contains(err.Error(), "a: disk full") {
		t.Fatalf("got %v, want error naming sink a", err)
	}
	if len(a.delivered) != 1 || len(b.delivered) != 1 {
		t.Errorf("delivered: a=%d b=%d, want 1 each", len(a.delivered), len(b.delivered))
	}
}

func TestMultiSuccess(t *testing.T) {
	t.Parallel()

	var s Sink = Multi{&mockSink{name: "a"}}
	if err := s.Deliver(context.Background(), &mail.ParsedMail{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if s.Name() != "multi" {
		t.Errorf("Name(): got %q", s.Name())
	}
}
