package config

import (
	"errors"
	"testing"
)

func TestLookupServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		address string
		want    Server
	}{
		{"someone@163.com", Server{Host: "pop.163.com", Port: 995, TLS: true}},
		{"someone@QQ.com", Server{Host: "pop.qq.com", Port: 995, TLS: true}},
		{"someone@gmail.com", Server{Host: "pop.gmail.com", Port: 995, TLS: true}},
		{"someone@hotmail.com", Server{Host: "outlook.office365.com", Port: 995, TLS: true}},
		{"someone@example.org", Server{Host: "pop3.example.org", Port: 995, TLS: true}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.address, func(t *testing.T) {
			t.Parallel()
			got, err := LookupServer(tt.address)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "no-at-sign", "trailing@"} {
		if _, err := LookupServer(bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("LookupServer(%q): got %v, want ErrInvalid", bad, err)
		}
	}
}

func TestEnterpriseServer(t *testing.T) {
	t.Parallel()

	got, err := EnterpriseServer("ali")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Addr() != "pop3.mxhichina.com:995" {
		t.Errorf("Addr(): got %q", got.Addr())
	}
	if _, err := EnterpriseServer("zoho"); !errors.Is(err, ErrUnknownEnterprise) {
		t.Errorf("got %v, want ErrUnknownEnterprise", err)
	}
}

func TestPOP3ConfigServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  POP3Config
		want Server
	}{
		{
			name: "explicit host with TLS",
			cfg:  POP3Config{Host: "mail.example.com", TLS: true},
			want: Server{Host: "mail.example.com", Port: 995, TLS: true},
		},
		{
			name: "explicit host plain",
			cfg:  POP3Config{Host: "mail.example.com"},
			want: Server{Host: "mail.example.com", Port: 110},
		},
		{
			name: "explicit port",
			cfg:  POP3Config{Host: "mail.example.com", Port: 1110},
			want: Server{Host: "mail.example.com", Port: 1110},
		},
		{
			name: "enterprise preset",
			cfg:  POP3Config{User: "me@corp.example", Enterprise: "QQ"},
			want: Server{Host: "pop.exmail.qq.com", Port: 995, TLS: true},
		},
		{
			name: "domain table",
			cfg:  POP3Config{User: "me@126.com", Port: 9995},
			want: Server{Host: "pop.126.com", Port: 9995, TLS: true},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.cfg.Server()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
