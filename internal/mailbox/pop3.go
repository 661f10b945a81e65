package mailbox

import (
	"context"
	"time"

	"github.com/knadh/go-pop3"
)

// DialOptions locates a POP3 server.
type DialOptions struct {
	Host          string
	Port          int
	TLS           bool
	TLSSkipVerify bool
	Timeout       time.Duration
}

// POP3Dialer returns a Dialer connecting to the server in opts.
func POP3Dialer(opts DialOptions) Dialer {
	client := pop3.New(pop3.Opt{
		Host:          opts.Host,
		Port:          opts.Port,
		TLSEnabled:    opts.TLS,
		TLSSkipVerify: opts.TLSSkipVerify,
		DialTimeout:   opts.Timeout,
	})
	return func(ctx context.Context) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := client.NewConn()
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
