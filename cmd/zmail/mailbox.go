package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/zmail/internal/mailbox"
	"github.com/zhangyunhao116/zmail/internal/show"
)

// newMailbox connects the POP3 section to a Mailbox.
func (a *app) newMailbox(lenient bool) (*mailbox.Mailbox, error) {
	p := a.cfg.POP3
	if p.User == "" {
		return nil, errors.New("pop3.user is required")
	}
	server, err := p.Server()
	if err != nil {
		return nil, err
	}
	slog.Debug("using POP3 server",
		"addr", server.Addr(),
		"tls", server.TLS,
	)

	dial := mailbox.POP3Dialer(mailbox.DialOptions{
		Host:          server.Host,
		Port:          server.Port,
		TLS:           server.TLS,
		TLSSkipVerify: p.TLSSkipVerify,
		Timeout:       p.Timeout,
	})
	return mailbox.New(dial, p.User, p.Password, a.newDecoder(lenient), slog.Default()), nil
}

func newHeadersCmd(a *app) *cobra.Command {
	var start, end int

	cmd := &cobra.Command{
		Use:   "headers",
		Short: "List the headers of the mails in the POP3 mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mb, err := a.newMailbox(false)
			if err != nil {
				return err
			}
			summaries, err := mb.GetHeaders(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tFROM\tSUBJECT")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.ID, formatDate(s.Date), s.From, s.Subject)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&start, "start", 0, "first message number (default: 1)")
	cmd.Flags().IntVar(&end, "end", 0, "last message number (default: last)")
	return cmd
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(show.DateLayout)
}
