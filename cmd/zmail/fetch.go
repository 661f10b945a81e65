package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/zmail/internal/mail"
	"github.com/zhangyunhao116/zmail/internal/mailbox"
	"github.com/zhangyunhao116/zmail/internal/metrics"
	"github.com/zhangyunhao116/zmail/internal/sink"
	"github.com/zhangyunhao116/zmail/internal/sink/emldir"
)

// fetchFlags holds the fetch command line.
type fetchFlags struct {
	subject    string
	sender     string
	after      string
	before     string
	start      int
	end        int
	latest     bool
	save       string
	overwrite  bool
	exportMbox string
	delete     bool
	lenient    bool
}

// query builds the mailbox query; time bounds are relative to now.
func (f *fetchFlags) query(now time.Time) (mailbox.Query, error) {
	q := mailbox.Query{
		Subject: f.subject,
		Sender:  f.sender,
		Start:   f.start,
		End:     f.end,
	}
	var err error
	if f.after != "" {
		if q.After, err = mailbox.ParseTimeBound(f.after, now); err != nil {
			return q, fmt.Errorf("--after: %w", err)
		}
	}
	if f.before != "" {
		if q.Before, err = mailbox.ParseTimeBound(f.before, now); err != nil {
			return q, fmt.Errorf("--before: %w", err)
		}
	}
	return q, nil
}

func newFetchCmd(a *app) *cobra.Command {
	f := &fetchFlags{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Retrieve mails from the POP3 mailbox and deliver them to the configured sinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			mb, err := a.newMailbox(f.lenient)
			if err != nil {
				return err
			}

			var mails []*mail.ParsedMail
			if f.latest {
				m, err := mb.GetLatest(ctx)
				if errors.Is(err, mailbox.ErrEmpty) {
					slog.Info("mailbox is empty")
					return nil
				}
				if err != nil {
					return err
				}
				mails = append(mails, m)
			} else {
				q, err := f.query(time.Now())
				if err != nil {
					return err
				}
				if mails, err = mb.GetMails(ctx, q); err != nil {
					return err
				}
			}

			dst, err := a.newSink(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if f.save != "" {
				store, err := emldir.New(emldir.Config{Dir: f.save, Overwrite: f.overwrite, Attachments: true})
				if err != nil {
					return err
				}
				dst = sink.Multi{dst, store}
			}

			delivered, err := deliverAll(cmd, dst, mails)
			if f.exportMbox != "" {
				if werr := writeMboxFile(f.exportMbox, mails, f.overwrite); werr != nil {
					return werr
				}
			}
			if f.delete && len(delivered) > 0 {
				if derr := mb.Delete(ctx, delivered...); derr != nil {
					return derr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&f.subject, "subject", "", "only mails whose subject contains this text")
	cmd.Flags().StringVar(&f.sender, "sender", "", "only mails whose sender contains this text")
	cmd.Flags().StringVar(&f.after, "after", "", `only mails dated at or after this time ("2006-1-2 15:04:05" or a prefix)`)
	cmd.Flags().StringVar(&f.before, "before", "", "only mails dated at or before this time")
	cmd.Flags().IntVar(&f.start, "start", 0, "first message number (default: 1)")
	cmd.Flags().IntVar(&f.end, "end", 0, "last message number (default: last)")
	cmd.Flags().BoolVar(&f.latest, "latest", false, "fetch only the newest mail")
	cmd.Flags().StringVar(&f.save, "save", "", "also store mails and attachments below this directory")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "replace existing files")
	cmd.Flags().StringVar(&f.exportMbox, "export-mbox", "", "write the fetched mails to this mbox file")
	cmd.Flags().BoolVar(&f.delete, "delete", false, "delete delivered mails from the server")
	cmd.Flags().BoolVar(&f.lenient, "lenient", false, "skip undecodable parts instead of failing")
	cmd.MarkFlagsMutuallyExclusive("latest", "subject")
	cmd.MarkFlagsMutuallyExclusive("latest", "start")
	return cmd
}

// deliverAll hands every mail to dst and returns the ids of those delivered.
// Delivery continues past failures; the joined errors are returned.
func deliverAll(cmd *cobra.Command, dst sink.Sink, mails []*mail.ParsedMail) ([]int, error) {
	var (
		delivered []int
		errs      []error
	)
	for _, m := range mails {
		err := dst.Deliver(cmd.Context(), m)
		metrics.ObserveDelivery(dst.Name(), err)
		if err != nil {
			slog.Error("delivery failed",
				"id", m.ID,
				"sink", dst.Name(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("mail %d: %w", m.ID, err))
			continue
		}
		delivered = append(delivered, m.ID)
	}
	return delivered, errors.Join(errs...)
}
