package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/zmail/internal/eml"
	"github.com/zhangyunhao116/zmail/internal/mail"
	"github.com/zhangyunhao116/zmail/internal/metrics"
	"github.com/zhangyunhao116/zmail/internal/parser"
)

func newDecodeCmd(a *app) *cobra.Command {
	var (
		isMbox     bool
		attachDir  string
		overwrite  bool
		lenient    bool
		exportMbox string
	)

	cmd := &cobra.Command{
		Use:   "decode FILE...",
		Short: "Decode .eml files or mbox archives and deliver them",
		Long:  "Decode .eml files (or mbox archives with --mbox) and deliver every message to the configured sinks, standard output by default. A FILE of - reads standard input.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dec := a.newDecoder(lenient)
			dst, err := a.newSink(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			var decoded []*mail.ParsedMail
			failed, undelivered := 0, 0
			for _, path := range args {
				raws, err := readInput(cmd.InOrStdin(), path, isMbox)
				if err != nil {
					return err
				}
				for i, lines := range raws {
					m, err := decodeOne(dec, lines, i+1)
					if err != nil {
						slog.Error("failed to decode mail",
							"file", path,
							"index", i+1,
							"error", err,
						)
						failed++
						continue
					}
					err = dst.Deliver(cmd.Context(), m)
					metrics.ObserveDelivery(dst.Name(), err)
					if err != nil {
						slog.Error("delivery failed",
							"file", path,
							"index", i+1,
							"sink", dst.Name(),
							"error", err,
						)
						undelivered++
					}
					if attachDir != "" && len(m.Attachments) > 0 {
						dir := filepath.Join(attachDir, eml.SafeName(filepath.Base(path)))
						if len(raws) > 1 {
							dir = filepath.Join(dir, strconv.Itoa(i+1))
						}
						saved, err := eml.SaveAttachments(dir, m, overwrite)
						if err != nil {
							return err
						}
						slog.Info("attachments saved", "dir", dir, "count", len(saved))
					}
					decoded = append(decoded, m)
				}
			}

			if exportMbox != "" {
				if err := writeMboxFile(exportMbox, decoded, overwrite); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d mails could not be decoded", failed, failed+len(decoded))
			}
			if undelivered > 0 {
				return fmt.Errorf("%d of %d mails could not be delivered", undelivered, len(decoded))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&isMbox, "mbox", false, "treat every FILE as an mbox archive")
	cmd.Flags().StringVar(&attachDir, "save-attachments", "", "extract attachments below this directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "skip undecodable parts instead of failing")
	cmd.Flags().StringVar(&exportMbox, "export-mbox", "", "write the decoded mails to this mbox file")
	return cmd
}

// readInput returns the raw messages of path: one for an eml file, every
// message for an mbox archive.
func readInput(stdin io.Reader, path string, isMbox bool) ([][][]byte, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	if isMbox {
		raws, err := eml.ReadMbox(r)
		if err != nil {
			return nil, fmt.Errorf("reading mbox %s: %w", path, err)
		}
		return raws, nil
	}
	lines, err := eml.Read(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return [][][]byte{lines}, nil
}

func decodeOne(dec *parser.Decoder, lines [][]byte, id int) (*mail.ParsedMail, error) {
	m, err := dec.Decode(lines)
	metrics.ObserveDecode(m, err)
	if err != nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

// writeMboxFile exports mails to path, refusing to replace an existing file
// unless overwrite is set.
func writeMboxFile(path string, mails []*mail.ParsedMail, overwrite bool) error {
	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("creating mbox: %w", err)
	}
	if err := eml.WriteMbox(f, mails); err != nil {
		f.Close()
		return fmt.Errorf("writing mbox %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing mbox %s: %w", path, err)
	}
	slog.Info("mbox exported", "path", path, "mails", len(mails))
	return nil
}
