package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/zmail/internal/config"
	"github.com/zhangyunhao116/zmail/internal/parser"
	"github.com/zhangyunhao116/zmail/internal/sink"
	"github.com/zhangyunhao116/zmail/internal/sink/emldir"
	"github.com/zhangyunhao116/zmail/internal/sink/graph"
	"github.com/zhangyunhao116/zmail/internal/sink/ses"
	"github.com/zhangyunhao116/zmail/internal/sink/stdout"
)

// app is the state shared by all subcommands once the configuration is loaded.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "zmail",
		Short:         "Decode raw mail into text, html and attachments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			setupLogger(cmd.ErrOrStderr(), cfg.Logging.Level)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML configuration file (optional)")

	cmd.AddCommand(
		newDecodeCmd(a),
		newHeadersCmd(a),
		newFetchCmd(a),
		newServeCmd(a),
	)
	return cmd
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to w so that stdout carries only mail.
func setupLogger(w io.Writer, level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// newDecoder builds the decoder from the decoder section. lenient forces
// lenient mode on.
func (a *app) newDecoder(lenient bool) *parser.Decoder {
	d := a.cfg.Decoder
	return parser.New(parser.Options{
		Logger:           slog.Default(),
		Lenient:          d.Lenient || lenient,
		MaxDepth:         d.MaxDepth,
		FallbackCharsets: d.FallbackCharsets,
		DetectCharset:    d.DetectCharset,
	})
}

// newSink builds the configured delivery targets. stdout output goes to w.
func (a *app) newSink(ctx context.Context, w io.Writer) (sink.Sink, error) {
	var sinks sink.Multi
	for _, target := range a.cfg.Sink.Targets {
		switch target {
		case config.SinkStdout:
			sinks = append(sinks, stdout.NewWithWriter(w))
		case config.SinkEmlDir:
			s, err := emldir.New(emldir.Config{
				Dir:         a.cfg.Output.Dir,
				Overwrite:   a.cfg.Output.Overwrite,
				Attachments: a.cfg.Output.Attachments,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case config.SinkSES:
			slog.Info("using AWS SES sink",
				"region", a.cfg.SES.Region,
				"sender", a.cfg.SES.Sender,
			)
			s, err := ses.New(ctx, ses.Config{
				Region:          a.cfg.SES.Region,
				AccessKeyID:     a.cfg.SES.AccessKeyID,
				SecretAccessKey: a.cfg.SES.SecretAccessKey,
				Sender:          a.cfg.SES.Sender,
				ForwardTo:       a.cfg.SES.ForwardTo,
				Raw:             a.cfg.SES.Raw,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create SES sink: %w", err)
			}
			sinks = append(sinks, s)
		case config.SinkGraph:
			slog.Info("using Microsoft Graph sink",
				"tenant_id", a.cfg.Graph.TenantID,
				"sender", a.cfg.Graph.Sender,
			)
			sinks = append(sinks, graph.New(graph.Config{
				TenantID:     a.cfg.Graph.TenantID,
				ClientID:     a.cfg.Graph.ClientID,
				ClientSecret: a.cfg.Graph.ClientSecret,
				Sender:       a.cfg.Graph.Sender,
				ForwardTo:    a.cfg.Graph.ForwardTo,
			}))
		default:
			return nil, fmt.Errorf("unknown sink %q", target)
		}
	}

	switch len(sinks) {
	case 0:
		return stdout.NewWithWriter(w), nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
