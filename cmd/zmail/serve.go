package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/zmail/internal/smtp"
	smtptls "github.com/zhangyunhao116/zmail/internal/tls"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP intake server, decoding every received mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			tlsConfig, err := smtptls.Load(smtptls.Config{
				CertFile: cfg.TLS.CertFile,
				KeyFile:  cfg.TLS.KeyFile,
				Hostname: cfg.SMTP.Hostname,
			})
			if err != nil {
				return err
			}
			tlsMode := "self-signed"
			if cfg.TLS.CertFile != "" {
				tlsMode = "file"
			}

			dst, err := a.newSink(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if cfg.Metrics.Listen != "" {
				stop := serveMetrics(cfg.Metrics.Listen)
				defer stop()
			}

			server := smtp.New(smtp.ServerConfig{
				ListenAddr:     cfg.SMTP.Listen,
				Hostname:       cfg.SMTP.Hostname,
				Decoder:        a.newDecoder(false),
				Sink:           dst,
				TLSConfig:      tlsConfig,
				AuthUsername:   cfg.SMTP.Username,
				AuthPassword:   cfg.SMTP.Password,
				MaxMessageSize: int(cfg.SMTP.MaxMessageSize),
			})

			slog.Info("starting zmail intake",
				"listen", cfg.SMTP.Listen,
				"sink", dst.Name(),
				"auth_enabled", cfg.AuthEnabled(),
				"tls_mode", tlsMode,
			)
			if err := server.ListenAndServe(ctx); err != nil {
				return err
			}
			slog.Info("zmail intake stopped")
			return nil
		},
	}
}

// serveMetrics exposes /metrics on addr and returns a func stopping it.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
