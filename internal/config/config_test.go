package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// clearEnv blanks every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"LOG_LEVEL",
		"DECODER_LENIENT", "DECODER_MAX_DEPTH", "DECODER_FALLBACK_CHARSETS", "DECODER_DETECT_CHARSET",
		"POP3_USER", "POP3_PASSWORD", "POP3_HOST", "POP3_PORT", "POP3_TLS", "POP3_TLS_SKIP_VERIFY",
		"POP3_ENTERPRISE", "POP3_TIMEOUT",
		"SMTP_LISTEN", "SMTP_HOSTNAME", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_MAX_MESSAGE_SIZE",
		"TLS_CERT_FILE", "TLS_KEY_FILE",
		"OUTPUT_DIR", "OUTPUT_ATTACHMENTS", "OUTPUT_OVERWRITE",
		"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER", "SES_FORWARD_TO", "SES_RAW",
		"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER", "GRAPH_FORWARD_TO",
		"SINK_TARGETS", "METRICS_LISTEN",
	} {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.SMTP.Listen != ":2525" {
		t.Errorf("SMTP.Listen: got %q, want %q", cfg.SMTP.Listen, ":2525")
	}
	if cfg.SMTP.MaxMessageSize != 26214400 {
		t.Errorf("SMTP.MaxMessageSize: got %d, want %d", cfg.SMTP.MaxMessageSize, 26214400)
	}
	if !cfg.POP3.TLS || cfg.POP3.Timeout != 30*time.Second {
		t.Errorf("POP3: got TLS %v, timeout %v", cfg.POP3.TLS, cfg.POP3.Timeout)
	}
	if !reflect.DeepEqual(cfg.Sink.Targets, []string{SinkStdout}) {
		t.Errorf("Sink.Targets: got %v", cfg.Sink.Targets)
	}
	if cfg.Decoder.Lenient || cfg.Decoder.MaxDepth != 0 {
		t.Errorf("Decoder: got %+v", cfg.Decoder)
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen: got %q, want empty", cfg.Metrics.Listen)
	}
	if cfg.AuthEnabled() || cfg.SESConfigured() {
		t.Error("auth and SES should be disabled by default")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DECODER_LENIENT", "true")
	t.Setenv("DECODER_MAX_DEPTH", "8")
	t.Setenv("DECODER_FALLBACK_CHARSETS", "gb18030, big5,")
	t.Setenv("POP3_USER", "me@163.com")
	t.Setenv("POP3_PASSWORD", "secret")
	t.Setenv("POP3_TLS", "false")
	t.Setenv("POP3_TIMEOUT", "5s")
	t.Setenv("SMTP_LISTEN", ":9025")
	t.Setenv("SMTP_USERNAME", "admin")
	t.Setenv("SMTP_PASSWORD", "secret123")
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "10485760")
	t.Setenv("OUTPUT_DIR", "/var/mail")
	t.Setenv("SES_REGION", "us-east-1")
	t.Setenv("SES_SENDER", "ses@example.com")
	t.Setenv("SES_FORWARD_TO", "a@example.com,b@example.com")
	t.Setenv("SINK_TARGETS", "emldir,ses")
	t.Setenv("METRICS_LISTEN", ":9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q", cfg.Logging.Level)
	}
	if !cfg.Decoder.Lenient || cfg.Decoder.MaxDepth != 8 {
		t.Errorf("Decoder: got %+v", cfg.Decoder)
	}
	if !reflect.DeepEqual(cfg.Decoder.FallbackCharsets, []string{"gb18030", "big5"}) {
		t.Errorf("Decoder.FallbackCharsets: got %q", cfg.Decoder.FallbackCharsets)
	}
	if cfg.POP3.User != "me@163.com" || cfg.POP3.Password != "secret" || cfg.POP3.TLS {
		t.Errorf("POP3: got %+v", cfg.POP3)
	}
	if cfg.POP3.Timeout != 5*time.Second {
		t.Errorf("POP3.Timeout: got %v", cfg.POP3.Timeout)
	}
	if cfg.SMTP.Listen != ":9025" || cfg.SMTP.MaxMessageSize != 10485760 {
		t.Errorf("SMTP: got %+v", cfg.SMTP)
	}
	if !cfg.AuthEnabled() {
		t.Error("AuthEnabled: got false")
	}
	if !reflect.DeepEqual(cfg.SES.ForwardTo, []string{"a@example.com", "b@example.com"}) {
		t.Errorf("SES.ForwardTo: got %q", cfg.SES.ForwardTo)
	}
	if !cfg.HasSink(SinkEmlDir) || !cfg.HasSink(SinkSES) || cfg.HasSink(SinkStdout) {
		t.Errorf("Sink.Targets: got %v", cfg.Sink.Targets)
	}
	if cfg.Metrics.Listen != ":9100" {
		t.Errorf("Metrics.Listen: got %q", cfg.Metrics.Listen)
	}
}

func TestLoad_InvalidNumbersIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("DECODER_MAX_DEPTH", "deep")
	t.Setenv("POP3_TLS", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("SMTP.MaxMessageSize: got %d, want default", cfg.SMTP.MaxMessageSize)
	}
	if cfg.Decoder.MaxDepth != 0 || !cfg.POP3.TLS {
		t.Errorf("got MaxDepth %d, TLS %v", cfg.Decoder.MaxDepth, cfg.POP3.TLS)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
logging:
  level: warn
decoder:
  lenient: true
  max_depth: 16
  fallback_charsets: [gbk]
  detect_charset: true
pop3:
  user: someone@qq.com
  password: app-password
  timeout: 10s
smtp:
  listen: ":3025"
  hostname: mx.example.com
tls:
  cert_file: /certs/cert.pem
  key_file: /certs/key.pem
output:
  dir: /srv/mail
  attachments: true
ses:
  region: eu-west-1
  sender: relay@example.com
  raw: true
graph:
  tenant_id: tenant
  client_id: client
  client_secret: secret
  sender: relay@example.com
  forward_to: [ops@example.com]
sink:
  targets: [stdout, emldir, graph]
metrics:
  listen: "127.0.0.1:9100"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := DecoderConfig{Lenient: true, MaxDepth: 16, FallbackCharsets: []string{"gbk"}, DetectCharset: true}
	if !reflect.DeepEqual(cfg.Decoder, want) {
		t.Errorf("Decoder: got %+v, want %+v", cfg.Decoder, want)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q", cfg.Logging.Level)
	}
	if cfg.POP3.User != "someone@qq.com" || cfg.POP3.Timeout != 10*time.Second || !cfg.POP3.TLS {
		t.Errorf("POP3: got %+v", cfg.POP3)
	}
	if cfg.SMTP.Listen != ":3025" || cfg.SMTP.Hostname != "mx.example.com" {
		t.Errorf("SMTP: got %+v", cfg.SMTP)
	}
	if cfg.SMTP.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("SMTP.MaxMessageSize: got %d, want default", cfg.SMTP.MaxMessageSize)
	}
	if cfg.TLS.CertFile != "/certs/cert.pem" || cfg.TLS.KeyFile != "/certs/key.pem" {
		t.Errorf("TLS: got %+v", cfg.TLS)
	}
	if cfg.Output.Dir != "/srv/mail" || !cfg.Output.Attachments || cfg.Output.Overwrite {
		t.Errorf("Output: got %+v", cfg.Output)
	}
	if !cfg.SES.Raw || !cfg.SESConfigured() {
		t.Errorf("SES: got %+v", cfg.SES)
	}
	if !cfg.GraphConfigured() || !reflect.DeepEqual(cfg.Graph.ForwardTo, []string{"ops@example.com"}) {
		t.Errorf("Graph: got %+v", cfg.Graph)
	}
	if !reflect.DeepEqual(cfg.Sink.Targets, []string{"stdout", "emldir", "graph"}) {
		t.Errorf("Sink.Targets: got %v", cfg.Sink.Targets)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Errorf("Metrics.Listen: got %q", cfg.Metrics.Listen)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_LISTEN", ":9999")
	t.Setenv("DECODER_LENIENT", "false")

	path := writeConfig(t, "smtp:\n  listen: \":3025\"\ndecoder:\n  lenient: true\n")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Listen != ":9999" {
		t.Errorf("SMTP.Listen: got %q, want %q (env should override YAML)", cfg.SMTP.Listen, ":9999")
	}
	if cfg.Decoder.Lenient {
		t.Error("Decoder.Lenient: env false should override YAML true")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	if _, err := LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file, got nil")
	}
	if _, err := LoadFromFile(writeConfig(t, "smtp: [unclosed")); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		yaml string
	}{
		{name: "log level", yaml: "logging:\n  level: verbose\n"},
		{name: "negative depth", yaml: "decoder:\n  max_depth: -1\n"},
		{name: "zero message size", yaml: "smtp:\n  max_message_size: 0\n"},
		{name: "cert without key", yaml: "tls:\n  cert_file: /c.pem\n"},
		{name: "unknown sink", yaml: "sink:\n  targets: [imap]\n"},
		{name: "emldir without dir", yaml: "sink:\n  targets: [emldir]\n"},
		{name: "ses without sender", yaml: "sink:\n  targets: [ses]\nses:\n  region: us-east-1\n"},
		{name: "graph without secret", yaml: "sink:\n  targets: [graph]\ngraph:\n  tenant_id: t\n  client_id: c\n  sender: s@example.com\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.yaml))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("got %v, want ErrInvalid", err)
			}
		})
	}
}
