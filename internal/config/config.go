// Package config provides layered configuration loading: defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Sink targets.
const (
	SinkStdout = "stdout"
	SinkEmlDir = "emldir"
	SinkSES    = "ses"
	SinkGraph  = "graph"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Decoder DecoderConfig `yaml:"decoder"`
	POP3    POP3Config    `yaml:"pop3"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	TLS     TLSConfig     `yaml:"tls"`
	Output  OutputConfig  `yaml:"output"`
	SES     SESConfig     `yaml:"ses"`
	Graph   GraphConfig   `yaml:"graph"`
	Sink    SinkConfig    `yaml:"sink"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DecoderConfig mirrors parser.Options.
type DecoderConfig struct {
	Lenient          bool     `yaml:"lenient"`
	MaxDepth         int      `yaml:"max_depth"`
	FallbackCharsets []string `yaml:"fallback_charsets"`
	DetectCharset    bool     `yaml:"detect_charset"`
}

// POP3Config holds mailbox credentials. Host, port and TLS are looked up
// from the user's domain when Host is empty.
type POP3Config struct {
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	TLS           bool          `yaml:"tls"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	Timeout       time.Duration `yaml:"timeout"`

	// Enterprise selects a hosted-domain preset ("qq", "ali").
	Enterprise string `yaml:"enterprise"`
}

// SMTPConfig holds the intake server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// OutputConfig configures where decoded mail and attachments are written.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Attachments bool   `yaml:"attachments"`
	Overwrite   bool   `yaml:"overwrite"`
}

// SESConfig holds AWS SES forwarding configuration.
type SESConfig struct {
	Region          string   `yaml:"region"`
	AccessKeyID     string   `yaml:"access_key_id"`
	SecretAccessKey string   `yaml:"secret_access_key"`
	Sender          string   `yaml:"sender"`
	ForwardTo       []string `yaml:"forward_to"`
	Raw             bool     `yaml:"raw"`
}

// GraphConfig holds Microsoft Graph forwarding configuration.
type GraphConfig struct {
	TenantID     string   `yaml:"tenant_id"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Sender       string   `yaml:"sender"`
	ForwardTo    []string `yaml:"forward_to"`
}

// SinkConfig lists the targets decoded mail is delivered to.
type SinkConfig struct {
	Targets []string `yaml:"targets"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be repaired with a default.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalid, c.Logging.Level)
	}
	if c.Decoder.MaxDepth < 0 {
		return fmt.Errorf("%w: decoder.max_depth %d", ErrInvalid, c.Decoder.MaxDepth)
	}
	if c.SMTP.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: smtp.max_message_size %d", ErrInvalid, c.SMTP.MaxMessageSize)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("%w: tls.cert_file and tls.key_file must be set together", ErrInvalid)
	}
	for _, target := range c.Sink.Targets {
		switch target {
		case SinkStdout:
		case SinkEmlDir:
			if c.Output.Dir == "" {
				return fmt.Errorf("%w: sink %q needs output.dir", ErrInvalid, target)
			}
		case SinkSES:
			if !c.SESConfigured() {
				return fmt.Errorf("%w: sink %q needs ses.region and ses.sender", ErrInvalid, target)
			}
		case SinkGraph:
			if !c.GraphConfigured() {
				return fmt.Errorf("%w: sink %q needs graph tenant_id, client_id, client_secret and sender", ErrInvalid, target)
			}
		default:
			return fmt.Errorf("%w: unknown sink %q", ErrInvalid, target)
		}
	}
	return nil
}

// SESConfigured returns true if the settings SES forwarding needs are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all Microsoft Graph credentials are set.
func (c *Config) GraphConfigured() bool {
	g := c.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" && g.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// HasSink reports whether target is among the configured sink targets.
func (c *Config) HasSink(target string) bool {
	return slices.Contains(c.Sink.Targets, target)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Logging.Level = "info"
	c.POP3.TLS = true
	c.POP3.Timeout = 30 * time.Second
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Sink.Targets = []string{SinkStdout}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	envBool("DECODER_LENIENT", &c.Decoder.Lenient)
	envInt("DECODER_MAX_DEPTH", &c.Decoder.MaxDepth)
	envList("DECODER_FALLBACK_CHARSETS", &c.Decoder.FallbackCharsets)
	envBool("DECODER_DETECT_CHARSET", &c.Decoder.DetectCharset)

	envString("POP3_USER", &c.POP3.User)
	envString("POP3_PASSWORD", &c.POP3.Password)
	envString("POP3_HOST", &c.POP3.Host)
	envInt("POP3_PORT", &c.POP3.Port)
	envBool("POP3_TLS", &c.POP3.TLS)
	envBool("POP3_TLS_SKIP_VERIFY", &c.POP3.TLSSkipVerify)
	envString("POP3_ENTERPRISE", &c.POP3.Enterprise)
	if v := os.Getenv("POP3_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.POP3.Timeout = d
		}
	}

	envString("SMTP_LISTEN", &c.SMTP.Listen)
	envString("SMTP_HOSTNAME", &c.SMTP.Hostname)
	envString("SMTP_USERNAME", &c.SMTP.Username)
	envString("SMTP_PASSWORD", &c.SMTP.Password)
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	envString("TLS_CERT_FILE", &c.TLS.CertFile)
	envString("TLS_KEY_FILE", &c.TLS.KeyFile)

	envString("OUTPUT_DIR", &c.Output.Dir)
	envBool("OUTPUT_ATTACHMENTS", &c.Output.Attachments)
	envBool("OUTPUT_OVERWRITE", &c.Output.Overwrite)

	envString("SES_REGION", &c.SES.Region)
	envString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	envString("SES_SENDER", &c.SES.Sender)
	envList("SES_FORWARD_TO", &c.SES.ForwardTo)
	envBool("SES_RAW", &c.SES.Raw)

	envString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	envString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	envString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	envString("GRAPH_SENDER", &c.Graph.Sender)
	envList("GRAPH_FORWARD_TO", &c.Graph.ForwardTo)

	envList("SINK_TARGETS", &c.Sink.Targets)
	envString("METRICS_LISTEN", &c.Metrics.Listen)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt ignores values that are not integers.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// envBool ignores values strconv.ParseBool rejects.
func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// envList splits a comma separated value, dropping empty items.
func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}
