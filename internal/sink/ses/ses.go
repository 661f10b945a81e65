// Package ses implements a Sink that forwards decoded mail via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// ErrNoRecipients is returned when neither ForwardTo nor the mail's To
// header yields an address.
var ErrNoRecipients = errors.New("ses: no recipients")

// Config holds the configuration for creating a Sink.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string

	// ForwardTo overrides the recipients taken from the To header.
	ForwardTo []string

	// Raw forwards the original message bytes instead of a rebuilt message.
	Raw bool
}

// Sink forwards decoded mail via the AWS SES v2 API.
type Sink struct {
	sender     string
	forwardTo  []string
	raw        bool
	client     SendEmailAPI
	retryDelay time.Duration
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Sink with the given configuration.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Sink with a custom client, used for testing.
func NewWithClient(cfg Config, client SendEmailAPI) *Sink {
	return &Sink{
		sender:     cfg.Sender,
		forwardTo:  cfg.ForwardTo,
		raw:        cfg.Raw,
		client:     client,
		retryDelay: baseRetryDelay,
	}
}

// Deliver forwards m. The original bytes are sent when configured and
// available; mails with attachments are rebuilt as MIME, the rest use the
// SES simple format.
func (s *Sink) Deliver(ctx context.Context, m *mail.ParsedMail) error {
	to, err := s.recipients(m)
	if err != nil {
		return err
	}

	var input *sesv2.SendEmailInput
	switch {
	case s.raw && len(m.Raw) > 0:
		input = rawInput(s.sender, to, m.Bytes())
	case len(m.Attachments) > 0:
		raw, err := buildRawMessage(s.sender, to, m)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = rawInput(s.sender, to, raw)
	default:
		input = buildSimpleInput(s.sender, to, m)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			delay := backoffDelay(s.retryDelay, attempt)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"subject", m.Subject,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "ses"
}

func (s *Sink) recipients(m *mail.ParsedMail) ([]string, error) {
	if len(s.forwardTo) > 0 {
		return s.forwardTo, nil
	}
	list, err := netmail.ParseAddressList(m.To)
	if err != nil || len(list) == 0 {
		return nil, fmt.Errorf("%w: To %q", ErrNoRecipients, m.To)
	}
	to := make([]string, 0, len(list))
	for _, a := range list {
		to = append(to, a.Address)
	}
	return to, nil
}

func rawInput(sender string, to []string, data []byte) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: data,
			},
		},
	}
}

// buildSimpleInput creates a SES SendEmailInput for mails without attachments.
func buildSimpleInput(sender string, to []string, m *mail.ParsedMail) *sesv2.SendEmailInput {
	body := &types.Body{}

	if html := strings.Join(m.ContentHTML, "\n"); html != "" {
		body.Html = &types.Content{
			Data:    aws.String(html),
			Charset: aws.String("UTF-8"),
		}
	}
	if text := strings.Join(m.ContentText, "\n"); text != "" {
		body.Text = &types.Content{
			Data:    aws.String(text),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(m.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
	if replyTo := replyAddress(m.From); replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}
	return input
}

// buildRawMessage constructs a raw MIME message for mails with attachments.
func buildRawMessage(sender string, to []string, m *mail.ParsedMail) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	if replyTo := replyAddress(m.From); replyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", m.Subject))
	if id := m.Headers.Get("Message-ID"); id != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", id)
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodies := []struct {
		contentType string
		parts       []string
	}{
		{"text/plain; charset=UTF-8", m.ContentText},
		{"text/html; charset=UTF-8", m.ContentHTML},
	}
	for _, b := range bodies {
		for _, text := range b.parts {
			bodyHeader := make(textproto.MIMEHeader)
			bodyHeader.Set("Content-Type", b.contentType)
			bodyHeader.Set("Content-Transfer-Encoding", "base64")
			part, err := writer.CreatePart(bodyHeader)
			if err != nil {
				return nil, fmt.Errorf("failed to create body part: %w", err)
			}
			part.Write([]byte(encodeBase64WithLineBreaks([]byte(text))))
		}
	}

	for _, att := range m.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", mime.QEncoding.Encode("UTF-8", att.Filename)))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		part.Write([]byte(encodeBase64WithLineBreaks(att.Data)))
	}

	writer.Close()
	return buf.Bytes(), nil
}

// replyAddress returns the bare sender address of the original mail.
func replyAddress(from string) string {
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return ""
	}
	return addr.Address
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
