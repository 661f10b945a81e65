// Package graph implements a Sink that forwards decoded mail through the
// Microsoft Graph sendMail API, authenticating with OAuth2 client
// credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	netmail "net/mail"
	"net/url"
	"strconv"
	"time"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

const maxRetries = 3

const baseRetryDelay = 1 * time.Second

// ErrNoRecipients is returned when neither ForwardTo nor the mail's To
// header yields an address.
var ErrNoRecipients = errors.New("graph: no recipients")

// Config holds the configuration for creating a Sink.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox the message is sent as.
	Sender string

	// ForwardTo overrides the To and Cc recipients of the mail.
	ForwardTo []string
}

// Sink forwards decoded mail via Microsoft Graph.
type Sink struct {
	forwardTo  []string
	sendURL    string
	httpClient *http.Client
	token      *tokenCache
	retryDelay time.Duration
}

// New creates a Sink talking to the public Graph endpoints.
func New(cfg Config) *Sink {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	sendURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithEndpoints(cfg, sendURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

func newWithEndpoints(cfg Config, sendURL, tokenURL string, client *http.Client) *Sink {
	return &Sink{
		forwardTo:  cfg.ForwardTo,
		sendURL:    sendURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retryDelay: baseRetryDelay,
	}
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "graph"
}

// Deliver forwards m. A 401 triggers one token refresh; 429 honours
// Retry-After; 5xx and network errors back off exponentially.
func (s *Sink) Deliver(ctx context.Context, m *mail.ParsedMail) error {
	to, cc, err := s.recipients(m)
	if err != nil {
		return err
	}

	body, err := json.Marshal(buildSendMailRequest(m, to, cc))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	refreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := s.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *sendError
		if !errors.As(err, &se) {
			return err
		}

		var delay time.Duration
		switch {
		case se.statusCode == http.StatusUnauthorized && !refreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, err := s.token.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("token refresh failed: %w", err)
			}
			refreshed = true
			continue
		case se.statusCode == http.StatusTooManyRequests:
			delay = s.retryAfterDelay(se.retryAfter, attempt)
			slog.Info("rate limited by Graph API", "retry_after", delay)
		case se.transient:
			delay = backoffDelay(s.retryDelay, attempt)
			slog.Info("transient Graph API error, retrying",
				"status", se.statusCode,
				"subject", m.Subject,
				"delay", delay,
			)
		default:
			return se
		}

		if err := sleepWithContext(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

func (s *Sink) recipients(m *mail.ParsedMail) (to, cc []string, err error) {
	if len(s.forwardTo) > 0 {
		return s.forwardTo, nil, nil
	}
	to = parseAddresses(m.To)
	if len(to) == 0 {
		return nil, nil, fmt.Errorf("%w: To %q", ErrNoRecipients, m.To)
	}
	return to, parseAddresses(m.Headers.Get("Cc")), nil
}

// parseAddresses returns the bare addresses of list, or nil when it does not parse.
func parseAddresses(list string) []string {
	if list == "" {
		return nil
	}
	parsed, err := netmail.ParseAddressList(list)
	if err != nil {
		return nil
	}
	addrs := make([]string, 0, len(parsed))
	for _, a := range parsed {
		addrs = append(addrs, a.Address)
	}
	return addrs
}

func replyAddress(from string) string {
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return ""
	}
	return addr.Address
}

// post performs a single sendMail request.
func (s *Sink) post(ctx context.Context, body []byte) error {
	token, err := s.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{message: fmt.Sprintf("HTTP request failed: %v", err), transient: true}
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(resp.Body)
	message := string(raw)
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		message = er.Error.Message
	}
	return classifyError(resp.StatusCode, message, resp.Header.Get("Retry-After"))
}

// sendError is a failed sendMail response, classified for retrying.
type sendError struct {
	message    string
	statusCode int
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError marks 401, 429 and 5xx responses as transient.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	transient := statusCode == http.StatusUnauthorized ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= 500
	return &sendError{
		message:    message,
		statusCode: statusCode,
		transient:  transient,
		retryAfter: retryAfter,
	}
}

// retryAfterDelay uses the Retry-After seconds when present and falls back
// to exponential backoff.
func (s *Sink) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(s.retryDelay, attempt)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
