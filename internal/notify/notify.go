// Package notify tells people how a run ended. The webhook notifier posts
// a JSON message that a mail relay turns into the success or error email;
// the log notifier only records what would have been sent.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/molecpathlab/snsxt/internal/config"
	snshttp "github.com/molecpathlab/snsxt/internal/http"
	"github.com/molecpathlab/snsxt/internal/logging"
)

// Status of a finished run.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Attachment is a file offered with a notification.
type Attachment struct {
	Path string `json:"path"`
	Size string `json:"size"`
}

// Message is one run notification.
type Message struct {
	RunID       string       `json:"run_id"`
	Status      string       `json:"status"`
	Subject     string       `json:"subject"`
	AnalysisID  string       `json:"analysis_id"`
	ResultsID   string       `json:"results_id"`
	AnalysisDir string       `json:"analysis_dir"`
	Body        string       `json:"body"`
	Error       string       `json:"error,omitempty"`
	Recipients  []string     `json:"recipients,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SentAt      time.Time    `json:"sent_at"`
}

// Notifier sends run notifications.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Subject returns the mail subject for a run outcome.
func Subject(status, analysisID, resultsID string) string {
	label := "Success"
	if status == StatusError {
		label = "Error"
	}
	return fmt.Sprintf("[snsxt] %s: %s %s", label, analysisID, resultsID)
}

// Attachments keeps the paths that exist, logging the rest. Missing email
// files are dropped rather than failing the notification.
func Attachments(paths []string, logger *logging.Logger) []Attachment {
	var out []Attachment
	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			logger.Warn().Str("file", p).Msg("Email file does not exist, dropping it")
			continue
		}
		out = append(out, Attachment{Path: p, Size: humanize.Bytes(uint64(info.Size()))})
	}
	return out
}

// New returns a webhook notifier when notifications are enabled and a log
// notifier otherwise. The webhook goes through the configured proxy; a
// proxy that cannot be set up falls back to the log notifier.
func New(cfg config.NotifyConfig, logger *logging.Logger) Notifier {
	if !cfg.Enabled || cfg.WebhookURL == "" {
		return NewLogNotifier(logger)
	}
	if snshttp.NeedsProxyPassword(cfg.Proxy) {
		logger.Warn().Str("proxy", cfg.Proxy.Host).Msg("Proxy user set without a password; proxy auth is disabled")
	}
	client, err := snshttp.NewClient(cfg.Proxy)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to configure notification proxy; notifications will only be logged")
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(cfg.WebhookURL, cfg.RecipientList(), logger).WithHTTPClient(client)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	ev := n.logger.Info()
	if msg.Status == StatusError {
		ev = n.logger.Error()
	}
	ev.Str("subject", msg.Subject).Str("run_id", msg.RunID).
		Int("attachments", len(msg.Attachments)).Msg("Run notification (not sent)")
	return nil
}

// retryLogger adapts the run logger to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Interface("details", keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Interface("details", keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Interface("details", keysAndValues).Msg(msg)
}

// WebhookNotifier posts messages as JSON, retrying transient failures.
type WebhookNotifier struct {
	url        string
	recipients []string
	client     *retryablehttp.Client
	logger     *logging.Logger
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, recipients []string, logger *logging.Logger) *WebhookNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = &retryLogger{logger: logger}

	return &WebhookNotifier{url: url, recipients: recipients, client: client, logger: logger}
}

// WithHTTPClient replaces the underlying client, e.g. to route through a proxy.
func (n *WebhookNotifier) WithHTTPClient(c *nethttp.Client) *WebhookNotifier {
	n.client.HTTPClient = c
	return n
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		msg.Recipients = n.recipients
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected: %s: %s", resp.Status, truncate(string(detail), 200))
	}
	n.logger.Info().Str("subject", msg.Subject).Int("recipients", len(msg.Recipients)).Msg("Run notification sent")
	return nil
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
