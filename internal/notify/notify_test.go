package notify

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/logging"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		status   string
		expected string
	}{
		{StatusSuccess, "[snsxt] Success: NS17-01 results_1"},
		{StatusError, "[snsxt] Error: NS17-01 results_1"},
	}
	for _, tt := range tests {
		if got := Subject(tt.status, "NS17-01", "results_1"); got != tt.expected {
			t.Errorf("Subject(%s) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestAttachments_DropsMissing(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "summary.tsv")
	if err := os.WriteFile(present, make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}

	got := Attachments([]string{present, filepath.Join(dir, "missing.tsv"), present, dir}, logging.NewNopLogger())
	if len(got) != 1 {
		t.Fatalf("Attachments() = %v, want only the existing file", got)
	}
	if got[0].Path != present || got[0].Size != "2.0 kB" {
		t.Errorf("attachment = %+v", got[0])
	}
}

func TestNew(t *testing.T) {
	logger := logging.NewNopLogger()

	if _, ok := New(config.NotifyConfig{}, logger).(*LogNotifier); !ok {
		t.Error("disabled notify config should give a LogNotifier")
	}
	if _, ok := New(config.NotifyConfig{Enabled: true}, logger).(*LogNotifier); !ok {
		t.Error("enabled without a webhook should give a LogNotifier")
	}
	n, ok := New(config.NotifyConfig{Enabled: true, WebhookURL: "http://example.invalid/hook", Recipients: "a@x.org, b@x.org"}, logger).(*WebhookNotifier)
	if !ok {
		t.Fatal("enabled with a webhook should give a WebhookNotifier")
	}
	if len(n.recipients) != 2 || n.recipients[1] != "b@x.org" {
		t.Errorf("recipients = %v", n.recipients)
	}

	bad := config.NotifyConfig{Enabled: true, WebhookURL: "http://example.invalid/hook", Proxy: config.ProxyConfig{Mode: "ntlm"}}
	if _, ok := New(bad, logger).(*LogNotifier); !ok {
		t.Error("an unusable proxy should fall back to a LogNotifier")
	}
	proxied := config.NotifyConfig{Enabled: true, WebhookURL: "http://example.invalid/hook", Proxy: config.ProxyConfig{Mode: "basic", Host: "proxy.corp"}}
	wn, ok := New(proxied, logger).(*WebhookNotifier)
	if !ok {
		t.Fatal("a basic proxy should give a WebhookNotifier")
	}
	if tr, ok := wn.client.HTTPClient.Transport.(*nethttp.Transport); !ok || tr.Proxy == nil {
		t.Errorf("webhook client does not use the proxy: %T", wn.client.HTTPClient.Transport)
	}
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var got Message
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(nethttp.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, []string{"lab@example.org"}, logging.NewNopLogger())
	msg := Message{
		RunID:      "run-1",
		Status:     StatusSuccess,
		Subject:    Subject(StatusSuccess, "NS17-01", "results_1"),
		AnalysisID: "NS17-01",
	}
	if err := n.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got.Subject != msg.Subject || got.RunID != "run-1" {
		t.Errorf("posted message = %+v", got)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "lab@example.org" {
		t.Errorf("recipients = %v, want the notifier default", got.Recipients)
	}
	if got.SentAt.IsZero() {
		t.Error("SentAt not set")
	}
}

func TestWebhookNotifier_Rejected(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusBadRequest)
		w.Write([]byte("bad recipients"))
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, nil, logging.NewNopLogger())
	err := n.Notify(context.Background(), Message{Status: StatusError})
	if err == nil || !strings.Contains(err.Error(), "bad recipients") {
		t.Fatalf("Notify() error = %v, want rejection with body", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, client errors should not be retried", calls.Load())
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(logging.NewNopLogger()).Notify(context.Background(), Message{Status: StatusError}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
}
