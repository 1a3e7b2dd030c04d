package http

import (
	"net/http"
	"net/url"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/molecpathlab/snsxt/internal/config"
)

// TestProxyFuncWithBypass_EmptyNoProxy verifies that an empty noProxy always routes through proxy.
func TestProxyFuncWithBypass_EmptyNoProxy(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "")

	req, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected proxy URL, got nil (direct)")
	}
	if result.Host != "proxy.corp:8080" {
		t.Errorf("expected proxy host proxy.corp:8080, got %s", result.Host)
	}
}

// TestProxyFuncWithBypass_WildcardDomain verifies *.example.com bypasses api.example.com.
func TestProxyFuncWithBypass_WildcardDomain(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.example.com")

	// Subdomain should bypass proxy
	req, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil (bypass) for api.example.com, got %v", result)
	}
}

// TestProxyFuncWithBypass_ExactDomain verifies example.com bypasses root and subdomains.
func TestProxyFuncWithBypass_ExactDomain(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "example.com")

	// Root domain should bypass
	req, _ := http.NewRequest("GET", "https://example.com/data", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil (bypass) for example.com, got %v", result)
	}

	// Subdomain should also bypass (per httpproxy spec, domain without leading dot matches subdomains)
	req2, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	result2, err := proxyFunc(req2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result2 != nil {
		t.Errorf("expected nil (bypass) for api.example.com, got %v", result2)
	}
}

// TestProxyFuncWithBypass_CIDR verifies IP/CIDR range matching.
func TestProxyFuncWithBypass_CIDR(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "10.0.0.0/8")

	// IP in range should bypass
	req, _ := http.NewRequest("GET", "http://10.1.2.3:8080/api", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil (bypass) for 10.1.2.3, got %v", result)
	}
}

// TestProxyFuncWithBypass_NonMatchingHost verifies non-matching hosts route through proxy.
func TestProxyFuncWithBypass_NonMatchingHost(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.internal.corp,10.0.0.0/8")

	// External host should use proxy
	req, _ := http.NewRequest("GET", "https://hooks.example.org/snsxt", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected proxy URL for hooks.example.org, got nil (direct)")
	}
	if result.Host != "proxy.corp:8080" {
		t.Errorf("expected proxy host proxy.corp:8080, got %s", result.Host)
	}
}

// TestProxyFuncWithBypass_MultiplePatterns verifies comma-separated patterns work.
func TestProxyFuncWithBypass_MultiplePatterns(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.example.com, 192.168.0.0/16, internal.corp")

	tests := []struct {
		name       string
		url        string
		wantBypass bool
	}{
		{"wildcard match", "https://api.example.com/data", true},
		{"cidr match", "http://192.168.1.100/api", true},
		{"exact domain match", "https://internal.corp/status", true},
		{"non-match", "https://hooks.example.org/snsxt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", tt.url, nil)
			result, err := proxyFunc(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantBypass && result != nil {
				t.Errorf("expected bypass (nil) for %s, got %v", tt.url, result)
			}
			if !tt.wantBypass && result == nil {
				t.Errorf("expected proxy for %s, got nil (bypass)", tt.url)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		proxy    config.ProxyConfig
		validate func(t *testing.T, c *http.Client, err error)
	}{
		{
			name:  "no proxy",
			proxy: config.ProxyConfig{},
			validate: func(t *testing.T, c *http.Client, err error) {
				if err != nil {
					t.Fatalf("NewClient() error = %v", err)
				}
				tr, ok := c.Transport.(*http.Transport)
				if !ok || tr.Proxy != nil {
					t.Errorf("transport = %T, want a direct *http.Transport", c.Transport)
				}
			},
		},
		{
			name:  "basic uses default port",
			proxy: config.ProxyConfig{Mode: "basic", Host: "proxy.corp", User: "u", Password: "p"},
			validate: func(t *testing.T, c *http.Client, err error) {
				if err != nil {
					t.Fatalf("NewClient() error = %v", err)
				}
				tr := c.Transport.(*http.Transport)
				req, _ := http.NewRequest("POST", "https://hooks.example.org/snsxt", nil)
				u, err := tr.Proxy(req)
				if err != nil || u == nil || u.Host != "proxy.corp:8080" {
					t.Fatalf("proxy = %v, %v", u, err)
				}
				if pw, _ := u.User.Password(); u.User.Username() != "u" || pw != "p" {
					t.Errorf("proxy credentials = %v", u.User)
				}
			},
		},
		{
			name:  "ntlm wraps transport",
			proxy: config.ProxyConfig{Mode: "NTLM", Host: "proxy.corp", Port: 3128},
			validate: func(t *testing.T, c *http.Client, err error) {
				if err != nil {
					t.Fatalf("NewClient() error = %v", err)
				}
				if _, ok := c.Transport.(ntlmssp.Negotiator); !ok {
					t.Errorf("transport = %T, want ntlmssp.Negotiator", c.Transport)
				}
			},
		},
		{
			name:  "basic without host",
			proxy: config.ProxyConfig{Mode: "basic"},
			validate: func(t *testing.T, c *http.Client, err error) {
				if err == nil {
					t.Error("NewClient() should reject a proxy mode without host")
				}
			},
		},
		{
			name:  "unknown mode",
			proxy: config.ProxyConfig{Mode: "socks"},
			validate: func(t *testing.T, c *http.Client, err error) {
				if err == nil {
					t.Error("NewClient() should reject an unknown mode")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.proxy)
			tt.validate(t, c, err)
		})
	}
}

func TestNeedsProxyPassword(t *testing.T) {
	tests := []struct {
		proxy config.ProxyConfig
		want  bool
	}{
		{config.ProxyConfig{Mode: "basic", User: "u"}, true},
		{config.ProxyConfig{Mode: "ntlm", User: "u", Password: "p"}, false},
		{config.ProxyConfig{Mode: "system", User: "u"}, false},
		{config.ProxyConfig{Mode: "basic"}, false},
	}
	for _, tt := range tests {
		if got := NeedsProxyPassword(tt.proxy); got != tt.want {
			t.Errorf("NeedsProxyPassword(%+v) = %v, want %v", tt.proxy, got, tt.want)
		}
	}
}
