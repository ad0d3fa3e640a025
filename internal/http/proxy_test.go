package http

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/logging"
)

// TestProxyFuncWithBypass_EmptyNoProxy verifies that an empty noProxy always routes through proxy.
func TestProxyFuncWithBypass_EmptyNoProxy(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "", logging.NewNop())

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
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.example.com", logging.NewNop())

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
	proxyFunc := proxyFuncWithBypass(proxyURL, "example.com", logging.NewNop())

	// Root domain should bypass
	req, _ := http.NewRequest("GET", "https://example.com/data", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil (bypass) for example.com, got %v", result)
	}

	// Subdomain should also bypass (httpproxy matches subdomains of a bare domain)
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
	proxyFunc := proxyFuncWithBypass(proxyURL, "10.0.0.0/8", logging.NewNop())

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
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.internal.corp,10.0.0.0/8", logging.NewNop())

	// External host should use proxy
	req, _ := http.NewRequest("GET", "https://discord.com/api/v10/", nil)
	result, err := proxyFunc(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected proxy URL for discord.com, got nil (direct)")
	}
	if result.Host != "proxy.corp:8080" {
		t.Errorf("expected proxy host proxy.corp:8080, got %s", result.Host)
	}
}

// TestProxyFuncWithBypass_MultiplePatterns verifies comma-separated patterns work.
func TestProxyFuncWithBypass_MultiplePatterns(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")
	proxyFunc := proxyFuncWithBypass(proxyURL, "*.example.com, 192.168.0.0/16, internal.corp", logging.NewNop())

	tests := []struct {
		name       string
		url        string
		wantBypass bool
	}{
		{"wildcard match", "https://api.example.com/data", true},
		{"cidr match", "http://192.168.1.100/api", true},
		{"exact domain match", "https://internal.corp/status", true},
		{"non-match", "https://discord.com/api/v10/", false},
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

func TestConfigureHTTPClientModes(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ProxyConfig
		wantErr  bool
		wantNTLM bool
	}{
		{"direct", config.ProxyConfig{Mode: config.ProxyNone}, false, false},
		{"empty mode", config.ProxyConfig{}, false, false},
		{"system", config.ProxyConfig{Mode: config.ProxySystem}, false, false},
		{"basic", config.ProxyConfig{Mode: config.ProxyBasic, Host: "proxy.corp", Port: 3128}, false, false},
		{"ntlm", config.ProxyConfig{Mode: config.ProxyNTLM, Host: "proxy.corp"}, false, true},
		{"ntlm without host", config.ProxyConfig{Mode: config.ProxyNTLM}, false, false},
		{"unknown", config.ProxyConfig{Mode: "socks5"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := ConfigureHTTPClient(tt.cfg, logging.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.Timeout != 0 {
				t.Errorf("client timeout = %v, want 0 (per-request deadlines)", client.Timeout)
			}
			_, isTransport := client.Transport.(*http.Transport)
			if tt.wantNTLM && isTransport {
				t.Error("expected NTLM negotiator wrapping the transport")
			}
			if !tt.wantNTLM && !isTransport {
				t.Errorf("expected *http.Transport, got %T", client.Transport)
			}
		})
	}
}

func TestBuildProxyURL(t *testing.T) {
	u := buildProxyURL(config.ProxyConfig{Host: "proxy.corp", User: "alice", Password: "pw"})
	if u.Host != "proxy.corp:8080" {
		t.Errorf("Host = %s, want default port 8080", u.Host)
	}
	if u.User == nil || u.User.Username() != "alice" {
		t.Errorf("expected embedded credentials, got %v", u.User)
	}

	u = buildProxyURL(config.ProxyConfig{Host: "proxy.corp", Port: 3128, User: "alice"})
	if u.User != nil {
		t.Error("credentials must not be embedded without a password")
	}
}
