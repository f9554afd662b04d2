package util

import (
	"net/http"
	"net/url"
	"testing"
)

func proxyFor(t *testing.T, fn func(*http.Request) (*url.URL, error), rawURL string) *url.URL {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	u, err := fn(req)
	if err != nil {
		t.Fatalf("proxy func failed: %v", err)
	}
	return u
}

func TestNewProxyFunc_ExplicitProxies(t *testing.T) {
	fn := NewProxyFunc("http://proxy:3128", "http://sproxy:3128", "")

	if got := proxyFor(t, fn, "http://api.example.com/v1"); got == nil || got.Host != "proxy:3128" {
		t.Errorf("expected http proxy, got %v", got)
	}
	if got := proxyFor(t, fn, "https://api.example.com/v1"); got == nil || got.Host != "sproxy:3128" {
		t.Errorf("expected https proxy, got %v", got)
	}
}

func TestNewProxyFunc_HTTPProxyCoversHTTPS(t *testing.T) {
	fn := NewProxyFunc("http://proxy:3128", "", "")

	if got := proxyFor(t, fn, "https://api.example.com/v1"); got == nil || got.Host != "proxy:3128" {
		t.Errorf("expected fallback to http proxy, got %v", got)
	}
}

func TestNewProxyFunc_NoProxyList(t *testing.T) {
	fn := NewProxyFunc("http://proxy:3128", "", "localhost, .internal.example.com")

	if got := proxyFor(t, fn, "http://localhost:11434/api"); got != nil {
		t.Errorf("expected direct connection for localhost, got %v", got)
	}
	if got := proxyFor(t, fn, "http://ollama.internal.example.com/api"); got != nil {
		t.Errorf("expected direct connection for suffix match, got %v", got)
	}
	if got := proxyFor(t, fn, "http://api.example.com/v1"); got == nil {
		t.Error("expected proxy for non-exempt host")
	}
}

func TestHostExempt(t *testing.T) {
	tests := []struct {
		host string
		skip []string
		want bool
	}{
		{"localhost", []string{"localhost"}, true},
		{"sub.corp.example.com", []string{".corp.example.com"}, true},
		{"sub.corp.example.com", []string{"corp.example.com"}, true},
		{"corpexample.com", []string{"corp.example.com"}, false},
		{"anything.com", []string{"*"}, true},
		{"api.example.com", nil, false},
	}

	for _, tt := range tests {
		if got := hostExempt(tt.host, tt.skip); got != tt.want {
			t.Errorf("hostExempt(%q, %v) = %v, want %v", tt.host, tt.skip, got, tt.want)
		}
	}
}
