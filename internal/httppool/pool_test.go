package httppool

import (
	"testing"
	"time"
)

func TestNoProxiesFallsBackToDirect(t *testing.T) {
	p, err := New(nil, 10*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ProxyCount() != 0 {
		t.Fatalf("expected 0 proxies, got %d", p.ProxyCount())
	}
	if p.Proxied() != p.Direct() {
		t.Fatal("Proxied should fall back to Direct when no proxies configured")
	}
}

func TestRoundRobinCycles(t *testing.T) {
	urls := []string{
		"http://proxy1.example.com:8080",
		"http://proxy2.example.com:8080",
		"http://proxy3.example.com:8080",
	}
	p, err := New(urls, 10*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ProxyCount() != 3 {
		t.Fatalf("expected 3 proxies, got %d", p.ProxyCount())
	}

	first := p.Proxied()
	p.Proxied()
	p.Proxied()
	wrapped := p.Proxied()
	if wrapped != first {
		t.Fatal("expected round-robin to wrap back to the first client after a full cycle")
	}
}

func TestInvalidProxyURLRejected(t *testing.T) {
	if _, err := New([]string{"://not-a-url"}, time.Second); err == nil {
		t.Fatal("expected error for malformed proxy URL")
	}
}
