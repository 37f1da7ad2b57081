package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4242"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("unexpected client ip: %q", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5151"
	if got := ClientIP(req); got != "192.0.2.7" {
		t.Fatalf("unexpected client ip: %q", got)
	}
}
