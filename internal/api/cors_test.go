package api

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{" , ", []string{"*"}},
		{"http://scanner.local/", []string{"http://scanner.local"}},
		{"http://a:8080, http://b", []string{"http://a:8080", "http://b"}},
	}
	for _, tt := range tests {
		if got := ParseOrigins(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("ParseOrigins(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCORSPreflightOrigins(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"http://scanner.local"}

	mux := http.NewServeMux()
	AddCORSHandler(mux, cfg)

	tests := []struct {
		name       string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"allowed origin echoed", "http://scanner.local", http.StatusNoContent, "http://scanner.local"},
		{"unknown origin", "http://evil.example", http.StatusForbidden, ""},
		{"no origin", "", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" && w.Header().Get("Vary") != "Origin" {
				t.Error("echoed origin without Vary: Origin")
			}
		})
	}
}

func TestCORSHeadersOnResponses(t *testing.T) {
	policy := newCORSPolicy(DefaultCORSConfig())

	simple := policy.headersFor("http://anywhere", false)
	if simple["Access-Control-Allow-Origin"] != "*" {
		t.Errorf("allow-origin = %q", simple["Access-Control-Allow-Origin"])
	}
	if simple["Access-Control-Expose-Headers"] != "X-Frame-Id, X-Frame-Sequence" {
		t.Errorf("expose = %q", simple["Access-Control-Expose-Headers"])
	}
	if _, ok := simple["Access-Control-Max-Age"]; ok {
		t.Error("max-age belongs on preflight responses only")
	}

	preflight := policy.headersFor("", true)
	if preflight["Access-Control-Max-Age"] != "86400" || preflight["Access-Control-Allow-Methods"] == "" {
		t.Errorf("preflight headers = %v", preflight)
	}
}
