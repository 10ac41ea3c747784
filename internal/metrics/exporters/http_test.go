package exporters

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/shmview/internal/metrics"
)

func scrape(t *testing.T, handler http.Handler, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	return w
}

func TestHTTPHandler(t *testing.T) {
	handler := HTTPHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	metrics.SetRing("http-test-ring", metrics.RingMetrics{WriteIndex: 25, Active: true})
	defer metrics.DeleteRing("http-test-ring")

	tests := []struct {
		name        string
		accept      string
		contentType string
		eof         bool
	}{
		{"text format", "", "text/plain", false},
		{"openmetrics", "application/openmetrics-text; version=1.0.0", "application/openmetrics-text", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := scrape(t, handler, tt.accept)
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("Content-Type = %q, want %s", ct, tt.contentType)
			}
			body := w.Body.String()
			if !strings.Contains(body, `shmview_ring_write_index{shm_name="http-test-ring"} 25`) {
				t.Errorf("ring metric missing from response:\n%s", body)
			}
			if got := strings.HasSuffix(strings.TrimSpace(body), "# EOF"); got != tt.eof {
				t.Errorf("EOF marker present = %v, want %v", got, tt.eof)
			}
		})
	}
}

func TestHTTPHandlerCountsScrapes(t *testing.T) {
	handler := HTTPHandler(nil)
	scrape(t, handler, "")
	body := scrape(t, handler, "").Body.String()
	if !strings.Contains(body, `promhttp_metric_handler_requests_total{code="200"}`) {
		t.Errorf("scrape counter missing:\n%s", body)
	}
}
