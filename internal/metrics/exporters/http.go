// Package exporters provides HTTP and SSE exporters for metrics.
package exporters

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler serves every promauto-registered collector. Clients that
// ask for OpenMetrics get it; scrape failures are logged and the
// remaining metrics are still served.
func HTTPHandler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          scrapeLogger{logger},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer, h)
}

// scrapeLogger adapts slog to promhttp.Logger.
type scrapeLogger struct{ l *slog.Logger }

func (s scrapeLogger) Println(v ...any) {
	s.l.Warn("Metrics scrape error", "error", fmt.Sprint(v...))
}
