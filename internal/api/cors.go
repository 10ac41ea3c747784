package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration. AllowOrigins may contain "*" to
// accept any origin; otherwise a matching request Origin is echoed back.
type CORSConfig struct {
	AllowOrigins  []string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int
}

// DefaultCORSConfig returns permissive CORS config so a viewer page on
// another origin can poll frames and read their identifiers.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"},
		ExposeHeaders: []string{"X-Frame-Id", "X-Frame-Sequence"},
		MaxAge:        86400,
	}
}

// ParseOrigins splits a comma separated origin list. An empty list means
// any origin.
func ParseOrigins(s string) []string {
	var origins []string
	for o := range strings.SplitSeq(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// corsPolicy is a CORSConfig with its header values joined once.
type corsPolicy struct {
	anyOrigin bool
	origins   []string
	methods   string
	headers   string
	expose    string
	maxAge    string
}

func newCORSPolicy(c CORSConfig) *corsPolicy {
	return &corsPolicy{
		anyOrigin: len(c.AllowOrigins) == 0 || slices.Contains(c.AllowOrigins, "*"),
		origins:   c.AllowOrigins,
		methods:   strings.Join(c.AllowMethods, ", "),
		headers:   strings.Join(c.AllowHeaders, ", "),
		expose:    strings.Join(c.ExposeHeaders, ", "),
		maxAge:    strconv.Itoa(c.MaxAge),
	}
}

// headersFor returns the response headers for a request from origin, or nil
// when the origin is not allowed.
func (p *corsPolicy) headersFor(origin string, preflight bool) map[string]string {
	h := map[string]string{}
	switch {
	case p.anyOrigin:
		h["Access-Control-Allow-Origin"] = "*"
	case origin != "" && slices.Contains(p.origins, origin):
		h["Access-Control-Allow-Origin"] = origin
		h["Vary"] = "Origin"
	default:
		return nil
	}
	if preflight {
		h["Access-Control-Allow-Methods"] = p.methods
		h["Access-Control-Allow-Headers"] = p.headers
		h["Access-Control-Max-Age"] = p.maxAge
	} else if p.expose != "" {
		h["Access-Control-Expose-Headers"] = p.expose
	}
	return h
}

// NewCORSMiddleware adds CORS headers to huma responses.
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	policy := newCORSPolicy(config)
	return func(ctx huma.Context, next func(huma.Context)) {
		for k, v := range policy.headersFor(ctx.Header("Origin"), false) {
			ctx.SetHeader(k, v)
		}
		next(ctx)
	}
}

// AddCORSHandler answers preflight requests on the mux, since huma only
// sees OPTIONS for routes that declare it.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	policy := newCORSPolicy(config)
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		headers := policy.headersFor(r.Header.Get("Origin"), true)
		if headers == nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
