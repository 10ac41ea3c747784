package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

var (
	errNoCredentials  = errors.New("authentication required")
	errBadAuthScheme  = errors.New("invalid authentication type")
	errBadCredentials = errors.New("invalid credentials format")
)

// requestCredentials extracts basic auth credentials from the
// Authorization header or, for EventSource clients that cannot set
// headers, a base64 "auth" query parameter.
func requestCredentials(ctx huma.Context) (user, pass string, err error) {
	encoded := ctx.Query("auth")
	if header := ctx.Header("Authorization"); header != "" {
		scheme, rest, _ := strings.Cut(header, " ")
		if !strings.EqualFold(scheme, "Basic") {
			return "", "", errBadAuthScheme
		}
		encoded = strings.TrimSpace(rest)
	}
	if encoded == "" {
		return "", "", errNoCredentials
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", errBadCredentials
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", errBadCredentials
	}
	return user, pass, nil
}

// credentialsMatch compares in constant time. Hashing first keeps the
// comparison length independent of the configured secret.
func credentialsMatch(got, want string) bool {
	g, w := sha256.Sum256([]byte(got)), sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}

// basicAuth guards operations that declare a security requirement.
func (s *Server) basicAuth(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		user, pass, err := requestCredentials(ctx)
		if err != nil {
			s.unauthorized(ctx, err.Error())
			return
		}
		userOK := credentialsMatch(user, username)
		passOK := credentialsMatch(pass, password)
		if !userOK || !passOK {
			s.logger.Debug("Rejected credentials", "user", user, "path", ctx.URL().Path)
			s.unauthorized(ctx, "invalid credentials")
			return
		}
		next(ctx)
	}
}

func (s *Server) unauthorized(ctx huma.Context, msg string) {
	ctx.SetHeader("WWW-Authenticate", `Basic realm="shmview API"`)
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
}
