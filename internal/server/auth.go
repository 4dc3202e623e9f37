package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docqa-go/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on the wrapped
// routes. An empty apiKey disables the check; New warns about that once at
// startup. Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case token == "":
			rejectAuth(w, r, `Bearer realm="docqa"`, "authorization required")
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			rejectAuth(w, r, `Bearer realm="docqa", error="invalid_token"`, "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// rejectAuth writes a 401 with a WWW-Authenticate challenge.
func rejectAuth(w http.ResponseWriter, r *http.Request, challenge, msg string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("path", r.URL.Path),
		slog.String("cause", msg),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: msg, Reason: "unauthorized"})
}

// bearerToken returns the token of a Bearer Authorization header, or "" when
// the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
