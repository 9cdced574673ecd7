package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"rmcloud/internal/api"
)

// authMiddleware returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			writeRejection(w, api.NewError(api.ErrorTypeUnauthorized, "missing or invalid access token", nil))
			return
		}
		next(w, r)
	}
}

// localhostGuard rejects requests from non-loopback peers when enabled.
// Plain HTTP is only trusted on the local machine.
func localhostGuard(enabled bool, next http.HandlerFunc) http.HandlerFunc {
	if !enabled {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r.RemoteAddr) {
			writeRejection(w, api.NewError(api.ErrorTypeForbidden,
				"plain HTTP is only served to localhost; enable TLS or server.allow_insecure", nil))
			return
		}
		next(w, r)
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func writeRejection(w http.ResponseWriter, apiErr *api.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(api.Failure(apiErr))
}
