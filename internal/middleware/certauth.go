// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
)

type ctxKey string

const hostKey ctxKey = "host"

// CertAuth is a middleware that enforces mutual TLS authentication.
//
// Every request must carry a client certificate. The Common Name (CN) of
// the certificate identifies the host application and is stored in the
// request context.
func CertAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cn := commonName(r.TLS)
		if cn == "" {
			http.Error(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), hostKey, cn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func commonName(state *tls.ConnectionState) string {
	if state == nil || len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}

// GetHostFromContext extracts the host name (Common Name from client certificate)
// from the request context. Returns an empty string if not found.
func GetHostFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(hostKey).(string); ok {
		return s
	}
	return ""
}
