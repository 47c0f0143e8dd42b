package middleware

import (
	"net"
	"net/http"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// RequestMeta attaches the client IP and User-Agent to the request context
// for the import audit trail. It must run after TrustedRealIP.
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := core.WithRequestMeta(r.Context(), core.RequestMeta{
			IPAddress: ip,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
