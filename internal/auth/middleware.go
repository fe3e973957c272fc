// Package auth guards the HTTP endpoints of the serve command with
// basic authentication against bcrypt password hashes.
package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRemoteIP
)

const wwwAuthenticate = `Basic realm="workspace-sync", charset="UTF-8"`

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Middleware returns HTTP middleware that requires basic authentication
// for every request. Repeated failures from one IP are answered with 429
// until the failure window expires.
func Middleware(users UserCredentials, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := newLoginRateLimiter()

	return middleware(users, logger, limiter)
}

func middleware(users UserCredentials, logger *slog.Logger, limiter *loginRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if limiter.check(ip) {
				logger.Warn("middleware: login rate limited", slog.String("ip", ip))
				http.Error(w, "too many failed login attempts, try again later", http.StatusTooManyRequests)

				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				logger.Debug("middleware: no credentials",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthenticate)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			if !users.Verify(username, password) {
				logger.Warn("middleware: login failed",
					slog.String("username", username),
					slog.String("ip", ip),
				)
				limiter.record(ip)
				w.Header().Set("WWW-Authenticate", wwwAuthenticate)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("user_id", username),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUserID, username)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
