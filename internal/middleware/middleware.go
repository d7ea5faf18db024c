// Package middleware provides HTTP middleware functions
package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/apperr"
	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/metrics"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/response"
)

type contextKey string

const (
	SessionContextKey   contextKey = "session"
	RequestIDContextKey contextKey = "request_id"
	ClientIPContextKey  contextKey = "client_ip"
)

const (
	RequestIDHeader = "X-Request-ID"
	SessionCookie   = "session"
	UnknownAgent    = "Unknown"
)

// MsgAuthRequired is returned when a protected route is called without a token
const MsgAuthRequired = "Authentication required."

// RequestID tags every request with an id, reusing a well-formed incoming one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the id assigned by RequestID
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// AccessLog logs every request and records its latency
func AccessLog(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger).Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			route := r.URL.Path
			if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
				route = "unmatched"
			}
			m.ObserveRequest(r.Method, route, status, elapsed)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("ip", ClientIP(r)),
			)
		})
	}
}

// SecurityHeaders adds security headers to all responses
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Recover handles panics gracefully
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("panic", err),
						zap.String("request_id", GetRequestID(r.Context())),
						zap.ByteString("stack", debug.Stack()),
					)
					response.JSON(w, http.StatusInternalServerError, false, apperr.MsgInternal, nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RealIP resolves the client address once per request. Forwarded headers are
// honoured only when the connection comes from a trusted proxy.
func RealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ClientIPContextKey, ResolveClientIP(r, trusted))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolveClientIP returns the connection's remote address unless it belongs to
// a trusted proxy. Behind trusted proxies, X-Forwarded-For is walked from the
// right and the first untrusted hop is the client; X-Real-IP is the fallback.
func ResolveClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote := remoteHost(r)
	addr, err := netip.ParseAddr(remote)
	if err != nil || !isTrusted(addr, trusted) {
		return remote
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !isTrusted(hop, trusted) {
			return hop.Unmap().String()
		}
	}

	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return remote
}

// ClientIP returns the address resolved by RealIP, or the remote address when
// RealIP is not in the chain
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPContextKey).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientInfo captures the caller's address and user agent
func ClientInfo(r *http.Request) models.ClientInfo {
	ua := strings.TrimSpace(r.UserAgent())
	if ua == "" {
		ua = UnknownAgent
	}
	return models.ClientInfo{IP: ClientIP(r), UserAgent: ua}
}

// RateLimiter decides whether a client may call an endpoint
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, endpoint string, client models.ClientInfo) bool
	RateLimitStatus(ctx context.Context, endpoint string, client models.ClientInfo) (limit, remaining int)
}

// RateLimit counts each request against endpoint and rejects the client once its window is spent
func RateLimit(limiter RateLimiter, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientInfo(r)
			allowed := limiter.CheckRateLimit(r.Context(), endpoint, client)

			limit, remaining := limiter.RateLimitStatus(r.Context(), endpoint, client)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				response.Error(w, nil, apperr.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticator resolves a bearer token to a live session
type Authenticator interface {
	Authenticate(ctx context.Context, token string, client models.ClientInfo) (*models.Session, error)
}

// Auth middleware for protected routes
type Auth struct {
	authn  Authenticator
	logger *zap.Logger
}

// NewAuth creates a new auth middleware
func NewAuth(authn Authenticator, logger *zap.Logger) *Auth {
	return &Auth{authn: authn, logger: logging.OrNop(logger)}
}

// RequireAuth rejects requests without a live session and stores the session in the context
func (m *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			response.Error(w, m.logger, apperr.Auth(MsgAuthRequired))
			return
		}

		sess, err := m.authn.Authenticate(r.Context(), token, ClientInfo(r))
		if err != nil {
			response.Error(w, m.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest reads the session token from the Authorization header or the session cookie
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}

	cookie, err := r.Cookie(SessionCookie)
	if err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// GetSession retrieves the session from the request context
func GetSession(r *http.Request) *models.Session {
	sess, ok := r.Context().Value(SessionContextKey).(*models.Session)
	if !ok {
		return nil
	}
	return sess
}

// Chain applies middleware in order
func Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
