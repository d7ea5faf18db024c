// Package handlers provides HTTP request handlers
package handlers

import (
	"context"
	"net/http"
	"net/netip"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/config"
	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/metrics"
	"github.com/findosh/contactdesk/internal/middleware"
	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/response"
	"github.com/findosh/contactdesk/internal/services/auth"
)

// Rate limited endpoints
const (
	EndpointAdminAuth    = "admin_auth"
	EndpointAdminSession = "admin_session"
)

// AuthService is the login flow the handlers drive
type AuthService interface {
	middleware.RateLimiter
	middleware.Authenticator
	RequestOTP(ctx context.Context, email string, client models.ClientInfo) (*auth.OTPRequestResult, error)
	VerifyOTP(ctx context.Context, email, code string, client models.ClientInfo) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string, client models.ClientInfo) error
}

// Pinger reports whether the datastore answers
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the handler dependencies
type Deps struct {
	Config   *config.Config
	Auth     AuthService
	DB       Pinger
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
}

// Handler contains all HTTP handlers and dependencies
type Handler struct {
	cfg         *config.Config
	authService AuthService
	db          Pinger
	gatherer    prometheus.Gatherer
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New creates a new handler with all dependencies
func New(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:         deps.Config,
		authService: deps.Auth,
		db:          deps.DB,
		gatherer:    deps.Gatherer,
		metrics:     deps.Metrics,
		logger:      logging.OrNop(logger).Named("handlers"),
	}
}

// Routes builds the router wrapped in the common middleware chain
func (h *Handler) Routes() http.Handler {
	router := httprouter.New()
	requireAuth := middleware.NewAuth(h.authService, h.logger)

	router.Handler(http.MethodPost, "/api/admin/auth", middleware.Chain(
		http.HandlerFunc(h.AdminAuth),
		middleware.RateLimit(h.authService, EndpointAdminAuth),
	))
	router.Handler(http.MethodGet, "/api/admin/session", middleware.Chain(
		http.HandlerFunc(h.AdminSession),
		middleware.RateLimit(h.authService, EndpointAdminSession),
		requireAuth.RequireAuth,
	))
	router.HandlerFunc(http.MethodGet, "/healthz", h.Healthz)
	if h.gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusNotFound, false, "Not found.", nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusMethodNotAllowed, false, "Method not allowed.", nil)
	})

	return middleware.Chain(router,
		middleware.RequestID,
		middleware.RealIP(h.trustedProxies()),
		middleware.Recover(h.logger),
		middleware.AccessLog(h.logger, h.metrics),
		middleware.SecurityHeaders,
		h.cors().Handler,
	)
}

func (h *Handler) cors() *cors.Cors {
	origins := []string{"*"}
	if h.cfg != nil && h.cfg.CORSOrigin != "" {
		origins = strings.Split(h.cfg.CORSOrigin, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: !containsWildcard(origins),
	})
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (h *Handler) trustedProxies() []netip.Prefix {
	if h.cfg == nil {
		return nil
	}
	prefixes, err := h.cfg.TrustedProxyPrefixes()
	if err != nil {
		h.logger.Warn("ignoring invalid trusted proxies", zap.Error(err))
		return nil
	}
	return prefixes
}

func (h *Handler) jsonError(w http.ResponseWriter, err error) {
	response.Error(w, h.logger, err)
}

func (h *Handler) secureCookies() bool {
	return h.cfg != nil && h.cfg.IsProduction()
}
