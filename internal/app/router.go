package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/keygate-io/keygate/internal/access"
	"github.com/keygate-io/keygate/internal/audit"
	"github.com/keygate-io/keygate/internal/groups"
	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/observability"
	"github.com/keygate-io/keygate/internal/resources"
	"github.com/keygate-io/keygate/internal/session"
	"github.com/keygate-io/keygate/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Auth             session.Middleware
	SessionHandler   *session.Handler
	KeysHandler      *keys.Handler
	ResourcesHandler *resources.Handler
	AccessHandler    *access.Handler
	GroupsHandler    *groups.Handler
	AuditHandler     *audit.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// Credential exchange is public and rate limited per client IP.
	r.Route("/auth", func(r chi.Router) {
		r.Use(authRateLimiter(params.Config))
		params.SessionHandler.MountRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.Auth.Authenticate)

		r.Route("/keys", params.KeysHandler.MountRoutes)

		r.Route("/resources", func(r chi.Router) {
			params.ResourcesHandler.MountRoutes(r)
			params.AccessHandler.MountRoutes(r)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Use(params.Auth.RequirePermissions(shared.PermGroupsManage))
			params.GroupsHandler.MountGroupRoutes(r)
		})
		r.Route("/keychains", func(r chi.Router) {
			r.Use(params.Auth.RequireOwner)
			r.Use(params.Auth.RequirePermissions(shared.PermGroupsManage))
			params.GroupsHandler.MountKeychainRoutes(r)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(params.Auth.RequireOwner)
			r.Use(params.Auth.RequirePermissions(shared.PermAuditView))
			params.AuditHandler.MountRoutes(r)
		})
	})

	return r
}

func authRateLimiter(cfg *Config) func(http.Handler) http.Handler {
	limit, window := 20, time.Minute
	if cfg != nil && cfg.AuthRateLimit > 0 {
		limit = cfg.AuthRateLimit
	}
	if cfg != nil && cfg.AuthRateWindow > 0 {
		window = cfg.AuthRateWindow
	}
	return httprate.Limit(limit, window, httprate.WithKeyFuncs(httprate.KeyByIP))
}
