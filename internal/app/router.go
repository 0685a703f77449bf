package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/intelletix/sudbury-directory/internal/adapter/httpserver"
	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces.
// An empty input yields ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// chatPaths are the interchangeable chat endpoints clients fall back across.
var chatPaths = []string{"/api/chat", "/.netlify/functions/openai-proxy"}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	// The span must exist before RequestID builds the request logger.
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Chat quota is enforced by the gatekeeper; only a wall-clock bound here.
	r.Group(func(cr chi.Router) {
		cr.Use(httpserver.TimeoutMiddleware(cfg.UpstreamTimeout + 5*time.Second))
		for _, p := range chatPaths {
			cr.Post(p, srv.ChatHandler())
		}
	})

	r.Group(func(dr chi.Router) {
		if cfg.DirectoryRateLimitPerMin > 0 {
			dr.Use(httprate.LimitByIP(cfg.DirectoryRateLimitPerMin, time.Minute))
		}
		dr.Get("/api/businesses", srv.BusinessesHandler())
		dr.Get("/api/businesses/suggest", srv.SuggestHandler())
		dr.Get("/api/categories", srv.CategoriesHandler())
	})

	r.Get("/health", srv.HealthHandler())
	r.Get("/.netlify/functions/health", srv.HealthHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	return httpserver.SecurityHeaders(r)
}
