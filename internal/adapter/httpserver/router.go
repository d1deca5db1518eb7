package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	adapterobs "github.com/emagero/second-check/internal/adapter/observability"
	"github.com/emagero/second-check/internal/config"
)

// NewRouter assembles the HTTP surface: CORS, request-id/access-log/
// recovery middleware, a per-IP rate limiter, and the four verification
// endpoints (spec §6).
func NewRouter(cfg config.Config, srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(Recoverer())
	r.Use(TraceMiddleware)
	r.Use(AccessLog())
	r.Use(SecurityHeaders)
	r.Use(chimiddleware.Compress(5))
	r.Use(TimeoutMiddleware(cfg.HTTPWriteTimeout))
	r.Use(adapterobs.HTTPMetricsMiddleware)

	origins := strings.Split(cfg.CORSAllowOrigins, ",")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
	}

	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, map[string]any{"ok": true}) })

	r.Route("/verify", func(r chi.Router) {
		r.Post("/", srv.VerifyHandler())
		r.Get("/{id}", srv.GetHandler())
		r.Get("/job/{jobNo}/latest", srv.LatestByJobHandler())
		r.Get("/check-eligibility/{jobNo}", srv.CheckEligibilityHandler())
	})

	return r
}
