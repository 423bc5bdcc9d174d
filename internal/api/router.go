package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hirohiro424/sparkling/internal/api/handlers"
	"github.com/hirohiro424/sparkling/internal/api/middleware"
	"github.com/hirohiro424/sparkling/internal/llm"
	"github.com/hirohiro424/sparkling/internal/metrics"
	"github.com/hirohiro424/sparkling/internal/prompt"
	"github.com/hirohiro424/sparkling/internal/queue"
	"github.com/hirohiro424/sparkling/internal/run"
)

// Deps are the services the HTTP surface is built on. Queue, Metrics and
// Checks are optional.
type Deps struct {
	Prompts *prompt.Service
	Runs    *run.Orchestrator
	Gateway llm.Gateway
	Queue   queue.Enqueuer
	Metrics *metrics.Collector
	// Checks run on /readyz, keyed by dependency name.
	Checks      map[string]handlers.Check
	CORSOrigins []string
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

type Router struct {
	mux  *chi.Mux
	deps Deps
	rl   *middleware.RateLimiter
}

func NewRouter(deps Deps) *Router {
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Router{mux: chi.NewRouter(), deps: deps}
}

// Close stops the rate limiter's janitor.
func (rt *Router) Close() {
	if rt.rl != nil {
		rt.rl.Stop()
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.deps.Metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.deps.CORSOrigins))

	if rt.deps.RateLimit > 0 {
		burst := rt.deps.RateBurst
		if burst <= 0 {
			burst = int(2 * rt.deps.RateLimit)
		}
		rt.rl = middleware.NewRateLimiter(rt.deps.RateLimit, burst)
		r.Use(rt.rl.Limit)
	}

	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())

	promptH := handlers.NewPromptHandler(rt.deps.Prompts)
	runH := handlers.NewRunHandler(rt.deps.Runs, rt.deps.Queue)
	llmH := handlers.NewLLMHandler(rt.deps.Gateway)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/llm", func(r chi.Router) {
			r.Post("/chat", llmH.Chat)
			r.Post("/chat/stream", llmH.ChatStream)
			r.Get("/models", llmH.Models)
		})

		r.Post("/define", promptH.Define)
		r.Post("/edit", promptH.Edit)

		r.Route("/prompts", func(r chi.Router) {
			r.Post("/", promptH.Define)
			r.Get("/", promptH.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", promptH.Get)
				r.Delete("/", promptH.Delete)
				r.Post("/edit", promptH.Edit)
				r.Get("/versions", promptH.Versions)
				r.Get("/version/{version}", promptH.Version)
				r.Get("/diff", promptH.Diff)
				r.Post("/rollback", promptH.Rollback)
				r.Put("/result", promptH.Result)
				r.Post("/result", promptH.Result)
				r.Get("/criteria", promptH.Criteria)
				r.Put("/criteria", promptH.ReplaceCriteria)
				r.Post("/checklist", promptH.Checklist)
				r.Post("/review", promptH.Review)
				r.Get("/reviews", promptH.Reviews)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", runH.Create)
			r.Get("/{id}", runH.Get)
			r.Post("/{id}/meta", runH.Meta)
			r.Get("/{id}/evaluation", runH.Evaluation)
		})
		r.Post("/evals", runH.Evaluate)
	})

	return r
}
