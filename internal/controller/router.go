package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/newsletters/internal/middleware"
	"github.com/cassiomorais/newsletters/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	DB            Pinger
	RedisClient   redis.Cmdable
	Subscriptions *service.SubscriptionService
	Confirmations *service.ConfirmationService
	Issues        *service.IssueService
	Mailer        *service.MailerService
	Metrics       *observability.Metrics
	// MetricsHandler serves /metrics; nil uses the default registry.
	MetricsHandler http.Handler
	Server         config.ServerConfig
	Auth           config.AuthConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))
	r.Use(customMW.IdentifyActor(deps.Auth.JWTSecret))

	healthH := NewHealthController(deps.DB, deps.RedisClient)
	subscriptionH := NewSubscriptionController(deps.Subscriptions)
	confirmH := NewConfirmationController(deps.Confirmations)
	issueH := NewIssueController(deps.Issues, deps.Mailer)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// Public endpoints reachable by anyone holding an address or a link.
	r.Group(func(r chi.Router) {
		if deps.Server.RateLimit > 0 {
			r.Use(customMW.RateLimit("confirm", deps.Server.RateLimit))
		}

		r.Route("/newsletter/confirm", func(r chi.Router) {
			r.Route("/combined/{snid}/{timestamp}/{hash}", func(r chi.Router) {
				r.Get("/", confirmH.ConfirmCombined)
				r.Post("/", confirmH.ConfirmCombined)
				r.Post("/renew", confirmH.RenewCombined)
			})
			r.Route("/{action}/{snid}/{newsletter}/{timestamp}/{hash}", func(r chi.Router) {
				r.Get("/", confirmH.ConfirmSingle)
				r.Post("/", confirmH.ConfirmSingle)
				r.Post("/renew", confirmH.RenewSingle)
			})
		})
	})

	r.Group(func(r chi.Router) {
		if deps.Server.RateLimit > 0 {
			r.Use(customMW.RateLimit("subscribe", deps.Server.RateLimit))
		}

		r.Get("/api/v1/subscriptions/status", subscriptionH.Status)
		r.Group(func(r chi.Router) {
			if deps.Server.MailRateLimit > 0 {
				r.Use(customMW.MailRateLimit(deps.Server.MailRateLimit))
			}
			r.Post("/api/v1/subscriptions", subscriptionH.Subscribe)
			r.Delete("/api/v1/subscriptions", subscriptionH.Unsubscribe)
		})
	})

	// Administrative endpoints.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RequireAuth())

		r.Post("/subscriptions/mass-subscribe", subscriptionH.MassSubscribe)
		r.Post("/subscriptions/mass-unsubscribe", subscriptionH.MassUnsubscribe)

		r.Route("/issues/{id}", func(r chi.Router) {
			r.Post("/send", issueH.Send)
			r.Post("/send-on-publish", issueH.SendOnPublish)
			r.Post("/publish", issueH.Publish)
			r.Post("/stop", issueH.Stop)
			r.Get("/summary", issueH.Summary)
			r.Post("/test", issueH.SendTest)
		})
	})

	return r
}
