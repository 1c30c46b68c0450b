// Package app assembles the HTTP surface of the bridge from its parts.
// cmd/api owns process lifecycle; everything routable lives here so it can be
// exercised end to end in tests.
package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kashier-bridge/internal/common"
	"github.com/noah-isme/kashier-bridge/internal/config"
	"github.com/noah-isme/kashier-bridge/internal/enroll"
	"github.com/noah-isme/kashier-bridge/internal/events"
	"github.com/noah-isme/kashier-bridge/internal/health"
	"github.com/noah-isme/kashier-bridge/internal/obs"
	"github.com/noah-isme/kashier-bridge/internal/order"
	"github.com/noah-isme/kashier-bridge/internal/payment"
	"github.com/noah-isme/kashier-bridge/internal/queue"
	"github.com/noah-isme/kashier-bridge/internal/ratelimit"
	"github.com/noah-isme/kashier-bridge/internal/security"
	"github.com/noah-isme/kashier-bridge/internal/settings"
)

// Dependencies enumerates the services the router is built from. Redis is
// optional; without it replay protection, rate limits backed by Redis, the
// idempotency cache and the enrollment queue are skipped.
type Dependencies struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Orders      order.Store
	EventStore  events.EventStore
	Redis       *redis.Client
	Registry    prometheus.Gatherer
	HTTPMetrics *obs.HTTPMetrics
	Probes      []health.Probe
	Tracing     bool
}

// Server is the assembled bridge.
type Server struct {
	Router   http.Handler
	Settings *settings.Static
	Bus      *events.Bus
}

// New wires the payment bridge and returns its router.
func New(d Dependencies) (*Server, error) {
	cfg := d.Config
	logger := d.Logger

	gateway, err := settings.FromConfig(cfg.Kashier)
	if err != nil {
		return nil, err
	}

	bus := &events.Bus{
		Store:     d.EventStore,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}
	if d.Redis != nil {
		bus.Scheduler = enroll.Scheduler{Queue: queue.Enqueuer{
			R:           d.Redis,
			Prefix:      cfg.QueueRedisPrefix,
			DedupTTL:    cfg.IdempotencyTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		}}
	}

	links := payment.Links{SiteURL: cfg.SiteURL, PublicBaseURL: cfg.PublicBaseURL}
	paymentLog := logger.With().Str("component", "payment").Logger()
	builder := &payment.Builder{
		Settings:        gateway,
		Orders:          d.Orders,
		Links:           links,
		IDs:             &payment.OrderIDGenerator{},
		BaseURL:         cfg.Kashier.PaymentBaseURL,
		PlatformTag:     cfg.Kashier.PlatformTag,
		SiteLanguage:    cfg.SiteLanguage,
		DefaultCurrency: cfg.Kashier.DefaultCurrency,
		Logger:          &paymentLog,
	}
	reconciler := &payment.Reconciler{
		Settings: gateway,
		Orders:   d.Orders,
		Events:   bus,
		Links:    links,
		Logger:   &paymentLog,
	}
	webhook := &payment.Webhook{
		Reconciler: reconciler,
		ReplayTTL:  cfg.WebhookReplayTTL,
		Links:      links,
		Logger:     &paymentLog,
	}
	if d.Redis != nil {
		webhook.Replay = d.Redis
	}
	checkout := &payment.Handler{Builder: builder, Links: links}
	if d.Orders != nil {
		checkout.Orders = storedOrders{store: d.Orders}
	}

	checkoutLimiter, err := ratelimit.NewFixedWindow(d.Redis, "ratelimit:checkout", cfg.CheckoutRateLimit)
	if err != nil {
		return nil, err
	}
	onLimitError := func(err error) {
		logger.Warn().Err(err).Msg("rate limiter unavailable")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.Tracing)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.Obs.SecurityHeaders, EnableHSTS: cfg.Obs.HSTSEnabled}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Location", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	if d.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}
	if cfg.Obs.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{Probes: d.Probes}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	checkoutLimit := ratelimit.FixedWindow{Limiter: checkoutLimiter, Key: ratelimit.ByClientIP, OnError: onLimitError}

	r.Route("/api/v1", func(v chi.Router) {
		for _, hook := range checkout.Hooks() {
			var h http.Handler = hook.Handler
			if hook.Method == http.MethodPost {
				h = checkoutLimit.Middleware(idem.Middleware(h))
			}
			v.Method(hook.Method, hook.Pattern, h)
		}

		v.Group(func(g chi.Router) {
			g.Use(security.BodyLimit{Max: cfg.WebhookBodyLimitBytes}.Middleware)
			if d.Redis != nil {
				g.Use(ratelimit.Handler{
					Limiter: ratelimit.Limiter{Client: d.Redis, Prefix: "ratelimit:"},
					Config: ratelimit.Config{
						Name:   "kashier_webhook",
						Key:    ratelimit.ByClientIP,
						Window: cfg.WebhookRateLimitWindow,
						Max:    cfg.WebhookRateLimitMax,
					},
					OnError: onLimitError,
				}.Middleware)
			}
			payment.Mount(g, webhook.Hooks()...)
		})

		if cfg.OrderAPIEnabled() && d.Orders != nil {
			orders := &order.Handler{Store: d.Orders}
			v.Route("/orders", func(o chi.Router) {
				o.Use(security.BearerToken{Token: cfg.OrderAPIToken, TokenHash: cfg.OrderAPITokenHash}.Middleware)
				o.With(idem.Middleware).Post("/", orders.Create)
				o.Get("/{id}", orders.Get)
			})
		}
	})

	return &Server{Router: r, Settings: gateway, Bus: bus}, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
