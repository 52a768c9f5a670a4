package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/bioviews/pkg/analytics"
	"github.com/platinummonkey/bioviews/pkg/dedup"
	"github.com/platinummonkey/bioviews/pkg/httputil"
	"github.com/platinummonkey/bioviews/pkg/middleware"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/presence"
	"github.com/platinummonkey/bioviews/pkg/views"
)

// DeviceHeader optionally identifies the client device for the server-side cooldown.
const DeviceHeader = "X-Device-ID"

// maxRequestBytes caps JSON request bodies. Record and track payloads are a few
// hundred bytes.
const maxRequestBytes = 64 << 10

// CooldownScoper hands out a cooldown store per device.
type CooldownScoper interface {
	Scoped(scope string) dedup.CooldownStore
}

// Options wires a Server. Recorder, Counts, Analytics and Hub are required.
type Options struct {
	Recorder  *views.Recorder
	Counts    views.CountStore
	Analytics *analytics.Service
	Hub       *presence.Hub

	// Cooldowns enables the server-side cooldown on the record endpoint
	Cooldowns CooldownScoper
	Cooldown  time.Duration
	Hasher    *views.IPHasher

	Identity  *middleware.IdentityMiddleware
	Limiter   middleware.Limiter
	RateLimit *middleware.RateLimitConfig

	// TrustClientViewer honours viewerUserId and viewerIp from record bodies
	TrustClientViewer bool
	AllowedOrigins    []string
	DefaultLocation   *time.Location
	KeepAlive         time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Server is the bioviews HTTP API.
type Server struct {
	router    *mux.Router
	handler   http.Handler
	recorder  *views.Recorder
	counts    views.CountStore
	analytics *analytics.Service
	hub       *presence.Hub
	cooldowns CooldownScoper
	cooldown  time.Duration
	hasher    *views.IPHasher
	identity  *middleware.IdentityMiddleware
	limiter   middleware.Limiter
	rateLimit *middleware.RateLimitConfig
	trust     bool
	origins   []string
	loc       *time.Location
	keepAlive time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewServer creates the API server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		recorder:  opts.Recorder,
		counts:    opts.Counts,
		analytics: opts.Analytics,
		hub:       opts.Hub,
		cooldowns: opts.Cooldowns,
		cooldown:  opts.Cooldown,
		hasher:    opts.Hasher,
		identity:  opts.Identity,
		limiter:   opts.Limiter,
		rateLimit: opts.RateLimit,
		trust:     opts.TrustClientViewer,
		origins:   opts.AllowedOrigins,
		loc:       opts.DefaultLocation,
		keepAlive: opts.KeepAlive,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if s.cooldown <= 0 {
		s.cooldown = dedup.DefaultCooldown
	}
	if s.hasher == nil {
		s.hasher = views.NewIPHasher("")
	}
	if s.identity == nil {
		s.identity = middleware.NewIdentityMiddleware("", opts.Logger)
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.setupRoutes()
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.CORSMiddleware(s.origins),
		httputil.MaxBytesMiddleware(maxRequestBytes),
		s.identity.Handler,
	)(s.router)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))

	var record http.Handler = http.HandlerFunc(s.recordView)
	if s.limiter != nil {
		record = middleware.RateLimitMiddleware(s.limiter, s.rateLimit, s.logger)(record)
	}
	s.router.Handle("/api/v1/views", record).Methods(http.MethodPost)

	s.router.HandleFunc("/api/v1/profiles/{id}/view-count", s.getViewCount).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/profiles/{id}/analytics", s.getAnalytics).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/profiles/{id}/presence", s.getPresence).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/presence/{topic}/stream", s.streamPresence).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/presence/{topic}/track", s.trackPresence).Methods(http.MethodPost)
}

// Router returns the bare router without the middleware chain.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP runs the request through the middleware chain and the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
