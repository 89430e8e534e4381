// Package web serves the device status API, the public schedule feeds, the
// status page and the owner's schedule management endpoints.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/auth"
	"github.com/sweeney/irrigation-scheduler/internal/logic"
	"github.com/sweeney/irrigation-scheduler/internal/metrics"
	"github.com/sweeney/irrigation-scheduler/internal/status"
	"github.com/sweeney/irrigation-scheduler/internal/store"
)

// Options wire a Server. Tracker, Store and Auth are required.
type Options struct {
	Tracker  *status.Tracker
	Store    store.Store
	Auth     *auth.Service
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Location *time.Location
	// Clock stamps dashboard and calendar output. nil reads the wall clock in Location.
	Clock logic.Clock
	// StatusRateLimit is the per-IP requests per second on /status; 0 disables it.
	StatusRateLimit int
}

// Server is the HTTP front end. It only reads the status tracker.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	store      store.Store
	auth       *auth.Service
	metrics    *metrics.Metrics
	log        *zap.Logger
	loc        *time.Location
	clock      logic.Clock
}

// New creates a Server listening on addr.
func New(addr string, o Options) *Server {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Clock == nil {
		o.Clock = logic.ZonedClock(o.Location)
	}
	s := &Server{
		tracker: o.Tracker,
		store:   o.Store,
		auth:    o.Auth,
		metrics: o.Metrics,
		log:     o.Logger,
		loc:     o.Location,
		clock:   o.Clock,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(o.StatusRateLimit),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(statusRate int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	device := r.With()
	if statusRate > 0 {
		device = r.With(httprate.LimitByIP(statusRate, time.Second))
	}
	device.Get("/status", s.handleStatus)

	r.Get("/api/horarios", s.handlePublicEntries)
	r.Get("/api/horarios.ics", s.handleCalendar)

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require(s.unauthorized))
		r.Post("/logout", s.handleLogout)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/horarios", s.handleOwnerEntries)
		r.Post("/adicionar_horario", s.handleAddEntry)
		r.Put("/ativar_horario/{id}", s.handleSetEnabled)
		r.Delete("/deletar_horario/{id}", s.handleDeleteEntry)
	})

	return r
}

// requestLogger logs each request and counts it by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		}
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", code),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
