// Package httpapi exposes the ESP302 controller operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/arloliu/go-esplink/esp302"
	"github.com/arloliu/go-esplink/link"
	"github.com/arloliu/go-esplink/logger"
	"github.com/arloliu/go-esplink/transport"
)

// Device defines the controller operations served by the API.
// *esp302.Controller implements it.
type Device interface {
	Axes() int
	MoveAbsolute(ctx context.Context, axis int, position decimal.Decimal) error
	MoveRelative(ctx context.Context, axis int, distance decimal.Decimal) error
	Position(ctx context.Context, axis int) (decimal.Decimal, error)
	Home(ctx context.Context, axis int) error
	SetVelocity(ctx context.Context, axis int, velocity decimal.Decimal) error
	MotorOn(ctx context.Context, axis int) error
	MotorOff(ctx context.Context, axis int) error
	StopAxis(ctx context.Context, axis int) error
	StopAll(ctx context.Context) error
	ErrorMessage(ctx context.Context) (esp302.ErrorReport, error)
	Raw(ctx context.Context, text string) error
	RawQuery(ctx context.Context, text string) (string, error)
}

var _ Device = (*esp302.Controller)(nil)

// LinkStatus reports the dispatcher state for the health check.
// *link.Dispatcher implements it.
type LinkStatus interface {
	IsClosed() bool
	Phase() link.Phase
	Outstanding() int
}

var _ LinkStatus = (*link.Dispatcher)(nil)

// TransportStatus reports the connection state for the health check.
// *transport.Transport implements it.
type TransportStatus interface {
	State() transport.State
}

var _ TransportStatus = (*transport.Transport)(nil)

// Config holds HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RequestTimeout bounds the device work of a single request; zero means no limit.
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	dev    Device
	link   LinkStatus
	tr     TransportStatus
	logger logger.Logger
	server *http.Server
}

// New creates a Server. tr may be nil, in which case the health check omits
// the connection state.
func New(cfg Config, dev Device, ls LinkStatus, tr TransportStatus, l logger.Logger) (*Server, error) {
	if dev == nil {
		return nil, errors.New("httpapi: device is nil")
	}
	if ls == nil {
		return nil, errors.New("httpapi: link status is nil")
	}
	if l == nil {
		l = logger.GetLogger()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	return &Server{
		cfg:    cfg,
		dev:    dev,
		link:   ls,
		tr:     tr,
		logger: l.With("component", "httpapi"),
	}, nil
}

// Start serves HTTP until ctx is cancelled or the listener fails.
// It returns ctx.Err() after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.timeoutMiddleware)

		r.Route("/axes/{axis}", func(r chi.Router) {
			r.Post("/move", s.handleMove)
			r.Get("/position", s.handlePosition)
			r.Post("/home", s.handleHome)
			r.Post("/velocity", s.handleVelocity)
			r.Post("/motor", s.handleMotor)
		})
		r.Post("/stop", s.handleStop)
		r.Get("/errors", s.handleErrors)
		r.Post("/raw", s.handleRaw)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	if s.cfg.RequestTimeout <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
