package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/glidauth"
)

// RequestRecorder observes every answered request by route template.
type RequestRecorder interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// Options tunes the HTTP server.
type Options struct {
	Logger   *slog.Logger
	Recorder RequestRecorder
	// CookieDomain overrides the engine's Cookie.Domain.
	CookieDomain string
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
}

// Server is the echo application in front of an Engine.
type Server struct {
	engine   *glidauth.Engine
	echo     *echo.Echo
	logger   *slog.Logger
	recorder RequestRecorder
	cookies  cookieJar
}

// New builds the server and registers every route.
func New(engine *glidauth.Engine, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if opts.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	domain := opts.CookieDomain
	if domain == "" && engine != nil {
		domain = engine.Config().Cookie.Domain
	}

	s := &Server{
		engine:   engine,
		echo:     e,
		logger:   logger.With("component", "httpapi"),
		recorder: opts.Recorder,
		cookies:  cookieJar{domain: domain},
	}

	e.Use(s.recovery())
	e.Use(s.requestContext())
	e.Use(s.requestLogger())
	e.HTTPErrorHandler = s.errorHandler

	s.routes()
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
