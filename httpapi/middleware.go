package httpapi

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/MrEthical07/glidauth"
)

const headerRequestID = echo.HeaderXRequestID

// requestContext assigns a request id and carries the caller's address and
// user agent into the engine context.
func (s *Server) requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(headerRequestID)
			if id == "" || len(id) > 64 {
				id = ulid.Make().String()
			}
			c.Response().Header().Set(headerRequestID, id)

			ctx := glidauth.WithRequestID(req.Context(), id)
			ctx = glidauth.WithClientIP(ctx, c.RealIP())
			ctx = glidauth.WithUserAgent(ctx, req.UserAgent())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// requestLogger logs every request once it has been answered.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			elapsed := time.Since(start)
			if s.recorder != nil {
				s.recorder.ObserveRequest(c.Path(), req.Method, res.Status, elapsed)
			}

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Duration("latency", elapsed),
				slog.String("remote_ip", c.RealIP()),
				slog.String("request_id", res.Header().Get(headerRequestID)),
			}
			if req.URL.RawQuery != "" {
				attrs = append(attrs, slog.String("query", req.URL.RawQuery))
			}

			level := slog.LevelInfo
			if res.Status >= 500 {
				level = slog.LevelError
			} else if res.Status >= 400 {
				level = slog.LevelWarn
			}
			s.logger.LogAttrs(req.Context(), level, "request", attrs...)
			return nil
		}
	}
}

// recovery turns a panicking handler into a 500 envelope.
func (s *Server) recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (returnErr error) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.ErrorContext(c.Request().Context(), "panic recovered",
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", c.Request().Method),
						slog.String("path", c.Request().URL.Path),
					)
					returnErr = echo.NewHTTPError(http.StatusInternalServerError, glidauth.ErrBackend.Reason)
				}
			}()
			return next(c)
		}
	}
}
