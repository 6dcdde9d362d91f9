package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/glidauth"
	"github.com/MrEthical07/glidauth/internal/logging"
	"github.com/MrEthical07/glidauth/middleware"
)

type errorData struct {
	StatusCode int       `json:"statusCode"`
	Error      string    `json:"error"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	TimeStamp  time.Time `json:"timeStamp"`
	Message    string    `json:"message"`
}

type envelope struct {
	Data      any  `json:"data"`
	Succeeded bool `json:"succeeded"`
}

var errBadBody = echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")

// errorHandler renders every handler error as the failure envelope.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	s.renderError(c.Response(), c.Request(), err)
}

// renderError is shared by the echo error handler and the route guards.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := s.classify(r, err)

	body := envelope{
		Data: errorData{
			StatusCode: status,
			Error:      http.StatusText(status),
			Path:       r.URL.RequestURI(),
			Method:     r.Method,
			TimeStamp:  time.Now().UTC(),
			Message:    message,
		},
		Succeeded: false,
	}

	w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WarnContext(r.Context(), "write error response failed", "error", err)
	}
}

func (s *Server) classify(r *http.Request, err error) (int, string) {
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		if msg, ok := echoErr.Message.(string); ok {
			return echoErr.Code, msg
		}
		return echoErr.Code, http.StatusText(echoErr.Code)
	}

	var authErr *glidauth.AuthError
	if !errors.As(err, &authErr) {
		logging.LogErrorContext(r.Context(), s.logger, "unhandled error", err)
		return http.StatusInternalServerError, glidauth.PublicMessage(err)
	}

	status := middleware.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logging.LogErrorContext(r.Context(), s.logger, "request failed", err)
	}
	return status, authErr.Reason
}
