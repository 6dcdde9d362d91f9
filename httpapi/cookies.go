package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/glidauth"
	"github.com/MrEthical07/glidauth/middleware"
)

const (
	cookieSession   = middleware.SessionCookie
	cookieAccess    = middleware.AccessCookie
	cookieRefresh   = "refresh-token"
	cookiePrelaunch = "isplcvalid"
)

// cookieJar writes the cookies the web client reads back from scripts.
type cookieJar struct {
	domain string
}

func (j cookieJar) set(c echo.Context, name, value string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.domain,
		HttpOnly: false,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func (j cookieJar) clear(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   j.domain,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   -1,
	})
}

func (j cookieJar) setTokens(c echo.Context, sessionID string, tokens *glidauth.TokenPair) {
	if tokens == nil {
		return
	}
	if sessionID != "" {
		j.set(c, cookieSession, sessionID)
	}
	j.set(c, cookieAccess, tokens.AccessToken)
	j.set(c, cookieRefresh, tokens.RefreshToken)
}
