package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/glidauth"
)

type registrationRequest struct {
	GLID             string `json:"glid"`
	Name             string `json:"name"`
	CountryCode      string `json:"countryCode"`
	Email            string `json:"email"`
	Mobile           string `json:"mobile"`
	DialCode         string `json:"dialCode"`
	PhoneCountryCode string `json:"phoneCountryCode"`
	LanguageCode     string `json:"languageCode"`
}

func (s *Server) validateRegistration(c echo.Context) error {
	var req registrationRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ticket, err := s.engine.BeginRegistration(c.Request().Context(), glidauth.RegistrationRequest{
		SessionID:   caller(c).SessionID,
		GLID:        req.GLID,
		Name:        req.Name,
		Location:    req.CountryCode,
		Email:       req.Email,
		Mobile:      req.Mobile,
		DialCode:    req.DialCode,
		CountryCode: req.PhoneCountryCode,
		Language:    req.LanguageCode,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ticket)
}

func (s *Server) authenticateMFA(c echo.Context) error {
	var req struct {
		MFAAuthID        string `json:"mfaAuthId"`
		MagicLinkSession string `json:"magicLinkSession"`
		OTP              string `json:"otp"`
		MagicLinkMode    string `json:"magicLinkMode"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	status, err := s.engine.VerifyRegistration(c.Request().Context(), req.MFAAuthID, req.MagicLinkSession, req.OTP, req.MagicLinkMode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, status)
}

// registrationStatus reports a sign-up challenge. Once every requested
// channel is verified it creates the user and signs the browser in.
func (s *Server) registrationStatus(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("mfaAuthId")

	status, err := s.engine.ChallengeStatus(ctx, id)
	if err != nil {
		return err
	}

	if status.Completed {
		if _, cerr := c.Cookie(cookieAccess); cerr != nil {
			sid := caller(c).SessionID
			act, err := s.engine.CompleteRegistration(ctx, sid, id)
			if err != nil {
				return err
			}
			s.cookies.setTokens(c, sid, act.Tokens)
			s.cookies.set(c, cookiePrelaunch, "true")
		}
	}
	return c.JSON(http.StatusOK, envelope{Data: status, Succeeded: true})
}

func (s *Server) validatePrelaunchPassword(c echo.Context) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	err := s.engine.ValidatePrelaunchPassword(c.Request().Context(), req.Password)
	switch {
	case err == nil:
		s.cookies.set(c, cookiePrelaunch, "true")
		return c.JSON(http.StatusOK, map[string]bool{"isPwdValid": true})
	case errors.Is(err, glidauth.ErrInvalidPassword):
		return c.JSON(http.StatusOK, map[string]bool{"isPwdValid": false})
	default:
		return err
	}
}
