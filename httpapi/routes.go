package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/glidauth"
	"github.com/MrEthical07/glidauth/middleware"
)

func (s *Server) gate(mode glidauth.RouteMode) echo.MiddlewareFunc {
	return echo.WrapMiddleware(middleware.Guard(s.engine, mode, middleware.WithErrorHandler(s.renderError)))
}

func (s *Server) routes() {
	public := s.gate(glidauth.RoutePublic)
	standard := s.gate(glidauth.RouteStandard)
	restricted := s.gate(glidauth.RouteRestricted)
	noTouch := s.gate(glidauth.RouteNoTouch)

	a := s.echo.Group("/auth")
	a.POST("/create-session", s.createSession, public)
	a.POST("/logout", s.logout, noTouch)
	a.POST("/close-session", s.closeSession, standard)
	a.POST("/close-all-sessions", s.closeAllSessions, restricted)
	a.POST("/login", s.login, standard)
	a.POST("/login-with-mfa-otp", s.loginWithMFAOTP, standard)
	a.POST("/verify-login-auth-ref", s.verifyLoginAuthRef, standard)
	a.POST("/verify-login-magic-link", s.verifyLoginMagicLink, standard)
	a.GET("/check-session-state", s.checkSessionState, noTouch)
	a.POST("/get-initial-token-details", s.initialTokenDetails, standard)
	a.POST("/get-token", s.getToken, public)
	a.GET("/is-glid-valid/:glid", s.isGLIDValid, public)
	a.GET("/generate-otp/:glid", s.generateOTP, public)
	a.GET("/mfa-status/:id", s.mfaStatus, public)
	a.POST("/send-forgot-password-mfa", s.sendForgotPasswordMFA, public)
	a.GET("/get-verified-mfas/:glid", s.verifiedMFAs, public)
	a.GET("/glid-has-password-flow/:glid", s.hasPasswordFlow, public)
	a.POST("/validate-forgot-password-mfa", s.validateForgotPasswordMFA, public)
	a.POST("/reset-password", s.resetPassword, restricted)
	a.POST("/change-password", s.changePassword, restricted)
	a.POST("/delete-password", s.deletePassword, restricted)
	a.POST("/forgot-glid", s.forgotGLID, public)
	a.GET("/get-session/:id", s.getSession, restricted)
	a.GET("/get-my-session", s.getMySession, public)
	a.GET("/expired-mfas/:sessionId", s.expiredMFAs, restricted)

	r := s.echo.Group("/registration")
	r.POST("/validate-registration", s.validateRegistration, public)
	r.POST("/authenticate-mfa", s.authenticateMFA, public)
	r.GET("/mfa-status/:mfaAuthId", s.registrationStatus, standard)

	p := s.echo.Group("/securityPolicy")
	p.POST("/validate-prelaunch-password", s.validatePrelaunchPassword, public)
}
