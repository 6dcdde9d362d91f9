package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/glidauth"
	"github.com/MrEthical07/glidauth/middleware"
)

type statusResponse struct {
	Status string `json:"status"`
}

var statusOK = statusResponse{Status: "success"}

func caller(c echo.Context) *glidauth.AuthResult {
	if res, found := middleware.AuthResultFromContext(c.Request().Context()); found && res != nil {
		return res
	}
	return &glidauth.AuthResult{}
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return errBadBody
	}
	return nil
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (ci clientInfo) String() string {
	return strings.TrimSpace(ci.Name + " " + ci.Version)
}

type createSessionRequest struct {
	Browser clientInfo `json:"browser"`
	OS      clientInfo `json:"OS"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := s.engine.CreateSession(c.Request().Context(), caller(c).SessionID, glidauth.SessionMeta{
		Device:     req.Browser.String(),
		SystemType: req.OS.String(),
	})
	if err != nil {
		return err
	}
	if res.Reused {
		return c.JSON(http.StatusOK, map[string]string{"message": "session exists", "sessionId": res.SessionID})
	}
	s.cookies.set(c, cookieSession, res.SessionID)
	return c.JSON(http.StatusCreated, map[string]string{"message": "created session", "sessionId": res.SessionID})
}

func (s *Server) logout(c echo.Context) error {
	if err := s.engine.Logout(c.Request().Context(), caller(c).SessionID); err != nil {
		return err
	}
	s.cookies.clear(c, cookieAccess)
	s.cookies.clear(c, cookieRefresh)
	return c.JSON(http.StatusCreated, statusOK)
}

func (s *Server) closeSession(c echo.Context) error {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	who := caller(c)
	if err := s.engine.CloseSession(c.Request().Context(), who.SessionID, req.SessionID, who.UserID); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, statusOK)
}

func (s *Server) closeAllSessions(c echo.Context) error {
	who := caller(c)
	n, err := s.engine.CloseAllSessions(c.Request().Context(), who.SessionID, who.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"status": "success", "closed": n})
}

func (s *Server) login(c echo.Context) error {
	var req struct {
		GLID     string `json:"glid"`
		Password string `json:"password"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	sid := caller(c).SessionID
	res, err := s.engine.Login(c.Request().Context(), sid, req.GLID, req.Password)
	if err != nil {
		return err
	}
	s.cookies.setTokens(c, sid, res.Tokens)
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) loginWithMFAOTP(c echo.Context) error {
	var req struct {
		AuthType string `json:"authType"`
		GLID     string `json:"glid"`
		OTP      string `json:"otp"`
		MFAID    string `json:"mfaId"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	ref, err := s.engine.VerifyLoginOTP(c.Request().Context(), caller(c).SessionID, req.GLID, req.MFAID, req.OTP, req.AuthType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ref)
}

// Neither verification route sets token cookies. The session owner collects
// the tokens through get-initial-token-details.
func (s *Server) verifyLoginAuthRef(c echo.Context) error {
	var req struct {
		AuthRef string `json:"authRef"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.engine.VerifyLoginAuthRef(c.Request().Context(), req.AuthRef)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, statusResponse{Status: res.Status})
}

func (s *Server) verifyLoginMagicLink(c echo.Context) error {
	var req struct {
		AuthRef string `json:"authRef"`
		GUID    string `json:"guid"`
		Mode    string `json:"mode"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.engine.VerifyLoginMagicLink(c.Request().Context(), req.AuthRef, req.GUID, req.Mode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, statusResponse{Status: res.Status})
}

func (s *Server) checkSessionState(c echo.Context) error {
	state, err := s.engine.SessionState(c.Request().Context(), caller(c).SessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) initialTokenDetails(c echo.Context) error {
	var req struct {
		SessionID string `json:"session_id"`
		AuthID    string `json:"auth_id"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.SessionID == "" {
		req.SessionID = caller(c).SessionID
	}

	res, err := s.engine.InitialAuth(c.Request().Context(), req.SessionID, req.AuthID)
	if err != nil {
		return err
	}
	s.cookies.setTokens(c, res.SessionID, &glidauth.TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken})
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) getToken(c echo.Context) error {
	req := c.Request()
	sid := req.Header.Get("sessionid")
	if sid == "" {
		sid = caller(c).SessionID
	}
	token, found := middleware.BearerToken(req.Header.Get(echo.HeaderAuthorization))
	if !found {
		if ck, err := c.Cookie(cookieRefresh); err == nil {
			token = ck.Value
		}
	}

	pair, err := s.engine.Refresh(req.Context(), sid, token)
	if err != nil {
		return err
	}
	s.cookies.setTokens(c, "", pair)
	return c.JSON(http.StatusCreated, pair)
}

func (s *Server) isGLIDValid(c echo.Context) error {
	valid, err := s.engine.GLIDExists(c.Request().Context(), c.Param("glid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) generateOTP(c echo.Context) error {
	ticket, err := s.engine.SendLoginOTP(c.Request().Context(), caller(c).SessionID, c.Param("glid"), c.QueryParam("type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ticket)
}

func (s *Server) mfaStatus(c echo.Context) error {
	status, err := s.engine.ChallengeStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) sendForgotPasswordMFA(c echo.Context) error {
	var req struct {
		GLID    string `json:"glid"`
		MFAType string `json:"mfaType"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := s.engine.SendRecoveryOTP(c.Request().Context(), caller(c).SessionID, req.GLID, req.MFAType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ticket)
}

func (s *Server) verifiedMFAs(c echo.Context) error {
	channels, err := s.engine.VerifiedChannels(c.Request().Context(), c.Param("glid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string][]glidauth.Channel{"verifiedMFAs": channels})
}

func (s *Server) hasPasswordFlow(c echo.Context) error {
	flow, err := s.engine.HasPasswordFlow(c.Request().Context(), c.Param("glid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, flow)
}

func (s *Server) validateForgotPasswordMFA(c echo.Context) error {
	var req struct {
		GLID string `json:"glid"`
		GUID string `json:"guid"`
		OTP  string `json:"otp"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	sid := caller(c).SessionID
	res, err := s.engine.VerifyRecoveryOTP(c.Request().Context(), sid, req.GLID, req.GUID, req.OTP)
	if err != nil {
		return err
	}
	s.cookies.setTokens(c, sid, res.Tokens)
	return c.JSON(http.StatusCreated, glidauth.StatusResult{Status: res.Status, Ref: res.AuthID})
}

func (s *Server) resetPassword(c echo.Context) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.engine.ResetPassword(c.Request().Context(), caller(c).UserID, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) changePassword(c echo.Context) error {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.engine.ChangePassword(c.Request().Context(), caller(c).UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) deletePassword(c echo.Context) error {
	res, err := s.engine.DeletePassword(c.Request().Context(), caller(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) forgotGLID(c echo.Context) error {
	var req struct {
		Type     string `json:"type"`
		Value    string `json:"value"`
		DialCode string `json:"dialCode"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	var channel glidauth.Channel
	switch strings.ToLower(req.Type) {
	case "email":
		channel = glidauth.ChannelEmail
	case "message", "mobile", "phone":
		channel = glidauth.ChannelMobile
	default:
		return glidauth.ErrInvalidMFAType
	}

	ticket, err := s.engine.RecoverGLID(c.Request().Context(), caller(c).SessionID, channel, req.Value, req.DialCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ticket)
}

func (s *Server) getSession(c echo.Context) error {
	view, err := s.engine.SessionDetail(c.Request().Context(), c.Param("id"), caller(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) getMySession(c echo.Context) error {
	who := caller(c)
	view, err := s.engine.SessionDetail(c.Request().Context(), who.SessionID, who.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) expiredMFAs(c echo.Context) error {
	n, err := s.engine.ExpiredChallenges(c.Request().Context(), c.Param("sessionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"logged": n})
}
