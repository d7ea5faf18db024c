package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/findosh/contactdesk/internal/apperr"
	"github.com/findosh/contactdesk/internal/middleware"
	"github.com/findosh/contactdesk/internal/response"
	"github.com/findosh/contactdesk/internal/services/auth"
)

// Actions accepted by AdminAuth
const (
	ActionRequestOTP = "request_otp"
	ActionVerifyOTP  = "verify_otp"
	ActionLogout     = "logout"
)

const (
	MsgInvalidJSON   = "Invalid JSON input."
	MsgInvalidAction = "Invalid action specified."
	MsgSessionValid  = "Session is valid."
)

const maxBodyBytes = 64 << 10

// AdminAuthRequest is the body of POST /api/admin/auth
type AdminAuthRequest struct {
	Action       string `json:"action"`
	Email        string `json:"email"`
	OTP          string `json:"otp"`
	SessionToken string `json:"session_token"`
}

// SessionInfo describes the caller's live session
type SessionInfo struct {
	Identity  string `json:"admin_email"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// AdminAuth dispatches the login actions
func (h *Handler) AdminAuth(w http.ResponseWriter, r *http.Request) {
	var req AdminAuthRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.jsonError(w, apperr.Validation(MsgInvalidJSON))
		return
	}

	client := middleware.ClientInfo(r)

	switch req.Action {
	case ActionRequestOTP:
		result, err := h.authService.RequestOTP(r.Context(), req.Email, client)
		if err != nil {
			h.jsonError(w, err)
			return
		}
		response.OK(w, auth.MsgOTPSent, result)

	case ActionVerifyOTP:
		result, err := h.authService.VerifyOTP(r.Context(), req.Email, req.OTP, client)
		if err != nil {
			h.jsonError(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    result.SessionToken,
			Path:     "/api/admin",
			Expires:  result.ExpiresAt,
			HttpOnly: true,
			Secure:   h.secureCookies(),
			SameSite: http.SameSiteStrictMode,
		})
		response.OK(w, auth.MsgLoginSuccessful, map[string]any{
			"session_token":      result.SessionToken,
			"expires_in_minutes": result.ExpiresInMinutes,
			"admin_email":        result.Identity,
			"expires_at":         result.ExpiresAt.UTC().Format(time.RFC3339),
		})

	case ActionLogout:
		token := req.SessionToken
		if token == "" {
			token = middleware.TokenFromRequest(r)
		}
		if err := h.authService.Logout(r.Context(), token, client); err != nil {
			h.jsonError(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    "",
			Path:     "/api/admin",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secureCookies(),
			SameSite: http.SameSiteStrictMode,
		})
		response.OK(w, auth.MsgLoggedOut, nil)

	default:
		h.jsonError(w, apperr.Validation(MsgInvalidAction))
	}
}

// AdminSession reports the session resolved by the auth middleware
func (h *Handler) AdminSession(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if sess == nil {
		h.jsonError(w, apperr.Auth(middleware.MsgAuthRequired))
		return
	}
	response.OK(w, MsgSessionValid, SessionInfo{
		Identity:  sess.Identity,
		IssuedAt:  sess.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
