package http

import (
	"net/http"

	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
)

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req application.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "login", err)
		return
	}
	req.IPAddress = readIP(r)
	req.UserAgent = r.UserAgent()

	res, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "login", err)
		return
	}
	h.setRefreshCookie(w, res.RefreshToken, res.RefreshMaxAge)
	writeMessageData(w, http.StatusOK, "Login successful", res)
}

// refresh reads the cookie only; a rejected token also clears it so the
// browser stops replaying it.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	raw := h.refreshTokenFrom(r)
	if raw == "" {
		logHTTPOperationError(r.Context(), "refresh", http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token", nil)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "refresh token required")
		return
	}

	res, err := h.service.RefreshAccessToken(r.Context(), raw, domain.DeviceInfo{UserAgent: r.UserAgent(), IPAddress: readIP(r)})
	if err != nil {
		status, _, _ := mapDomainError(err)
		if status == http.StatusUnauthorized {
			h.clearRefreshCookie(w)
		}
		writeMappedError(r.Context(), w, "refresh", err)
		return
	}
	if res.RefreshToken != "" {
		h.setRefreshCookie(w, res.RefreshToken, res.RefreshMaxAge)
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if raw := h.refreshTokenFrom(r); raw != "" {
		h.service.Logout(r.Context(), raw)
	}
	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "logout_all")
		return
	}
	revoked, err := h.service.LogoutAllDevices(r.Context(), principal.UserID)
	if err != nil {
		writeMappedError(r.Context(), w, "logout_all", err)
		return
	}
	h.clearRefreshCookie(w)
	writeMessageData(w, http.StatusOK, "Logged out from all devices", map[string]int64{"revoked_sessions": revoked})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "me")
		return
	}
	res, err := h.service.GetCurrentUser(r.Context(), principal.UserID)
	if err != nil {
		writeMappedError(r.Context(), w, "me", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_forgot", err)
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeMappedError(r.Context(), w, "password_forgot", err)
		return
	}
	writeMessage(w, http.StatusOK, "If the email is registered, a password reset code has been sent")
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req application.ResetPasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_reset", err)
		return
	}
	if err := h.service.ResetPassword(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "password_reset", err)
		return
	}
	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "Password reset successfully, please log in with your new password")
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "password_change")
		return
	}
	var req application.ChangePasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "password_change", err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), principal.UserID, req); err != nil {
		writeMappedError(r.Context(), w, "password_change", err)
		return
	}
	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "Password changed successfully, please log in again")
}
