package http

import (
	"net/http"

	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
)

func (h *Handler) registerSchool(w http.ResponseWriter, r *http.Request) {
	var req application.RegisterSchoolRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "register_school", err)
		return
	}
	req.IPAddress = readIP(r)

	res, err := h.service.RegisterSchool(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "register_school", err)
		return
	}
	// The body carries its own status field; the envelope is skipped so
	// clients see "pending_verification" at the top level.
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req application.VerifyEmailRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "verify_email", err)
		return
	}
	res, err := h.service.VerifyEmail(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "verify_email", err)
		return
	}
	writeMessageData(w, http.StatusOK, res.Message, res)
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "resend_verification", err)
		return
	}
	res, err := h.service.ResendVerification(r.Context(), req.Email)
	if err != nil {
		writeMappedError(r.Context(), w, "resend_verification", err)
		return
	}
	writeMessageData(w, http.StatusOK, res.Message, res)
}

func (h *Handler) checkSchoolCode(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CheckSchoolCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeMappedError(r.Context(), w, "check_school_code", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) schoolProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "school_profile")
		return
	}
	res, err := h.service.GetSchoolProfile(r.Context(), principal)
	if err != nil {
		writeMappedError(r.Context(), w, "school_profile", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) updateSchoolProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "update_school_profile")
		return
	}
	var req application.UpdateSchoolProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "update_school_profile", err)
		return
	}
	res, err := h.service.UpdateSchoolProfile(r.Context(), principal, req)
	if err != nil {
		writeMappedError(r.Context(), w, "update_school_profile", err)
		return
	}
	writeMessageData(w, http.StatusOK, "School profile updated", res)
}
