package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/go-auth-core/internal/errors"
	"github.com/pribylovaa/go-auth-core/internal/models"
)

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	if err := in.Validate(); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(err))
		return
	}

	pair, err := h.svc.Login(r.Context(), in.Email, in.Password, in.RememberMe, clientMeta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.writePair(w, http.StatusOK, pair)
}

// Register создаёт учётную запись и сразу выдаёт пару токенов (201).
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	if err := in.Validate(); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(err))
		return
	}

	pair, err := h.svc.Register(r.Context(), in.Email, in.Password, in.RememberMe, clientMeta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.writePair(w, http.StatusCreated, pair)
}

// Refresh принимает refresh-токен из тела или из cookie.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeOptional(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	token := in.RefreshToken
	if token == "" {
		token = h.refreshFromCookie(r)
	}

	pair, err := h.svc.Refresh(r.Context(), token, in.RememberMe, clientMeta(r))
	if err != nil {
		h.clearRefreshCookie(w)
		apierrors.WriteError(w, r, err)
		return
	}

	h.writePair(w, http.StatusOK, pair)
}

// Logout отзывает сессию и всегда очищает cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in logoutRequest
	if err := decodeOptional(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	token := in.RefreshToken
	if token == "" {
		token = h.refreshFromCookie(r)
	}

	h.clearRefreshCookie(w)

	if err := h.svc.Logout(r.Context(), token); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword всегда отвечает 202: ответ не раскрывает, есть ли такой email.
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in forgotPasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	if err := in.Validate(); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(err))
		return
	}

	_ = h.svc.RequestPasswordReset(r.Context(), in.Email)

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	if err := in.Validate(); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(err))
		return
	}

	if err := h.svc.ConsumePasswordReset(r.Context(), in.Token, in.NewPassword); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writePair(w http.ResponseWriter, status int, pair *models.TokenPair) {
	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, tokenFromPair(pair))
}
