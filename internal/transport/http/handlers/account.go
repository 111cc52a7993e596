package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/go-auth-core/internal/errors"
	"github.com/pribylovaa/go-auth-core/internal/service"
	"github.com/pribylovaa/go-auth-core/internal/transport/http/middleware"
)

// SupportResetHeader — заголовок с pre-shared ключом аварийного сброса.
const SupportResetHeader = "X-Admin-Reset-Key"

// Me возвращает текущего principal. Требует RequireAuth.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{UserID: p.UserID.String(), Email: p.Email})
}

// ChangePassword меняет пароль; все сессии, включая текущую, отзываются.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var in changePasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	if err := in.Validate(); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(err))
		return
	}

	if err := h.svc.ChangePassword(r.Context(), p.UserID, in.CurrentPassword, in.NewPassword); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll отзывает все сессии текущего principal.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	n, err := h.svc.LogoutAll(r.Context(), p.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

// SupportResetPassword — аварийный сброс пароля администратора по ключу из заголовка.
func (h *Handlers) SupportResetPassword(w http.ResponseWriter, r *http.Request) {
	var in supportResetRequest
	if err := decodeOptional(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.Invalid(nil))
		return
	}

	key := r.Header.Get(SupportResetHeader)
	if err := h.svc.SupportResetPassword(r.Context(), key, in.NewPassword); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
