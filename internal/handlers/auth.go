package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/handlers/render"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/metrics"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func handleRegister(authService authService, l logger.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}

		_, err = authService.Register(r.Context(), data.Email, data.Password)
		switch {
		case err == nil:
			m.SessionEvent(metrics.EventRegister, "ok")
			render.Message(w, "User registered successfully")
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			m.SessionEvent(metrics.EventRegister, "exists")
			render.Message(w, "User already exists")
		default:
			m.SessionEvent(metrics.EventRegister, "error")
			l.Error("Failed to register user", "error", err)
			render.Message(w, "Internal server error")
		}
	})
}

func handleLogin(authService authService, l logger.Logger, m *metrics.Metrics) http.Handler {
	type response struct {
		AccessToken string `json:"accessToken"`
		Email       string `json:"email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Email, data.Password)
		switch {
		case err == nil:
			m.SessionEvent(metrics.EventLogin, "ok")
			authService.SetRefreshCookie(w, pair.Refresh)
			render.JSON(w, response{AccessToken: pair.Access.Value, Email: data.Email})
		case errors.Is(err, apperrors.ErrUserNotFound):
			m.SessionEvent(metrics.EventLogin, "user_not_found")
			render.Message(w, "User not found")
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			m.SessionEvent(metrics.EventLogin, "bad_password")
			render.Message(w, "Password not correct")
		default:
			m.SessionEvent(metrics.EventLogin, "error")
			l.Error("Failed to login user", "error", err)
			render.Message(w, "Internal server error")
		}
	})
}

// Logout always succeeds. Revocation failure is not a reason to keep the cookie
func handleLogout(authService authService, l logger.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authService.Logout(r.Context(), authService.GetRefreshString(r)); err != nil {
			l.Debug("Refresh token not revoked on logout", "error", err)
		}

		m.SessionEvent(metrics.EventLogout, "ok")
		authService.ClearRefreshCookie(w)
		render.Message(w, "logged out")
	})
}

func handleProtected() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.Message(w, "This data is protected")
	})
}

// Any failure is answered with empty access token. Caller can't tell why
func handleRefreshToken(authService authService, l logger.Logger, m *metrics.Metrics) http.Handler {
	type response struct {
		AccessToken string `json:"accessToken"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pair, err := authService.RefreshPair(r.Context(), authService.GetRefreshString(r))
		switch {
		case err == nil:
			m.SessionEvent(metrics.EventRefresh, "rotated")
			authService.SetRefreshCookie(w, pair.Refresh)
			render.JSON(w, response{AccessToken: pair.Access.Value})
			return
		case errors.Is(err, apperrors.ErrTokenInvalid),
			errors.Is(err, apperrors.ErrTokenExpired),
			errors.Is(err, apperrors.ErrRefreshTokenMismatch),
			errors.Is(err, apperrors.ErrUserNotFound):
			m.SessionEvent(metrics.EventRefresh, "rejected")
			l.Debug("Refresh rejected", "error", err)
		default:
			m.SessionEvent(metrics.EventRefresh, "error")
			l.Error("Failed to refresh tokens", "error", err)
		}

		render.JSON(w, response{AccessToken: ""})
	})
}
