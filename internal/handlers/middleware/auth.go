package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/handlers/render"
	"github.com/nkiryanov/authsession/internal/handlers/userctx"
)

type authService interface {
	// Return id of the user the request access token was issued for
	Auth(ctx context.Context, r *http.Request) (int64, error)
}

// Reject requests without valid access token with {"error": ...} body
// Authenticated user id is put to request context, see userctx
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := as.Auth(r.Context(), r)
			if err != nil {
				render.Error(w, authErrorMessage(err))
				return
			}

			ctx := userctx.New(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrUnauthenticated):
		return "You need to login"
	case errors.Is(err, apperrors.ErrTokenExpired):
		return "Access token expired"
	default:
		return "Access token invalid"
	}
}
