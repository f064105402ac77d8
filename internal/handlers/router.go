package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/authsession/internal/handlers/middleware"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/metrics"
	"github.com/nkiryanov/authsession/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	logger logger.Logger,
	m *metrics.Metrics,
	corsOrigin string,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)

	mux := http.NewServeMux()

	mux.Handle("POST /register", handleRegister(authService, logger, m))
	mux.Handle("POST /login", handleLogin(authService, logger, m))
	mux.Handle("POST /logout", handleLogout(authService, logger, m))
	mux.Handle("POST /protected", withAuth(handleProtected()))
	mux.Handle("POST /refresh-token", handleRefreshToken(authService, logger, m))

	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
		m.Middleware,
		middleware.CORSMiddleware(corsOrigin),
	)

	return handler
}

type authService interface {
	// Register user with email and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, email string, password string) (models.User, error)

	// Login user with email and password
	// Has to return apperrors.ErrUserNotFound if user not found
	// Has to return apperrors.ErrInvalidCredentials if password does not match
	Login(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Forget the session bound to the refresh token (if configured to)
	Logout(ctx context.Context, refresh string) error

	// Rotate tokens using refresh token
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	// Authenticate request by access token, used by auth middleware
	Auth(ctx context.Context, r *http.Request) (int64, error)

	// Refresh token transport
	SetRefreshCookie(w http.ResponseWriter, refresh models.IssuedToken)
	ClearRefreshCookie(w http.ResponseWriter)
	GetRefreshString(r *http.Request) string
}
