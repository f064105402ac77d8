package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/models"
)

func (s *AuthService) RefreshCookiePath() string {
	return s.refreshCookiePath
}

// Deliver refresh token as HttpOnly cookie visible to the refresh endpoint only
func (s *AuthService) SetRefreshCookie(w http.ResponseWriter, refresh models.IssuedToken) {
	maxAge := int(time.Until(refresh.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(s.token.RefreshTTL().Seconds())
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    refresh.Value,
		Path:     s.refreshCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Expire refresh cookie. Path has to match the one it was set with
func (s *AuthService) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    "",
		Path:     s.refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Get refresh token from request cookie
// Returns empty string if cookie not set
func (s *AuthService) GetRefreshString(r *http.Request) string {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Get access token from 'Authorization: Bearer <token>' header
func (s *AuthService) GetAccessString(r *http.Request) (string, error) {
	header := r.Header.Get(s.accessHeaderName)
	if header == "" {
		return "", apperrors.ErrUnauthenticated
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) || strings.TrimSpace(token) == "" {
		return "", errors.Join(apperrors.ErrTokenInvalid, errors.New("malformed authorization header"))
	}

	return strings.TrimSpace(token), nil
}

// Set access token to request header the way clients are expected to send it
func (s *AuthService) SetAccessToRequest(r *http.Request, access string) {
	r.Header.Set(s.accessHeaderName, s.accessAuthScheme+" "+access)
}

// Authenticate request by its access token header
func (s *AuthService) Auth(ctx context.Context, r *http.Request) (int64, error) {
	access, err := s.GetAccessString(r)
	if err != nil {
		return 0, err
	}

	return s.Authenticate(ctx, access)
}
