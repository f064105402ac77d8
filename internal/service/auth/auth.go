package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/models"
	"github.com/nkiryanov/authsession/internal/repository"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshToken"
	defaultRefreshCookiePath = "/refresh-token"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type TokenManager interface {
	IssuePair(userID int64) (models.TokenPair, error)
	ParseAccess(access string) (userID int64, err error)
	ParseRefresh(refresh string) (userID int64, err error)
	RefreshTTL() time.Duration
}

type Config struct {
	// Hasher to use during user registration or login process
	// BcryptHasher if not set
	Hasher PasswordHasher

	// Header and scheme the access token is expected in: 'Authorization: Bearer <token>'
	AccessHeaderName string
	AccessAuthScheme string

	// Cookie the refresh token is delivered in. Path restricts it to the refresh endpoint
	RefreshCookieName string
	RefreshCookiePath string
	CookieSecure      bool

	// Clear server side refresh token on logout
	// Default (false) only clears the cookie, so a refresh token stays usable until rotated
	RevokeOnLogout bool
}

// Auth service
type AuthService struct {
	hasher   PasswordHasher
	token    TokenManager
	userRepo repository.UserRepo

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	refreshCookiePath string
	cookieSecure      bool
	revokeOnLogout    bool
}

func NewService(cfg Config, tokenManager TokenManager, userRepo repository.UserRepo) (*AuthService, error) {
	if tokenManager == nil || userRepo == nil {
		return nil, errors.New("token manager and user repo must not be nil")
	}

	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)
	setDefault(&cfg.RefreshCookiePath, defaultRefreshCookiePath)

	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}

	return &AuthService{
		hasher:            cfg.Hasher,
		token:             tokenManager,
		userRepo:          userRepo,
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		refreshCookiePath: cfg.RefreshCookiePath,
		cookieSecure:      cfg.CookieSecure,
		revokeOnLogout:    cfg.RevokeOnLogout,
	}, nil
}

// Register new user. No session is created
func (s *AuthService) Register(ctx context.Context, email string, password string) (models.User, error) {
	_, err := s.userRepo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return models.User{}, apperrors.ErrUserAlreadyExists
	case !errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, fmt.Errorf("can't check user exists. Err: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	user, err := s.userRepo.CreateUser(ctx, email, hash)
	if err != nil {
		return models.User{}, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Login user and issue fresh token pair
// New refresh token supersedes the one from any previous login
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.TokenPair, error) {
	user, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't get user. Err: %w", err)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.token.IssuePair(user.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be generated, sorry. Err: %w", err)
	}

	if err := s.userRepo.SetRefreshToken(ctx, user.ID, pair.Refresh.Value); err != nil {
		return models.TokenPair{}, fmt.Errorf("can't save refresh token. Err: %w", err)
	}

	return pair, nil
}

// Rotate refresh token: verify it, check it is the stored one and replace with a new pair
// Errors:
//   - apperrors.ErrTokenInvalid, apperrors.ErrTokenExpired: token failed verification (or empty)
//   - apperrors.ErrUserNotFound: token subject does not exist
//   - apperrors.ErrRefreshTokenMismatch: token was rotated out or revoked
func (s *AuthService) RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error) {
	if refresh == "" {
		return models.TokenPair{}, fmt.Errorf("refresh token is empty: %w", apperrors.ErrTokenInvalid)
	}

	userID, err := s.token.ParseRefresh(refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't get user. Err: %w", err)
	}

	// Fast path; the swap below is the one that holds under concurrency
	if user.RefreshToken != refresh {
		return models.TokenPair{}, apperrors.ErrRefreshTokenMismatch
	}

	pair, err := s.token.IssuePair(user.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be generated, sorry. Err: %w", err)
	}

	if err := s.userRepo.SwapRefreshToken(ctx, user.ID, refresh, pair.Refresh.Value); err != nil {
		return models.TokenPair{}, fmt.Errorf("can't rotate refresh token. Err: %w", err)
	}

	return pair, nil
}

// Logout is transport level unless RevokeOnLogout is set
// With it the stored refresh token is cleared when the presented one is still current
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	if !s.revokeOnLogout || refresh == "" {
		return nil
	}

	userID, err := s.token.ParseRefresh(refresh)
	if err != nil {
		return err
	}

	if err := s.userRepo.SwapRefreshToken(ctx, userID, refresh, ""); err != nil {
		return fmt.Errorf("can't revoke refresh token. Err: %w", err)
	}

	return nil
}

// Verify access token and return user id it was issued for
func (s *AuthService) Authenticate(_ context.Context, access string) (int64, error) {
	if access == "" {
		return 0, apperrors.ErrUnauthenticated
	}

	return s.token.ParseAccess(access)
}
