package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Which key a token is signed with
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`
	Kind   Kind  `json:"typ"`
}

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Both required and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type signer struct {
	key []byte
	ttl time.Duration
}

type TokenManager struct {
	alg     jwt.SigningMethod
	signers map[Kind]signer

	// Overridable in tests
	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secret keys must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secret keys must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		alg: alg,
		signers: map[Kind]signer{
			KindAccess:  {key: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
			KindRefresh: {key: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
		},
		now: time.Now,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.signers[KindAccess].ttl }
func (m *TokenManager) RefreshTTL() time.Duration { return m.signers[KindRefresh].ttl }

func (m *TokenManager) IssueAccess(userID int64) (models.IssuedToken, error) {
	return m.issue(KindAccess, userID)
}

func (m *TokenManager) IssueRefresh(userID int64) (models.IssuedToken, error) {
	return m.issue(KindRefresh, userID)
}

// Issue fresh access and refresh tokens for the user
func (m *TokenManager) IssuePair(userID int64) (models.TokenPair, error) {
	access, err := m.IssueAccess(userID)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.IssueRefresh(userID)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) issue(kind Kind, userID int64) (models.IssuedToken, error) {
	s := m.signers[kind]
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(s.ttl)

	// jti makes tokens unique even when issued for the same user within one second
	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
		Kind:   kind,
	})

	value, err := token.SignedString(s.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", kind, err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

// Verify token signature and expiration with the key of the kind
// Returns apperrors.ErrTokenExpired or apperrors.ErrTokenInvalid on failure
func (m *TokenManager) Verify(value string, kind Kind) (userID int64, err error) {
	s, ok := m.signers[kind]
	if !ok {
		return 0, fmt.Errorf("unknown token kind %q: %w", kind, apperrors.ErrTokenInvalid)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(
		value,
		claims,
		func(t *jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return 0, fmt.Errorf("error while validating %s token. Err: %w", kind, apperrors.ErrTokenExpired)
	case err != nil:
		return 0, fmt.Errorf("error while parsing %s token: %w. Err: %w", kind, apperrors.ErrTokenInvalid, err)
	case claims.Kind != kind:
		return 0, fmt.Errorf("%s token expected, got %q: %w", kind, claims.Kind, apperrors.ErrTokenInvalid)
	}

	return claims.UserID, nil
}

func (m *TokenManager) ParseAccess(access string) (int64, error) {
	return m.Verify(access, KindAccess)
}

func (m *TokenManager) ParseRefresh(refresh string) (int64, error) {
	return m.Verify(refresh, KindRefresh)
}
