package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/metrics"
	"github.com/nkiryanov/authsession/internal/repository"
	"github.com/nkiryanov/authsession/internal/repository/memory"
	"github.com/nkiryanov/authsession/internal/repository/postgres"
	"github.com/nkiryanov/authsession/internal/service/auth"
	"github.com/nkiryanov/authsession/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authsession/internal/testutil"
)

const testOrigin = "http://localhost:3000"

type testServer struct {
	URL  string
	Auth *auth.AuthService
	Repo repository.UserRepo
}

// Run http server with production router and auth service on top of the repo
func startServer(t *testing.T, repo repository.UserRepo, cfg auth.Config) testServer {
	t.Helper()

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err, "token manager should be created without errors")

	cfg.Hasher = auth.BcryptHasher{Cost: bcrypt.MinCost}
	s, err := auth.NewService(cfg, tokenManager, repo)
	require.NoError(t, err, "auth service starting error")

	srv := httptest.NewServer(NewRouter(s, logger.NewNoOpLogger(), metrics.New(), testOrigin))
	t.Cleanup(srv.Close)

	return testServer{URL: srv.URL, Auth: s, Repo: repo}
}

// Send POST request. Returns response and its body
func post(t *testing.T, url string, data string, opts ...func(r *http.Request)) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func withCookie(name string, value string) func(r *http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func withBearer(access string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+access)
	}
}

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range resp.Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}

	require.FailNow(t, "refresh cookie not set")
	return nil
}

// Login registered user over http and return access token and refresh cookie value
func login(t *testing.T, url string, email string, password string) (string, string) {
	t.Helper()

	resp, body := post(t, url+"/login", `{"email": "`+email+`", "password": "`+password+`"}`)
	require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
	require.Contains(t, body, "accessToken", "login should succeed. Body: %s", body)

	access := extractAccess(t, body)
	return access, refreshCookie(t, resp).Value
}

func extractAccess(t *testing.T, body string) string {
	t.Helper()

	const key = `"accessToken":"`
	i := strings.Index(body, key)
	require.GreaterOrEqual(t, i, 0, "body has no access token: %s", body)
	rest := body[i+len(key):]
	return rest[:strings.Index(rest, `"`)]
}

// Access token signed with the server key that expired a minute ago
func expiredAccess(t *testing.T, userID int64) string {
	t.Helper()

	now := time.Now().Add(-time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenmanager.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "expired",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		UserID: userID,
		Kind:   tokenmanager.KindAccess,
	})

	value, err := token.SignedString([]byte("test-access-secret"))
	require.NoError(t, err)
	return value
}

func Test_AuthHandlers(t *testing.T) {
	t.Parallel()

	t.Run("register ok", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})

		resp, body := post(t, srv.URL+"/register", `{"email": "alice@x.com", "password": "pw1"}`)

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.JSONEq(t, `{"message": "User registered successfully"}`, body)
		require.Empty(t, resp.Cookies(), "registration creates no session")

		user, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
		require.NoError(t, err)
		require.Empty(t, user.RefreshToken)
	})

	t.Run("register and login with form body", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		asForm := func(r *http.Request) { r.Header.Set("Content-Type", "application/x-www-form-urlencoded") }

		resp, body := post(t, srv.URL+"/register", "email=alice%40x.com&password=pw1", asForm)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.JSONEq(t, `{"message": "User registered successfully"}`, body)

		resp, body = post(t, srv.URL+"/login", "email=alice%40x.com&password=pw1", asForm)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.Contains(t, body, `"email":"alice@x.com"`)
		require.NotEmpty(t, extractAccess(t, body))
		require.NotEmpty(t, refreshCookie(t, resp).Value)
	})

	t.Run("register existed user fails", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
		require.NoError(t, err)

		resp, body := post(t, srv.URL+"/register", `{"email": "alice@x.com", "password": "other"}`)

		require.Equalf(t, http.StatusOK, resp.StatusCode, "errors are reported in body. Body: %s", body)
		require.JSONEq(t, `{"message": "User already exists"}`, body)
	})

	t.Run("register invalid body", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})

		tests := []struct {
			name      string
			data      string
			errorType string
		}{
			{"not json", `email=alice`, "decoding_failed"},
			{"no password", `{"email": "alice@x.com"}`, "validation_failed"},
			{"no email", `{"password": "pw1"}`, "validation_failed"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := post(t, srv.URL+"/register", tt.data)

				require.Equalf(t, http.StatusOK, resp.StatusCode, "errors are reported in body. Body: %s", body)
				require.Contains(t, body, tt.errorType)
			})
		}

		_, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
		require.Error(t, err, "no user should be created")
	})

	t.Run("login ok", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
		require.NoError(t, err)

		resp, body := post(t, srv.URL+"/login", `{"email": "alice@x.com", "password": "pw1"}`)

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.Contains(t, body, `"email":"alice@x.com"`)
		access := extractAccess(t, body)
		require.NotEmpty(t, access)

		cookie := refreshCookie(t, resp)
		require.True(t, cookie.HttpOnly, "refresh cookie should be HttpOnly")
		require.Equal(t, "/refresh-token", cookie.Path, "refresh cookie should be available on refresh path only")
		require.Equal(t, http.SameSiteStrictMode, cookie.SameSite, "refresh cookie should be SameSite Strict")
		require.InDelta(t, (24 * time.Hour).Seconds(), cookie.MaxAge, 2, "max age should be refresh TTL")
		require.NotEmpty(t, cookie.Value, "refresh cookie should not be empty")

		user, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
		require.NoError(t, err)
		require.Equal(t, cookie.Value, user.RefreshToken, "refresh token should be stored")
	})

	t.Run("login failed", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
		require.NoError(t, err)

		tests := []struct {
			name     string
			data     string
			expected string
		}{
			{"unknown user", `{"email": "bob@x.com", "password": "pw1"}`, `{"message": "User not found"}`},
			{"email is case sensitive", `{"email": "Alice@x.com", "password": "pw1"}`, `{"message": "User not found"}`},
			{"wrong password", `{"email": "alice@x.com", "password": "pw2"}`, `{"message": "Password not correct"}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := post(t, srv.URL+"/login", tt.data)

				require.Equalf(t, http.StatusOK, resp.StatusCode, "errors are reported in body. Body: %s", body)
				require.JSONEq(t, tt.expected, body)
				require.Empty(t, resp.Cookies(), "no cookies should be set on login error")
			})
		}

		user, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
		require.NoError(t, err)
		require.Empty(t, user.RefreshToken, "failed login must not touch stored token")
	})

	t.Run("protected", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
		require.NoError(t, err)
		access, refresh := login(t, srv.URL, "alice@x.com", "pw1")
		user, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
		require.NoError(t, err)
		expired := expiredAccess(t, user.ID)

		t.Run("ok", func(t *testing.T) {
			resp, body := post(t, srv.URL+"/protected", "", withBearer(access))

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
			require.JSONEq(t, `{"message": "This data is protected"}`, body)
		})

		tests := []struct {
			name     string
			opt      func(r *http.Request)
			expected string
		}{
			{"no token", func(r *http.Request) {}, `{"error": "You need to login"}`},
			{"expired token", withBearer(expired), `{"error": "Access token expired"}`},
			{"tampered token", withBearer(access + "x"), `{"error": "Access token invalid"}`},
			{"refresh token as access", withBearer(refresh), `{"error": "Access token invalid"}`},
			{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+access) }, `{"error": "Access token invalid"}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := post(t, srv.URL+"/protected", "", tt.opt)

				require.Equalf(t, http.StatusOK, resp.StatusCode, "errors are reported in body. Body: %s", body)
				require.JSONEq(t, tt.expected, body)
			})
		}
	})

	t.Run("refresh soft fails", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
		require.NoError(t, err)
		access, _ := login(t, srv.URL, "alice@x.com", "pw1")

		tests := []struct {
			name string
			opt  func(r *http.Request)
		}{
			{"no cookie", func(r *http.Request) {}},
			{"garbage cookie", withCookie("refreshToken", "not-a-token")},
			{"access token in cookie", withCookie("refreshToken", access)},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				before, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
				require.NoError(t, err)

				resp, body := post(t, srv.URL+"/refresh-token", "", tt.opt)

				require.Equalf(t, http.StatusOK, resp.StatusCode, "errors are reported in body. Body: %s", body)
				require.JSONEq(t, `{"accessToken": ""}`, body)
				require.Empty(t, resp.Cookies(), "no new cookie on failed refresh")

				after, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
				require.NoError(t, err)
				require.Equal(t, before.RefreshToken, after.RefreshToken, "failed refresh must not mutate store")
			})
		}
	})

	t.Run("logout", func(t *testing.T) {
		t.Run("clears cookie only by default", func(t *testing.T) {
			srv := startServer(t, memory.NewUserRepo(), auth.Config{})
			_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
			require.NoError(t, err)
			_, refresh := login(t, srv.URL, "alice@x.com", "pw1")

			resp, body := post(t, srv.URL+"/logout", "", withCookie("refreshToken", refresh))

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
			require.JSONEq(t, `{"message": "logged out"}`, body)
			cookie := refreshCookie(t, resp)
			require.Equal(t, "/refresh-token", cookie.Path, "cookie has to be cleared on the path it was set")
			require.Less(t, cookie.MaxAge, 0, "cookie should be expired")
			require.Empty(t, cookie.Value)

			user, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
			require.NoError(t, err)
			require.Equal(t, refresh, user.RefreshToken, "stored token is kept")
		})

		t.Run("revokes stored token if configured", func(t *testing.T) {
			srv := startServer(t, memory.NewUserRepo(), auth.Config{RevokeOnLogout: true})
			_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
			require.NoError(t, err)
			_, refresh := login(t, srv.URL, "alice@x.com", "pw1")

			_, body := post(t, srv.URL+"/logout", "", withCookie("refreshToken", refresh))
			require.JSONEq(t, `{"message": "logged out"}`, body)

			_, body = post(t, srv.URL+"/refresh-token", "", withCookie("refreshToken", refresh))
			require.JSONEq(t, `{"accessToken": ""}`, body, "revoked token must not refresh")
		})

		t.Run("anonymous", func(t *testing.T) {
			srv := startServer(t, memory.NewUserRepo(), auth.Config{RevokeOnLogout: true})

			resp, body := post(t, srv.URL+"/logout", "", withCookie("refreshToken", "garbage"))

			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.JSONEq(t, `{"message": "logged out"}`, body, "logout always succeeds")
		})
	})

	t.Run("cors preflight", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})

		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/login", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", testOrigin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	})

	t.Run("metrics", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		_, err := srv.Auth.Register(t.Context(), "alice@x.com", "pw1")
		require.NoError(t, err)
		_, refresh := login(t, srv.URL, "alice@x.com", "pw1")
		post(t, srv.URL+"/refresh-token", "", withCookie("refreshToken", refresh))
		post(t, srv.URL+"/refresh-token", "", withCookie("refreshToken", refresh))

		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		require.Contains(t, string(body), `authsession_session_events_total{event="login",result="ok"} 1`)
		require.Contains(t, string(body), `authsession_session_events_total{event="refresh",result="rotated"} 1`)
		require.Contains(t, string(body), `authsession_session_events_total{event="refresh",result="rejected"} 1`)
		require.Contains(t, string(body), `route="POST /login"`)
	})

	t.Run("rotation scenario memory", func(t *testing.T) {
		srv := startServer(t, memory.NewUserRepo(), auth.Config{})
		testRotationScenario(t, srv)
	})
}

func Test_AuthHandlers_Postgres(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("rotation scenario postgres", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			srv := startServer(t, &postgres.UserRepo{DB: tx}, auth.Config{})
			testRotationScenario(t, srv)
		})
	})
}

// register alice -> login (A1, R1) -> refresh R1 (A2, R2) -> replay R1 fails -> refresh R2 ok
func testRotationScenario(t *testing.T, srv testServer) {
	t.Helper()

	_, body := post(t, srv.URL+"/register", `{"email": "alice@x.com", "password": "pw1"}`)
	require.JSONEq(t, `{"message": "User registered successfully"}`, body)

	a1, r1 := login(t, srv.URL, "alice@x.com", "pw1")

	resp, body := post(t, srv.URL+"/refresh-token", "", withCookie("refreshToken", r1))
	require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
	a2 := extractAccess(t, body)
	r2 := refreshCookie(t, resp).Value
	require.NotEmpty(t, a2)
	require.NotEqual(t, a1, a2, "access token should be changed after refresh")
	require.NotEqual(t, r1, r2, "refresh token should be changed after refresh")

	user, err := srv.Repo.GetUserByEmail(t.Context(), "alice@x.com")
	require.NoError(t, err)
	require.Equal(t, r2, user.RefreshToken, "rotated token should be stored")

	resp, body = post(t, srv.URL+"/refresh-token", "", withCookie("refreshToken", r1))
	require.JSONEq(t, `{"accessToken": ""}`, body, "rotated out token must be rejected")
	require.Empty(t, resp.Cookies())

	resp, body = post(t, srv.URL+"/refresh-token", "", withCookie("refreshToken", r2))
	require.NotEmpty(t, extractAccess(t, body), "current token should refresh")
	require.NotEqual(t, r2, refreshCookie(t, resp).Value)

	_, body = post(t, srv.URL+"/protected", "", withBearer(a2))
	require.JSONEq(t, `{"message": "This data is protected"}`, body)
}
