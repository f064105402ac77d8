package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authsession/internal/db"
	"github.com/nkiryanov/authsession/internal/handlers"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/metrics"
	"github.com/nkiryanov/authsession/internal/repository"
	"github.com/nkiryanov/authsession/internal/repository/memory"
	"github.com/nkiryanov/authsession/internal/repository/postgres"
	redisrepo "github.com/nkiryanov/authsession/internal/repository/redis"
	"github.com/nkiryanov/authsession/internal/service/auth"
	"github.com/nkiryanov/authsession/internal/service/auth/tokenmanager"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger

	// Release resources (db pool) after server stopped
	close func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Initialize services before touching the db: config errors are cheaper to report
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  c.AccessSecret,
		RefreshSecret: c.RefreshSecret,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	userRepo, closeRepo, err := newUserRepo(ctx, c, l)
	if err != nil {
		return nil, err
	}

	authService, err := auth.NewService(auth.Config{
		CookieSecure:   c.CookieSecure,
		RevokeOnLogout: c.RevokeOnLogout,
	}, tokenManager, userRepo)
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(authService, l, metrics.New(), c.CORSOrigin)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		Logger:     l,
		close:      closeRepo,
	}, nil
}

// Postgres store if database set, redis if redis set, in-memory store otherwise
func newUserRepo(ctx context.Context, c *Config, l logger.Logger) (repository.UserRepo, func(), error) {
	switch {
	case c.DatabaseDSN != "":
		// Connect to the database and run migrations
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		return &postgres.UserRepo{DB: pool}, pool.Close, nil

	case c.RedisURL != "":
		opts, err := goredis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("error while parsing redis url. Err: %w", err)
		}
		rdb := goredis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis is not reachable. Err: %w", err)
		}
		return redisrepo.NewUserRepo(rdb, redisrepo.DefaultPrefix), func() { _ = rdb.Close() }, nil

	default:
		l.Warn("Neither DATABASE_URI nor REDIS_URL set, users are kept in memory and lost on restart")
		return memory.NewUserRepo(), func() {}, nil
	}
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
