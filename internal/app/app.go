// Package app wires configuration into a ready sync store.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"task-manager/tasksync/internal/client"
	"task-manager/tasksync/internal/config"
	"task-manager/tasksync/internal/connectivity"
	"task-manager/tasksync/internal/monitoring"
	"task-manager/tasksync/internal/offline"
	"task-manager/tasksync/internal/retry"
	"task-manager/tasksync/internal/session"
	"task-manager/tasksync/internal/storage"
)

// ErrUnsyncedChanges is returned by Forget while actions are still queued.
var ErrUnsyncedChanges = errors.New("unsynced changes would be lost")

type App struct {
	Config *config.Config
	KV     storage.KV
	Local  *storage.Local
	Client *client.Client
	Store  *offline.Store
	Logger *log.Logger
}

// New builds every component and opens the session for the configured
// user. The store starts offline; call Connect to probe the API.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}

	userID, err := session.Resolve(cfg.API.UserID, cfg.API.Token, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	kv, err := storage.Open(storageOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	api, err := client.New(clientConfig(cfg))
	if err != nil {
		kv.Close()
		return nil, err
	}

	local := storage.NewLocal(kv, logger)
	store, err := offline.New(offline.Options{
		Remote:      api,
		Persistence: local,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Logger:      logger,
		},
		Logger: logger,
	})
	if err != nil {
		kv.Close()
		return nil, err
	}
	if err := store.Open(ctx, userID); err != nil {
		kv.Close()
		return nil, err
	}

	return &App{Config: cfg, KV: kv, Local: local, Client: api, Store: store, Logger: logger}, nil
}

func storageOptions(cfg *config.Config) storage.Options {
	redisConfig := storage.DefaultRedisConfig()
	redisConfig.Addr = cfg.GetRedisAddr()
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.KeyPrefix = cfg.Redis.KeyPrefix
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConns = cfg.Redis.MinIdleConns
	redisConfig.MaxRetries = cfg.Redis.MaxRetries
	redisConfig.DialTimeout = cfg.Redis.DialTimeout
	redisConfig.ReadTimeout = cfg.Redis.ReadTimeout
	redisConfig.WriteTimeout = cfg.Redis.WriteTimeout

	sqlConfig := storage.DefaultSQLConfig()
	sqlConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	sqlConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	sqlConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	sqlConfig.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime

	return storage.Options{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.GetDatabaseDSN(),
		Redis:       redisConfig,
		SQL:         sqlConfig,
	}
}

func clientConfig(cfg *config.Config) *client.Config {
	out := &client.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
	}
	if cfg.RateLimit.Enabled {
		out.RequestsPerMinute = cfg.RateLimit.RequestsPerMin
		out.Burst = cfg.RateLimit.BurstSize
	}
	if cfg.Breaker.Enabled {
		out.Breaker = &client.CircuitBreakerConfig{
			MaxFailures:      cfg.Breaker.MaxFailures,
			Timeout:          cfg.Breaker.Timeout,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		}
	}
	return out
}

// Connect probes the API once and sets the store's connectivity. Coming
// online replays any queued actions.
func (a *App) Connect(ctx context.Context) bool {
	timeout := a.Config.Connectivity.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	err := a.Client.Ping(probeCtx)
	cancel()

	online := err == nil
	if !online {
		a.Logger.Printf("[connectivity] backend unreachable, working offline: %v", err)
	}
	if err := a.Store.SetOnline(ctx, online); err != nil {
		a.Logger.Printf("[offline] sync on connect failed: %v", err)
	}
	return online
}

// StartSession loads the task list and rolls yesterday's open tasks over.
func (a *App) StartSession(ctx context.Context) error {
	if _, err := a.Store.FetchTasks(ctx); err != nil {
		return err
	}
	if _, err := a.Store.CheckForRolloverTasks(ctx); err != nil {
		a.Logger.Printf("[offline] rollover incomplete: %v", err)
	}
	return nil
}

func (a *App) Watcher() *connectivity.Watcher {
	return connectivity.NewWatcher(a.Client.Ping, a.Store, connectivity.Config{
		Interval:     a.Config.Connectivity.Interval,
		ProbeTimeout: a.Config.Connectivity.ProbeTimeout,
		Logger:       a.Logger,
	})
}

// StatusServer serves the monitoring endpoints on the configured address.
func (a *App) StatusServer() *http.Server {
	health := monitoring.NewHealthChecker()
	health.Register("storage", a.KV.Health)
	health.Register("api", a.Client.Ping)

	router := monitoring.NewRouter(a.Store, monitoring.RouterConfig{
		CORSOrigins: a.Config.Status.CORSOrigins,
		Health:      health,
	})
	return &http.Server{
		Addr:              a.Config.GetStatusAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Forget ends the session and drops the user's local mirror and queue.
// It refuses while changes are queued unless force is set.
func (a *App) Forget(ctx context.Context, force bool) error {
	userID := a.Store.UserID()
	if n := len(a.Store.Pending()); n > 0 && !force {
		return fmt.Errorf("%w: %d queued", ErrUnsyncedChanges, n)
	}

	a.Store.Close()
	if err := a.Local.Clear(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear local data: %w", err)
	}
	a.Logger.Printf("[offline] cleared local data for %s", userID)
	return nil
}

func (a *App) Close() error {
	a.Store.Close()
	return a.KV.Close()
}
