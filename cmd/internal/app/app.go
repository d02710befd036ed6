// Package app wires the fintrack runtime: config, logging, stores, the auth
// service and its HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/api"
	"fintrack/cmd/internal/auth/login"
	"fintrack/cmd/internal/auth/notify"
	"fintrack/cmd/internal/auth/otp"
	"fintrack/cmd/internal/auth/session"
	"fintrack/cmd/security/password"
	"fintrack/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App owns the HTTP server and every resource the auth core needs.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  *redis.Client

	otps     *otp.Manager
	sessions *session.Service
	notifier *notify.Built
	registry *prometheus.Registry

	handler http.Handler
}

// stores groups the persistence backends selected from Config.
type stores struct {
	users    identity.Store
	otp      otp.Store
	sessions session.Store
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	ctx := context.Background()

	hasher, err := securityHasher(cfg)
	if err != nil {
		return nil, err
	}
	if !hasher.Keyed() {
		log.Warn("security.hmac.disabled", "detail", token.HMACEnvKey+" unset; secrets are hashed with plain SHA-256")
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	policy, err := otp.PolicyFromEnv()
	if err != nil {
		return nil, err
	}
	a.otps, err = otp.NewManager(st.otp, otp.WithPolicy(policy), otp.WithHasher(hasher), otp.WithLogger(log))
	if err != nil {
		return nil, err
	}

	sessCfg, err := a.sessionConfig()
	if err != nil {
		return nil, err
	}
	a.sessions, err = session.NewService(sessCfg, st.sessions, session.WithHasher(hasher), session.WithLogger(log))
	if err != nil {
		return nil, err
	}

	notifyCfg, err := notify.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	a.notifier, err = notify.Build(notifyCfg, log)
	if err != nil {
		return nil, err
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc, err := login.NewService(login.Deps{
		Users:     st.users,
		OTP:       a.otps,
		Sessions:  a.sessions,
		Notifier:  a.notifier,
		Passwords: pwCfg,
	}, login.WithLogger(log), login.WithMetrics(login.NewMetrics(a.registry)), login.WithDeliveryTimeout(notifyCfg.Timeout))
	if err != nil {
		return nil, err
	}

	opts := []api.HandlerOption{api.WithLogger(log)}
	if a.pool != nil {
		sink, err := api.NewPostgresAudit(a.pool, cfg.DBSchema)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithAuditSink(sink))
	}
	auth, err := api.NewHandler(svc, api.LoadConfigFromEnv(), opts...)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux, auth)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)
	ready = true
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// openStores picks Postgres when a database URL is configured and memory
// otherwise. Redis, when configured, takes over OTP challenges.
func (a *App) openStores(ctx context.Context) (stores, error) {
	var st stores

	if a.cfg.DatabaseURL == "" {
		if a.cfg.Production() {
			return st, errors.New("app: FINTRACK_DATABASE_URL is required in production")
		}
		a.log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		st.users = users
		st.otp = otp.NewMemoryStore()
		st.sessions = session.NewMemoryStore(session.WithUserCheck(func(ctx context.Context, id string) (bool, error) {
			_, err := users.GetUserByID(ctx, id)
			if identity.IsNotFound(err) {
				return false, nil
			}
			return err == nil, err
		}))
	} else {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return st, err
		}
		a.pool = pool
		a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema, "auto_migrate", a.cfg.AutoMigrate)

		if st.users, err = identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema)); err != nil {
			return st, err
		}
		if st.otp, err = otp.NewPostgresStore(pool, otp.WithSchema(a.cfg.DBSchema)); err != nil {
			return st, err
		}
		if st.sessions, err = session.NewPostgresStore(pool, session.WithSchema(a.cfg.DBSchema)); err != nil {
			return st, err
		}
	}

	if a.cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.rdb.Ping(pingCtx).Err(); err != nil {
			return st, fmt.Errorf("app: redis ping: %w", err)
		}
		rs, err := otp.NewRedisStore(a.rdb, otp.WithKeyPrefix(a.cfg.DBSchema+":otp:"))
		if err != nil {
			return st, err
		}
		st.otp = rs
		a.log.Info("redis.enabled.otp_store", "addr", a.cfg.RedisAddr)
	}
	return st, nil
}

// sessionConfig loads token keys. Outside production missing keys are replaced
// with ephemeral ones so a fresh checkout starts without setup.
func (a *App) sessionConfig() (session.Config, error) {
	c, err := session.LoadConfigFromEnv()
	if err != nil {
		return session.Config{}, err
	}
	if c.Validate() == nil {
		return c, nil
	}
	if a.cfg.Production() {
		return session.Config{}, c.Validate()
	}
	a.log.Warn("session.keys.ephemeral", "msg", "token keys unset; sessions will not survive a restart")
	return session.WithEphemeralKeys(c), nil
}

// Run starts the HTTP server and background sweeps, blocking until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go otp.NewSweeper(a.otps, a.cfg.SweepInterval, a.log).Run(sweepCtx)
	go a.sweepSessions(sweepCtx)

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"db_enabled", a.pool != nil,
		"redis_enabled", a.rdb != nil,
		"notifier_configured", a.notifier.Configured(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func (a *App) sweepSessions(ctx context.Context) {
	if a.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.sessions.Sweep(ctx, time.Now().UTC())
			if err != nil {
				a.log.Error("session.sweep.fail", "err", err)
				continue
			}
			if n > 0 {
				a.log.Debug("session.sweep.ok", "purged", n)
			}
		}
	}
}

func (a *App) close() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Error("notify.close.fail", "err", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
