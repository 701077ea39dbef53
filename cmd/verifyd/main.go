// Command verifyd serves the verification challenge engine over HTTP.
//
// Settings come from a .env file and VERIFYD_* environment variables; see
// internal/config. With no VERIFYD_DATABASE_URL accounts live in memory and
// the -demo flag seeds one account and one dealer application.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/httpapi"
	"github.com/MrEthical07/goVerify/internal/accounts"
	"github.com/MrEthical07/goVerify/internal/config"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/MrEthical07/goVerify/password"
	"github.com/MrEthical07/goVerify/metrics/export/prometheus"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const bearerTTL = 15 * time.Minute

func main() {
	var (
		envFile = flag.String("env", ".env", "optional .env file")
		demo    = flag.Bool("demo", false, "seed a demo account when using the in-memory store")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.WithError(err).Fatal("verifyd: load configuration")
	}
	logger := newLogger(cfg)

	if err := run(ctx, cfg, logger, *demo); err != nil {
		logger.WithError(err).Fatal("verifyd: exited")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)
	if cfg.Production() {
		logger.SetFormatter(&logrus.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
		return logger
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, demo bool) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer safeClose(logger, "redis", rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return err
	}

	store, closeStore, err := openAccounts(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	engine, err := goVerify.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithDeliveryGateway(gateway).
		WithSubjectResolver(accounts.Resolver{Store: store}).
		WithAuditSink(goVerify.NewLogrusSink(logger.WithField("component", "audit"))).
		WithLogger(logger.WithField("component", "engine")).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.WithFields(logrus.Fields{
		"ephemeral_pepper": report.EphemeralPepper,
		"dev_bypass":       report.DevBypassActive,
		"sandbox":          report.SandboxGateway,
		"throttles":        report.ThrottlesActive,
		"audit":            report.AuditEnabled,
		"token_ttl":        report.ActionTokenTTL.String(),
	}).Info("verifyd: security report")

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return err
	}
	actions := accounts.Actions{
		Store:  store,
		Hasher: hasher,
		Policy: password.DefaultPolicy(),
	}

	var (
		auth    httpapi.TokenParser
		manager *jwt.Manager
	)
	if cfg.JWTSecret != "" {
		manager, err = jwt.NewManager(jwt.Config{
			TTL:           bearerTTL,
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    []byte(cfg.JWTSecret),
			Issuer:        cfg.JWTIssuer,
			Audience:      cfg.JWTAudience,
			Leeway:        30 * time.Second,
		})
		if err != nil {
			return err
		}
		auth = manager
	} else {
		logger.Warn("verifyd: VERIFYD_JWT_SECRET not set, CHANGE_PASSWORD is unavailable")
	}

	if demo {
		if err := seedDemo(ctx, store, manager, logger); err != nil {
			return err
		}
	}

	router, err := httpapi.NewRouter(httpapi.Config{
		Engine:         engine,
		Actions:        actions,
		Auth:           auth,
		RateLimit:      cfg.HTTPRateLimit,
		TrustedProxies: cfg.TrustedProxyList(),
		Logger:         logger.WithField("component", "http"),
	})
	if err != nil {
		return err
	}

	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(prometheus.NewPrometheusExporter(engine).Handler()))

		shutdownOTel, err := startOTLP(ctx, cfg.OTLPEndpoint, engine)
		if err != nil {
			return err
		}
		defer safeClose(logger, "otlp", func() error {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdownOTel(c)
		})
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("verifyd: http shutdown")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":     cfg.HTTPAddr,
		"env":      cfg.Env,
		"delivery": cfg.DeliveryMode,
	}).Info("verifyd: listening")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openAccounts(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (accounts.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("verifyd: VERIFYD_DATABASE_URL not set, accounts are kept in memory")
		return accounts.NewMemoryStore(), func() {}, nil
	}

	db, err := accounts.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := accounts.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { safeClose(logger, "postgres", db.Close) }, nil
}

func safeClose(logger logrus.FieldLogger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.WithError(err).WithField("resource", name).Warn("verifyd: close")
	}
}
