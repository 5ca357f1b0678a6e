// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"upgrade-service/internal/config"
	"upgrade-service/internal/db"
	"upgrade-service/internal/events"
	"upgrade-service/internal/gateway"
	upgradeHandler "upgrade-service/internal/handlers/upgrade"
	"upgrade-service/internal/middleware"
	"upgrade-service/internal/pkg/jwt"
	"upgrade-service/internal/pkg/lock"
	"upgrade-service/internal/pkg/metrics"
	"upgrade-service/internal/repository/postgres"
	upgradeUsecase "upgrade-service/internal/service/upgrade"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	http   *http.Server

	pool  *pgxpool.Pool
	redis *redis.Client
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if cfg.Stage == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Components are the wired service parts shared by the API and upgradectl.
type Components struct {
	Service *upgradeUsecase.Service
	Metrics *metrics.Metrics
	Pool    *pgxpool.Pool
	Redis   *redis.Client
}

// Close releases the pool and the Redis client.
func (c *Components) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Build connects the stores and wires the upgrade service.
func Build(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Components, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	pg := postgres.NewDB(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(ctx, db.RedisConfig{
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
		PoolSize: 10,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	// ----- Events -----
	publishers := events.Multi{events.NewLogPublisher(logger)}
	if cfg.TelemetryQueueURL != "" || cfg.EventsQueueURL != "" {
		sqsClient, err := events.NewSQSClient(ctx, cfg.AWSRegion)
		if err != nil {
			redisClient.Close()
			pool.Close()
			return nil, err
		}
		publishers = append(publishers, events.NewSQSPublisher(sqsClient, map[string]string{
			events.TopicSalesFunnel:           cfg.TelemetryQueueURL,
			events.TopicSubscriptionShortened: cfg.EventsQueueURL,
		}, logger))
	}

	// ----- Gateway -----
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, recurrent charges will fail")
	}
	gw := gateway.NewStripeFromKey(cfg.StripeSecretKey, cfg.Currency, logger)

	// ----- Engine -----
	stores := pg.Stores()
	engine := upgradeUsecase.NewEngine(upgradeUsecase.Deps{
		Subscriptions: stores.Subscriptions,
		Plans:         stores.Plans,
		Payments:      stores.Payments,
		Schedules:     stores.Schedules,
		Options:       stores.Options,
		Records:       stores.Records,
		Trials:        stores.Trials,
		Audit:         stores.Audit,
		Gateway:       gw,
		Events:        publishers,
	}, logger, upgradeUsecase.WithLocation(loc))

	m := metrics.New()
	lockCfg := upgradeUsecase.DefaultLockConfig()
	lockCfg.TTL, lockCfg.Wait = cfg.LockTTL, cfg.LockWait
	svc := upgradeUsecase.NewService(engine, lock.NewRedisLock(redisClient, "lock:", logger), lockCfg, m, logger)

	return &Components{Service: svc, Metrics: m, Pool: pool, Redis: redisClient}, nil
}

func (s *Server) Start(ctx context.Context) error {
	comps, err := Build(ctx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	s.pool, s.redis = comps.Pool, comps.Redis

	// ----- JWT -----
	verifier, err := jwt.LoadVerifier(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT verifier: %w", err)
	}

	s.engine.Use(
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingMiddleware(s.logger),
		middleware.CORSMiddleware(),
	)
	SetupRouter(s.engine, &Handlers{
		UpgradeHandler: upgradeHandler.NewUpgradeHandler(comps.Service, s.logger),
		AuthMiddleware: middleware.NewAuthMiddleware(verifier),
		Metrics:        comps.Metrics.Handler(),
	})

	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP and closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
