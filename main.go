package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/idverify/internal/auth"
	"github.com/example/idverify/internal/awsclient"
	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/genaiclient"
	"github.com/example/idverify/internal/handlers"
	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/statuschannel"
	"github.com/example/idverify/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	awsCfg, err := awsclient.NewConfig(ctx, cfg.AWS)
	if err != nil {
		logger.Fatal("failed to load aws config", zap.Error(err))
	}
	store := awsclient.NewObjectStore(awsCfg, cfg.AWS.Bucket, cfg.AWS.PresignExpiry, logger)
	rekognition := awsclient.NewRekognition(awsCfg, cfg.AWS.Bucket, logger)

	extractor, err := genaiclient.NewExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		logger.Fatal("failed to create document extractor", zap.Error(err))
	}

	publisher, subscriber := statusFeed(cfg, redisClient, repo, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens := auth.NewCaptureTokens(cfg.JWTSecret, cfg.CaptureTokenTTL)
	uc := usecase.NewVerificationUseCase(usecase.Dependencies{
		Repo:       repo,
		Cache:      usecase.NewRedisCache(redisClient),
		Liveness:   rekognition,
		Faces:      rekognition,
		Store:      store,
		Extractor:  extractor,
		Publisher:  publisher,
		Subscriber: subscriber,
		Tokens:     tokens,
		Metrics:    usecase.NewMetrics(registry),
		Thresholds: cfg.Thresholds,
		AppURL:     cfg.AppURL,
	}, logger)

	r := gin.Default()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience), tokens, logger,
		handlers.WithShutdown(shutdownSignal(server)),
	)

	logger.Info("verification API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("status_feed", cfg.StatusFeed),
	)
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// statusFeed picks how status observers are fed. Redis pub/sub pushes each
// transition; polling reads the database and needs no publisher.
func statusFeed(cfg config.Config, client *redis.Client, repo *repository.VerificationRepository, logger *zap.Logger) (ports.StatusPublisher, ports.StatusSubscriber) {
	if cfg.StatusFeed == "poll" {
		return statuschannel.NopPublisher{}, statuschannel.NewPoller(repo, cfg.StatusPollInterval, logger)
	}
	channel := statuschannel.NewRedisChannel(client, logger)
	return channel, channel
}

// shutdownSignal closes once the server begins shutting down. Status streams
// watch it so Shutdown does not wait on them, while in-flight requests such
// as a running verification keep their context and finish.
func shutdownSignal(server *http.Server) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	server.RegisterOnShutdown(func() {
		once.Do(func() { close(done) })
	})
	return done
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
