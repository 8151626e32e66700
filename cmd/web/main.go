package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mordhub/internal/core/auth"
	"mordhub/internal/core/cache"
	"mordhub/internal/core/config"
	"mordhub/internal/core/database"
	"mordhub/internal/core/logger"
	"mordhub/internal/core/openid"
	"mordhub/internal/core/server"
	"mordhub/internal/guides"
	"mordhub/internal/repo"
	"mordhub/internal/transport/http/handler"
	"mordhub/internal/transport/http/router"
	"mordhub/internal/transport/http/view"
	"mordhub/web"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "config file (default $CONFIG_PATH or ./configs/config.yaml)")
	migrate := pflag.Bool("migrate", false, "migrate the schema before serving")
	pflag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	log, cleanup := logger.Build(logger.Options{
		Level:       cfg.Log.Level,
		JSON:        cfg.Log.JSON,
		AddCaller:   true,
		Development: !cfg.Release(),
		Rotate: logger.FileRotate{
			Enable:     cfg.Log.File != "",
			Filename:   cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})
	defer cleanup()
	defer logger.RedirectStdLog(log, zapcore.InfoLevel)()

	if cfg.Release() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = logger.ToWriter(log, zapcore.DebugLevel)
	gin.DefaultErrorWriter = logger.ToWriter(log, zapcore.ErrorLevel)

	if *migrate {
		mustMigrate(cfg, log)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pool := mustOpenPool(cfg, log, reg)
	store := repo.NewStore(pool, log)

	var rc *cache.Cache
	if cfg.Redis.Enable {
		rc = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err := rc.Ping(context.Background()); err != nil {
			log.Warn("redis unavailable, serving uncached", zap.Error(err))
		}
		defer rc.Close()
	}

	lib, err := guides.Embedded(rc)
	if err != nil {
		log.Fatal("load guides", zap.Error(err))
	}
	views, err := view.New(web.Templates())
	if err != nil {
		log.Fatal("parse templates", zap.Error(err))
	}
	sessions, err := auth.NewSessions(cfg.Session.Secret, cfg.Session.TTL(), cfg.Session.Secure)
	if err != nil {
		log.Fatal("sessions", zap.Error(err))
	}
	verifier, err := openid.NewVerifier(openid.Options{
		Endpoint: cfg.OpenID.Endpoint,
		SiteURL:  cfg.App.SiteURL,
		Client:   &http.Client{Timeout: time.Duration(cfg.OpenID.TimeoutSec) * time.Second},
	}, store, log)
	if err != nil {
		log.Fatal("openid", zap.Error(err))
	}

	h, err := handler.New(handler.Deps{
		Store:    store,
		Verifier: verifier,
		Sessions: sessions,
		Guides:   lib,
		Views:    views,
		Cache:    rc,
		Assets:   web.Static(),
		CDNBase:  cfg.CDN.BaseURL,
		Debug:    cfg.App.Debug,
		Log:      log,
	})
	if err != nil {
		log.Fatal("handlers", zap.Error(err))
	}

	hc := cfg.App.HTTP
	r, err := router.NewWebEngine(log, h, sessions, store, router.Options{
		RequestTimeout: time.Duration(hc.RequestTimeoutSec) * time.Second,
		MaxBodyBytes:   hc.MaxBodyBytes,
		MaxConcurrent:  hc.MaxConcurrent,
		RateLimitRPS:   hc.RateLimitRPS,
		RateLimitBurst: hc.RateLimitBurst,
		CORSOrigins:    hc.CORSOrigins,
		Registry:       reg,

		AuthRateLimitRPS:   hc.AuthRateLimitRPS,
		AuthRateLimitBurst: hc.AuthRateLimitBurst,
	})
	if err != nil {
		log.Fatal("router", zap.Error(err))
	}

	addr := server.Addr(hc.Host, hc.Port)
	srv := server.BuildServer(
		addr, r,
		time.Duration(hc.ReadTimeoutSec)*time.Second,
		time.Duration(hc.WriteTimeoutSec)*time.Second,
		time.Duration(hc.IdleTimeoutSec)*time.Second,
	)

	go func() {
		if err := server.StartHTTP(srv, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()
	log.Info("mordhub started", zap.String("addr", addr), zap.String("site", cfg.App.SiteURL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	pool.Close()
	log.Info("mordhub stopped gracefully")
}

func mustOpenPool(cfg *config.Config, l *zap.Logger, reg prometheus.Registerer) *database.Pool[*database.Connection] {
	connCfg, err := database.ParseConnConfig(cfg.DB.DSN, database.TLSMode(cfg.DB.TLS))
	if err != nil {
		l.Fatal("db config", zap.Error(err))
	}
	pool, err := database.NewPool[*database.Connection](database.NewManager(connCfg, l), database.PoolConfig{
		MinSize:           cfg.DB.MinConns,
		MaxSize:           cfg.DB.MaxConns,
		AcquireTimeout:    cfg.DB.AcquireTimeout(),
		HealthCheckPeriod: cfg.DB.HealthCheckPeriod(),
	}, l)
	if err != nil {
		l.Fatal("db pool", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DB.AcquireTimeout())
	defer cancel()
	if err := pool.Warm(ctx); err != nil {
		l.Fatal("db warm-up", zap.Error(err))
	}
	if err := database.RegisterPoolMetrics(reg, pool.Stat); err != nil {
		l.Fatal("db metrics", zap.Error(err))
	}
	l.Info("database pool ready", zap.Int32("min", cfg.DB.MinConns), zap.Int32("max", cfg.DB.MaxConns))
	return pool
}

func mustMigrate(cfg *config.Config, l *zap.Logger) {
	db, err := database.NewGorm(database.Opts{DSN: cfg.DB.DSN, MaxOpenConns: 1, LogLevel: cfg.DB.LogLevel})
	if err != nil {
		l.Fatal("db open", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		l.Fatal("migrate", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	l.Info("schema migrated")
}
