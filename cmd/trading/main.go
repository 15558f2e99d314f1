package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/fracshare/trading/internal/config"
	"github.com/fracshare/trading/internal/engine"
	"github.com/fracshare/trading/internal/handler"
	"github.com/fracshare/trading/internal/metrics"
	"github.com/fracshare/trading/internal/repository"
	"github.com/fracshare/trading/internal/service"
	"github.com/fracshare/trading/internal/ws"
	"github.com/fracshare/trading/pkg/auth"
	"github.com/fracshare/trading/pkg/health"
	"github.com/fracshare/trading/pkg/logger"
	redisstream "github.com/fracshare/trading/pkg/redis"
	"github.com/fracshare/trading/pkg/snowflake"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, os.Stdout, cfg.LogLevel)

	production := os.Getenv("APP_ENV") == "production"
	if err := cfg.Validate(production); err != nil {
		log.WithError(err).Error("invalid config")
		os.Exit(1)
	}
	if err := snowflake.Init(cfg.WorkerID); err != nil {
		log.WithError(err).Error("init id generator")
		os.Exit(1)
	}
	metrics.Init()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.WithError(err).Error("open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.WithError(err).Error("ping database")
		os.Exit(1)
	}
	log.Infof("connected to postgres", map[string]interface{}{"host": cfg.DBHost, "db": cfg.DBName})

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Error("ping redis")
		os.Exit(1)
	}
	log.Infof("connected to redis", map[string]interface{}{"addr": cfg.RedisAddr})

	verifier, err := auth.NewVerifier(cfg.AuthTokenSecret)
	if err != nil {
		log.WithError(err).Error("init token verifier")
		os.Exit(1)
	}

	orders := repository.NewOrderRepository(db)
	products := repository.NewProductRepository(db)
	holdings := repository.NewHoldingRepository(db)
	fills := repository.NewFillRepository(db)
	settler := repository.NewSettler(db, orders, holdings, products, fills)

	registry := engine.NewRegistry(engine.Deps{
		Orders:       orders,
		Products:     products,
		Holdings:     holdings,
		Settler:      settler,
		Logger:       log,
		MinSellPrice: cfg.MinSellPrice,
	})
	defer registry.Stop()

	svc := service.NewTradingService(registry, orders, holdings, products, log)

	wsServer := ws.NewServer(log, ws.Config{AllowedOrigins: cfg.WSAllowedOrigins})
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		if err := wsServer.Run(ctx, addr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("websocket server stopped")
		}
	}()

	forwardMonitor := health.NewLoopMonitor(45 * time.Second)
	forwarder := service.NewForwarder(
		registry.Events(),
		redisstream.NewStreamClient(redisClient),
		cfg.FillStream,
		ws.NewPublisher(redisClient, cfg.PrivateUserEventChannel),
		wsServer,
		forwardMonitor,
		log,
	)
	go forwarder.Run(ctx)

	mux := http.NewServeMux()
	api := handler.New(svc, verifier, cfg.InternalToken, log).Register(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, []dependencyStatus{
			checkPostgres(r.Context(), db),
			checkRedis(r.Context(), redisClient),
			checkForwarder(forwardMonitor),
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, []dependencyStatus{
			checkPostgres(r.Context(), db),
			checkRedis(r.Context(), redisClient),
		})
	})
	mux.Handle("GET /metrics", handler.RequireToken(cfg.MetricsToken, metrics.Handler()))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Infof("http server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	registry.Stop()
	log.Info("shutdown complete")
}

type dependencyStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Latency int64  `json:"latency"`
}

type healthResponse struct {
	Status       string             `json:"status"`
	Dependencies []dependencyStatus `json:"dependencies"`
}

func checkPostgres(ctx context.Context, db *sql.DB) dependencyStatus {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := "ok"
	if err := db.PingContext(timeoutCtx); err != nil {
		status = "down"
	}
	return dependencyStatus{
		Name:    "postgres",
		Status:  status,
		Latency: time.Since(start).Milliseconds(),
	}
}

func checkRedis(ctx context.Context, client *redis.Client) dependencyStatus {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := "ok"
	if err := client.Ping(timeoutCtx).Err(); err != nil {
		status = "down"
	}
	return dependencyStatus{
		Name:    "redis",
		Status:  status,
		Latency: time.Since(start).Milliseconds(),
	}
}

func checkForwarder(monitor *health.LoopMonitor) dependencyStatus {
	ok, age, _ := monitor.Healthy(time.Now())
	status := "ok"
	if !ok {
		status = "down"
	}
	return dependencyStatus{
		Name:    "eventForwarder",
		Status:  status,
		Latency: age.Milliseconds(),
	}
}

func writeHealth(w http.ResponseWriter, deps []dependencyStatus) {
	status := "ok"
	for _, dep := range deps {
		if dep.Status != "ok" {
			status = "degraded"
			break
		}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:       status,
		Dependencies: deps,
	})
}
