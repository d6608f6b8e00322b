package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"aquant/internal/cache"
	"aquant/internal/config"
	"aquant/internal/database"
	"aquant/internal/ingest"
	"aquant/internal/logger"
	marketstore "aquant/internal/market/storage"
	"aquant/internal/monitor"
	"aquant/internal/optimizer"
	"aquant/internal/storage"
	"aquant/internal/strategy"
)

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	log        logger.Logger

	// Core services
	db         *database.DB
	cache      cache.Cache
	redis      *cache.RedisCache
	jwtManager *JWTManager
	metrics    *monitor.Metrics
	registry   *strategy.Registry
	sweeper    *optimizer.Sweeper
	scheduler  *ingest.Scheduler
	hub        *ProgressHub
}

// Handlers contains all API handlers
type Handlers struct {
	Auth      *AuthHandler
	Market    *MarketHandler
	Strategy  *StrategyHandler
	Backtest  *BacktestHandler
	Sweep     *SweepHandler
	WebSocket *WebSocketHandler
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 数据库不可用时降级启动，只读内存功能仍可用
	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	}, log)
	if err != nil {
		log.Warn("Failed to connect to database, starting without database support", "error", err)
		db = nil
	}

	// Redis 不可用时退化为进程内缓存
	var cacheBackend cache.Cache
	redisCache, err := cache.NewRedisCache(&cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		log.Warn("Failed to connect to Redis, falling back to in-memory cache", "error", err)
		redisCache = nil
		cacheBackend = cache.NewMemoryCache(10000)
	} else {
		cacheBackend = redisCache
	}

	jwtManager := NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Duration)
	metrics := monitor.NewMetrics()
	registry := strategy.NewRegistry()
	sweeper := optimizer.NewSweeper(registry, cfg.Sweep.Workers, log)
	hub := NewProgressHub()

	var marketStore *marketstore.Storage
	var runStore *storage.RunStore
	if db != nil {
		marketStore = marketstore.NewStorage(db.DB)
		runStore = storage.NewRunStore(db.DB)
	}

	server := &Server{
		config:     cfg,
		router:     router,
		log:        log,
		db:         db,
		cache:      cacheBackend,
		redis:      redisCache,
		jwtManager: jwtManager,
		metrics:    metrics,
		registry:   registry,
		sweeper:    sweeper,
		scheduler:  ingest.NewScheduler(log),
		hub:        hub,
	}

	if err := server.registerJobs(marketStore); err != nil {
		return nil, err
	}

	defaults := cfg.Backtest.Clone()
	server.handlers = &Handlers{
		Auth:      NewAuthHandler(jwtManager, db),
		Market:    NewMarketHandler(marketStore, server.scheduler),
		Strategy:  NewStrategyHandler(registry, marketStore),
		Backtest:  NewBacktestHandler(registry, marketStore, runStore, cacheBackend, metrics, defaults, hub),
		Sweep:     NewSweepHandler(sweeper, marketStore, defaults, metrics),
		WebSocket: NewWebSocketHandler(hub, sweeper),
	}

	server.setupRoutes()

	return server, nil
}

// registerJobs wires the scheduled maintenance jobs. Jobs needing the
// database are skipped when it is unavailable.
func (s *Server) registerJobs(marketStore *marketstore.Storage) error {
	if s.db != nil && s.config.Ingest.DataDir != "" {
		importer := ingest.NewImporter(marketStore, s.log)
		dataDir := s.config.Ingest.DataDir
		err := s.scheduler.AddJob("eod_refresh", s.config.Ingest.RefreshCron, func(ctx context.Context) error {
			bars, err := importer.ImportDir(ctx, dataDir)
			s.metrics.ObserveIngest(bars, err)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to register eod_refresh job: %w", err)
		}
	}

	err := s.scheduler.AddJob("cleanup", s.config.Ingest.CleanupCron, func(ctx context.Context) error {
		removed := s.sweeper.CleanupFinishedJobs(s.config.Sweep.JobRetention)
		if removed > 0 {
			s.log.Info("Cleaned up finished sweep jobs", "removed", removed)
		}
		if s.db != nil {
			if err := s.db.DeleteExpiredSessions(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}
	return nil
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(RequestLogger(s.log))
	s.router.Use(RecoveryMiddleware(s.log))
	s.router.Use(CORSMiddleware(s.config.CORS))
	if s.config.RateLimit.Enabled {
		s.router.Use(NewRateLimiter(s.config.RateLimit).Middleware())
	}
	s.router.Use(s.metrics.MetricsMiddleware())

	// Swagger documentation
	if !s.config.IsProduction() {
		s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Prometheus metrics
	if s.config.Monitoring.PrometheusEnabled {
		s.router.GET(s.config.Monitoring.PrometheusPath, monitor.PrometheusHandler())
	}

	v1 := s.router.Group("/api/v1")
	{
		// Public routes (no authentication required)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", s.handlers.Auth.Login)
			auth.POST("/register", s.handlers.Auth.Register)
			auth.POST("/refresh", s.handlers.Auth.RefreshToken)
		}

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(s.jwtManager.AuthMiddleware())
		{
			protected.POST("/auth/logout", s.handlers.Auth.Logout)
			protected.GET("/auth/profile", s.handlers.Auth.GetProfile)

			market := protected.Group("/market")
			{
				market.GET("/symbols", s.handlers.Market.ListSymbols)
				market.GET("/instruments", s.handlers.Market.ListInstruments)
				market.GET("/bars/:symbol", s.handlers.Market.GetBars)
				market.POST("/backfill", s.handlers.Market.TriggerBackfill)
			}

			strat := protected.Group("/strategy")
			{
				strat.GET("", s.handlers.Strategy.List)
				strat.POST("/preview", s.handlers.Strategy.Preview)
			}

			backtest := protected.Group("/backtest")
			{
				backtest.POST("/run", s.handlers.Backtest.SubmitRun)
				backtest.GET("/runs", s.handlers.Backtest.ListRuns)
				backtest.GET("/runs/:id", s.handlers.Backtest.GetRun)
				backtest.GET("/runs/:id/trades", s.handlers.Backtest.GetTrades)
				backtest.GET("/runs/:id/valuations", s.handlers.Backtest.GetValuations)
				backtest.GET("/runs/:id/report", s.handlers.Backtest.GetReport)
			}

			sweep := protected.Group("/sweep")
			{
				sweep.POST("", s.handlers.Sweep.Submit)
				sweep.GET("", s.handlers.Sweep.List)
				sweep.GET("/:id", s.handlers.Sweep.Get)
				sweep.GET("/:id/results", s.handlers.Sweep.Results)
				sweep.POST("/:id/cancel", s.handlers.Sweep.Cancel)
			}
		}
	}

	// WebSocket routes
	ws := s.router.Group("/ws")
	{
		ws.GET("/runs/:id", s.handlers.WebSocket.RunStream)
		ws.GET("/sweeps/:id", s.handlers.WebSocket.SweepStream)
	}

	// Health check
	s.router.GET("/health", s.healthCheck)
}

func (s *Server) healthCheck(c *gin.Context) {
	dbHealth := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(c.Request.Context()); err != nil {
			dbHealth = "error"
		} else {
			stats := s.db.Stats()
			s.metrics.SetDBPool(stats.OpenConnections, stats.InUse)
		}
	} else {
		dbHealth = "unavailable"
	}

	redisHealth := "ok"
	if s.redis != nil {
		if err := s.redis.HealthCheck(c.Request.Context()); err != nil {
			redisHealth = "error"
		}
	} else {
		redisHealth = "unavailable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.config.App.Version,
		"time":    time.Now().UTC(),
		"services": gin.H{
			"database": dbHealth,
			"redis":    redisHealth,
		},
	})
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the scheduler and the HTTP server. Blocks until the server
// exits.
func (s *Server) Start() error {
	s.scheduler.Start()

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	s.log.Info("Starting API server", "host", s.config.Server.Host, "port", s.config.Server.Port)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Shutting down server...")

	s.scheduler.Stop()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("Error closing database", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Error("Error closing cache", "error", err)
		}
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	s.log.Info("Server stopped gracefully")
	return nil
}
