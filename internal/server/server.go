package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathlane/usage-gate/internal/cache"
	"github.com/pathlane/usage-gate/internal/config"
	"github.com/pathlane/usage-gate/internal/dispatch"
	"github.com/pathlane/usage-gate/internal/executor"
	"github.com/pathlane/usage-gate/internal/gate"
	"github.com/pathlane/usage-gate/internal/handler"
	"github.com/pathlane/usage-gate/internal/healthcheck"
	"github.com/pathlane/usage-gate/internal/middleware"
	"github.com/pathlane/usage-gate/internal/models"
	"github.com/pathlane/usage-gate/internal/policy"
	"github.com/pathlane/usage-gate/internal/quota"
	"github.com/pathlane/usage-gate/internal/ratelimit"
	"github.com/pathlane/usage-gate/internal/repository"
	"github.com/pathlane/usage-gate/internal/service"
	"github.com/pathlane/usage-gate/internal/storage"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	resolver   *policy.Resolver
	dispatcher *dispatch.Dispatcher
	checker    *healthcheck.Checker
	audit      *service.AuditLogger
	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Repositories
	policyRepo := repository.NewPolicyRepository(postgres)
	clientKeyRepo := repository.NewClientKeyRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)
	jobRepo := repository.NewJobRepository(postgres)
	usageRepo := repository.NewUsageRepository(postgres)
	logRepo := repository.NewAdmissionLogRepository(postgres)

	// Policy resolver refreshing from the published tier_policies rows
	resolver, err := policy.NewResolver(policy.NewDBSource(policyRepo), cfg.Policy.RefreshInterval())
	if err != nil {
		return nil, err
	}
	resolver.Start()

	// Rate limiting
	factory := ratelimit.NewFactory(redis)
	admitter := ratelimit.NewAdmitter(resolver, factory)

	// Quota ledger: Redis holds the hot counters, Postgres the archive
	quotaStore := quota.NewRedisStore(redis, cfg.Quota.ReservationTTL())
	ledger := quota.NewLedger(resolver, quotaStore, usageRepo, cfg.Quota.Location())

	// Response cache
	responseCache := cache.New(cache.NewRedisStore(redis), cfg.Cache.ComputeTimeout())

	// Backend health probes feed the dispatcher's claim filter
	backendProbes := make(map[string]string)
	for _, b := range cfg.Backends {
		backendProbes[b.TaskType] = b.ProbeURL()
	}
	checker := healthcheck.NewChecker(&healthcheck.Config{Backends: backendProbes})
	checker.Start()

	// Job dispatcher with one HTTP executor per configured backend
	dispatcher := dispatch.New(jobRepo, ledger, responseCache, dispatch.Config{
		Workers:      cfg.Dispatcher.Workers,
		PollInterval: time.Duration(cfg.Dispatcher.PollIntervalMs) * time.Millisecond,
		ExecTimeout:  time.Duration(cfg.Dispatcher.ExecTimeoutSec) * time.Second,
		MaxAttempts:  cfg.Dispatcher.MaxAttempts,
		Backoff: dispatch.Backoff{
			Base: time.Duration(cfg.Dispatcher.BackoffBaseMs) * time.Millisecond,
			Max:  time.Duration(cfg.Dispatcher.BackoffMaxSec) * time.Second,
		},
		Retention: time.Duration(cfg.Dispatcher.RetentionHours) * time.Hour,
	})

	executors := make(map[models.TaskType]*executor.HTTPExecutor)
	for _, b := range cfg.Backends {
		taskType := models.TaskType(b.TaskType)
		if !models.ValidTaskType(taskType) {
			log.Printf("Skipping backend with unknown task type: %s", b.TaskType)
			continue
		}

		ex := executor.NewHTTPExecutor(b.Target, time.Duration(b.TimeoutSec)*time.Second)
		executors[taskType] = ex
		dispatcher.Register(taskType, ex)
		log.Printf("Registered executor for %s -> %s", b.TaskType, b.Target)
	}

	dispatcher.SetHealth(func(t models.TaskType) bool {
		return checker.IsHealthy(string(t))
	})
	dispatcher.Start()

	// Services
	clientKeyService := service.NewClientKeyService(clientKeyRepo, redis)
	authService := service.NewAuthService(userRepo, os.Getenv("JWT_SECRET"), 24)
	audit := service.NewAuditLogger(logRepo, 1024)
	analyticsService := service.NewAnalyticsService(logRepo, usageRepo)

	gateService := gate.NewService(resolver, admitter, ledger, responseCache, dispatcher)

	s := &Server{
		router:     router,
		config:     cfg,
		redis:      redis,
		postgres:   postgres,
		resolver:   resolver,
		dispatcher: dispatcher,
		checker:    checker,
		audit:      audit,
	}

	s.setupMiddleware()
	s.setupRoutes(
		gateService,
		responseCache,
		executors,
		resolver,
		policyRepo,
		clientKeyService,
		authService,
		analyticsService,
		admitter,
	)

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes(
	gateService *gate.Service,
	responseCache *cache.Cache,
	executors map[models.TaskType]*executor.HTTPExecutor,
	resolver *policy.Resolver,
	policyRepo *repository.PolicyRepository,
	clientKeyService *service.ClientKeyService,
	authService *service.AuthService,
	analyticsService *service.AnalyticsService,
	admitter *ratelimit.Admitter,
) {
	admissionHandler := handler.NewAdmissionHandler(gateService)
	quotaHandler := handler.NewQuotaHandler(gateService)
	cacheHandler := handler.NewCacheHandler(responseCache)
	jobHandler := handler.NewJobHandler(gateService)
	serveHandler := handler.NewServeHandler(gateService, executors)
	policyHandler := handler.NewPolicyHandler(policyRepo, resolver)
	clientKeyHandler := handler.NewClientKeyHandler(clientKeyService)
	authHandler := handler.NewAuthHandler(authService)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService)
	adminHandler := handler.NewAdminHandler(gateService, s.redis)

	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	// Data plane: record stores authenticate with a client key and forward
	// the end user's identity token.
	v1 := s.router.Group("/v1")
	v1.Use(middleware.ClientKeyValidator(clientKeyService))
	v1.Use(middleware.Identity(userJWTSecret(), s.redis))
	{
		// Serve runs its own admission internally, everything else sits
		// behind the general-class limiter.
		v1.POST("/serve", serveHandler.Serve)
		v1.POST("/admit", admissionHandler.Admit)

		limited := v1.Group("")
		limited.Use(middleware.RateLimit(admitter, s.audit, "general"))
		{
			limited.POST("/quota/reservations", quotaHandler.Reserve)
			limited.POST("/quota/reservations/:id/commit", quotaHandler.Commit)
			limited.POST("/quota/reservations/:id/release", quotaHandler.Release)
			limited.GET("/usage/:feature", quotaHandler.Usage)

			limited.POST("/cache/fingerprint", cacheHandler.Fingerprint)
			limited.GET("/cache/:fingerprint", cacheHandler.Get)
			limited.PUT("/cache/:fingerprint", cacheHandler.Put)

			limited.POST("/jobs", jobHandler.Enqueue)
			limited.GET("/jobs/:id", jobHandler.Status)
			limited.DELETE("/jobs/:id", jobHandler.Cancel)
		}
	}

	// Admin plane: operator JWTs only
	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(authService))
	{
		admin.GET("/status", s.adminStatus)

		admin.GET("/policies", policyHandler.List)
		admin.GET("/policies/:tier", policyHandler.Get)
		admin.PUT("/policies/:tier", policyHandler.Upsert)
		admin.DELETE("/policies/:tier", policyHandler.Delete)
		admin.POST("/policies/refresh", policyHandler.Refresh)

		admin.POST("/keys", clientKeyHandler.Create)
		admin.GET("/keys", clientKeyHandler.List)
		admin.POST("/keys/:id/deactivate", clientKeyHandler.Deactivate)
		admin.DELETE("/keys/:id", clientKeyHandler.Delete)

		admin.GET("/analytics", analyticsHandler.GetSummary)
		admin.GET("/analytics/usage/:period", analyticsHandler.GetUsageTotals)
		admin.GET("/logs", analyticsHandler.GetLogs)

		admin.POST("/usage/corrections", adminHandler.CorrectUsage)
		admin.GET("/usage/:user_id/:feature", adminHandler.GetUserUsage)

		admin.DELETE("/cache/:fingerprint", cacheHandler.Invalidate)

		admin.POST("/events/tier-change", adminHandler.TierChange)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "usage-gate",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
			"backends": s.checker.Statuses(),
		},
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	snapshot := s.resolver.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"service":          "usage-gate",
		"tiers_loaded":     len(snapshot.ByTier),
		"policy_loaded_at": snapshot.LoadedAt,
		"backends":         s.checker.Statuses(),
		"uptime":           time.Since(startTime).Seconds(),
		"timestamp":        time.Now().Unix(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting usage gate on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	s.resolver.Stop()
	s.checker.Stop()
	s.dispatcher.Stop()
	s.audit.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

func userJWTSecret() string {
	if v := os.Getenv("USER_JWT_SECRET"); v != "" {
		return v
	}
	return os.Getenv("JWT_SECRET")
}

var startTime = time.Now()
