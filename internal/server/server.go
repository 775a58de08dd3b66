// Package server wires the stores, services and HTTP routes together.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/kindkart/kindkart/internal/auth"
	"github.com/kindkart/kindkart/internal/circuitbreaker"
	"github.com/kindkart/kindkart/internal/community"
	"github.com/kindkart/kindkart/internal/config"
	"github.com/kindkart/kindkart/internal/escrow"
	"github.com/kindkart/kindkart/internal/events"
	"github.com/kindkart/kindkart/internal/gateway"
	"github.com/kindkart/kindkart/internal/health"
	"github.com/kindkart/kindkart/internal/ledger"
	"github.com/kindkart/kindkart/internal/logging"
	"github.com/kindkart/kindkart/internal/metrics"
	"github.com/kindkart/kindkart/internal/ratelimit"
	"github.com/kindkart/kindkart/internal/realtime"
	"github.com/kindkart/kindkart/internal/reputation"
	"github.com/kindkart/kindkart/internal/requests"
	"github.com/kindkart/kindkart/internal/security"
	"github.com/kindkart/kindkart/internal/traces"
	"github.com/kindkart/kindkart/internal/validation"
	"github.com/kindkart/kindkart/internal/wallet"
)

const (
	gatewayTimeout       = 10 * time.Second
	gatewayFailThreshold = 5
	gatewayCooldown      = 30 * time.Second
)

// Stores groups the persistence layer. Every field must be set.
type Stores struct {
	Requests    requests.Store
	Communities community.Store
	Ledger      ledger.Store
	Reputation  reputation.Store
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	db     *sql.DB // nil when running on memory stores
	redis  *redis.Client
	stores *Stores

	gateway   gateway.Gateway
	verifier  *gateway.Verifier
	authv     *auth.Verifier
	hub       *realtime.Hub
	kafka     *events.KafkaPublisher
	publisher events.Publisher

	escrow     *escrow.Service
	wallet     *wallet.Service
	reputation *reputation.Service

	rateLimiter   *ratelimit.Limiter
	health        *health.Registry
	shutdownTrace func(context.Context) error

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	drainDelay   time.Duration
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the build version reported by health checks and traces.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithStores replaces the configured storage.
func WithStores(st *Stores) Option {
	return func(s *Server) { s.stores = st }
}

// WithGateway replaces the configured payment gateway. It is still wrapped
// with the timeout and circuit breaker.
func WithGateway(g gateway.Gateway) Option {
	return func(s *Server) { s.gateway = g }
}

// New creates a server from configuration.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, version: "dev", drainDelay: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	ctx := context.Background()

	shutdownTrace, err := traces.Init(ctx, cfg.OTelEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.shutdownTrace = shutdownTrace

	if err := s.openStores(ctx); err != nil {
		return nil, err
	}
	if err := s.openRedis(ctx); err != nil {
		return nil, err
	}
	if err := s.buildServices(); err != nil {
		return nil, err
	}

	s.health = health.NewRegistry(s.version)
	if s.db != nil {
		s.health.Register(health.PingChecker("postgres", s.db))
	}
	if s.redis != nil {
		s.health.Register(health.FuncChecker("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) openStores(ctx context.Context) error {
	if s.stores != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		reqs := requests.NewMemoryStore()
		s.stores = &Stores{
			Requests:    reqs,
			Communities: community.NewMemoryStore(),
			Ledger:      ledger.NewMemoryStore(reqs),
			Reputation:  reputation.NewMemoryStore(),
		}
		s.logger.Warn("using in-memory storage; data is lost on restart")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(s.cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("connect to database: %w", err)
	}

	s.db = db
	s.stores = &Stores{
		Requests:    requests.NewPostgresStore(db),
		Communities: community.NewPostgresStore(db),
		Ledger:      ledger.NewPostgresStore(db),
		Reputation:  reputation.NewPostgresStore(db),
	}
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// openRedis accepts either a redis:// URL or a bare host:port.
func (s *Server) openRedis(ctx context.Context) error {
	if s.cfg.RedisURL == "" {
		return nil
	}
	var client *redis.Client
	if u, err := url.Parse(s.cfg.RedisURL); err == nil && (u.Scheme == "redis" || u.Scheme == "rediss") {
		opt, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: s.cfg.RedisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}
	s.redis = client
	s.logger.Info("shared rate limiting enabled", "backend", "redis")
	return nil
}

func (s *Server) buildServices() error {
	authv, err := auth.NewVerifier(s.cfg.JWTSecret)
	if err != nil {
		return err
	}
	s.authv = authv
	s.verifier = gateway.NewVerifier(s.cfg.GatewayKeySecret)

	inner := s.gateway
	if inner == nil {
		switch s.cfg.GatewayProvider {
		case "stripe":
			inner = gateway.NewStripe(s.cfg.StripeSecretKey)
		default:
			inner = gateway.NewSandbox()
		}
	}
	s.gateway = gateway.NewGuarded(inner,
		circuitbreaker.New(gatewayFailThreshold, gatewayCooldown), gatewayTimeout)
	s.logger.Info("payment gateway configured", "provider", inner.Name())

	s.hub = realtime.NewHub(s.logger)
	fanout := events.Fanout{s.hub}
	if len(s.cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(s.cfg.KafkaBrokers, s.cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		s.kafka = kp
		fanout = append(fanout, kp)
		s.logger.Info("settlement events enabled", "topic", s.cfg.KafkaTopic)
	}
	s.publisher = fanout

	st := s.stores
	stats := reputation.NewHistoryStats(st.Requests, st.Communities, st.Ledger, st.Reputation)
	s.reputation = reputation.NewService(st.Reputation, stats, st.Communities).
		WithPublisher(s.publisher)

	s.escrow = escrow.NewService(st.Ledger, st.Requests, s.gateway, s.verifier).
		WithWindow(s.cfg.EscrowWindow).
		WithPendingTTL(s.cfg.PendingOrderTTL).
		WithCurrency(s.cfg.DefaultCurrency).
		WithSettlementRecorder(s.reputation).
		WithPublisher(s.publisher)

	s.wallet = wallet.NewService(st.Ledger, s.cfg.DefaultCurrency)

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	rlCfg.BurstSize = max(rlCfg.BurstSize, rlCfg.RequestsPerMinute/4)
	if s.redis != nil {
		s.rateLimiter = ratelimit.NewWithStore(rlCfg, ratelimit.NewRedisStore(s.redis, rlCfg.RequestsPerMinute))
	} else {
		s.rateLimiter = ratelimit.New(rlCfg)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(s.rateLimiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) setupRoutes() {
	s.health.RegisterRoutes(s.router)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", auth.RequireAuth(s.authv, auth.WithQueryToken("token")), s.hub.HandleWebSocket)

	v1 := s.router.Group("/v1", auth.RequireAuth(s.authv))
	escrow.NewHandler(s.escrow).RegisterRoutes(v1)
	wallet.NewHandler(s.wallet).RegisterRoutes(v1)

	rep := reputation.NewHandler(s.reputation)
	rep.RegisterRoutes(v1)
	rep.RegisterAdminRoutes(v1.Group("", auth.RequireAdmin(s.cfg.AdminSecret)))
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.hub.Run(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	}
	return s.Shutdown()
}

// Shutdown drains in-flight requests and closes every dependency.
func (s *Server) Shutdown() error {
	s.logger.Info("starting graceful shutdown")
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic.
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	s.rateLimiter.Stop()
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	if err := s.shutdownTrace(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
