package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourorg/settlement-reconciler/internal/config"
	"github.com/yourorg/settlement-reconciler/internal/lookup"
	"github.com/yourorg/settlement-reconciler/internal/lookup/circuitbreaker"
	"github.com/yourorg/settlement-reconciler/internal/monitor"
	"github.com/yourorg/settlement-reconciler/internal/orchestrator"
	"github.com/yourorg/settlement-reconciler/internal/pending"
	"github.com/yourorg/settlement-reconciler/internal/policy"
	"github.com/yourorg/settlement-reconciler/internal/poller"
	"github.com/yourorg/settlement-reconciler/internal/reporting"
)

const serviceName = "settlement-reconciler"

// server bundles the handler dependencies.
type server struct {
	orch       *orchestrator.Orchestrator
	store      pending.Store
	recorder   *reporting.Recorder
	pendingTTL time.Duration
}

// pendingRequest registers a pending-payment marker before the browser
// is redirected to the gateway. PayOS return redirects omit the
// application's order id, so the marker is the only way back to it.
type pendingRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	OrderID   string `json:"orderId"`
	OrderCode string `json:"orderCode"`
	Gateway   string `json:"gateway"`
}

func (s *server) handleRegisterPending(c *gin.Context) {
	var req pendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.OrderID == "" && req.OrderCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId or orderCode is required"})
		return
	}

	marker := pending.Marker{
		OrderID:   req.OrderID,
		OrderCode: req.OrderCode,
		Gateway:   req.Gateway,
		CreatedAt: time.Now(),
	}
	if err := s.store.Put(c.Request.Context(), req.SessionID, marker, s.pendingTTL); err != nil {
		slog.Error("pending_marker_store_failed", "session_id", req.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store pending marker"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleReturn is the gateway redirect landing endpoint. The entire
// reconciliation runs within this request; the response carries the
// terminal result.
func (s *server) handleReturn(c *gin.Context) {
	sessionID := c.GetHeader("X-Session-ID")
	if sessionID == "" {
		sessionID = c.Query("sessionId")
	}

	res, err := s.orch.Reconcile(c.Request.Context(), sessionID, c.Request.URL.Query())
	if err != nil {
		// The browser went away mid-run; the status code is best effort.
		c.JSON(http.StatusRequestTimeout, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) handleRetrospective(c *gin.Context) {
	c.JSON(http.StatusOK, reporting.GenerateRetrospective(s.recorder.Entries()))
}

func setupRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/payments/pending", s.handleRegisterPending)
	router.GET("/payments/return", s.handleReturn)
	router.GET("/reports/retrospective", s.handleRetrospective)
	return router
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newPendingStore(cfg config.Config) pending.Store {
	if cfg.RedisAddr == "" {
		slog.Info("pending_store", "backend", "memory")
		return pending.NewMemoryStore()
	}
	slog.Info("pending_store", "backend", "redis", "addr", cfg.RedisAddr)
	return pending.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := initTracer()
	if err != nil {
		slog.Error("tracer_init_failed", "error", err)
		os.Exit(1)
	}

	contract, err := monitor.NewContractMonitor()
	if err != nil {
		slog.Error("contract_monitor_init_failed", "error", err)
		os.Exit(1)
	}

	enforcer, err := policy.NewEnforcer(policy.DefaultRules())
	if err != nil {
		slog.Error("policy_init_failed", "error", err)
		os.Exit(1)
	}

	client := lookup.NewHTTPClient(cfg.LookupBaseURL, nil, contract, circuitbreaker.NewCircuitBreaker())
	p := poller.New(client, poller.Config{
		Backoff: poller.Backoff{
			Initial:    cfg.InitialDelay,
			Max:        cfg.MaxDelay,
			Multiplier: cfg.Multiplier,
		},
		MaxRetries: cfg.MaxRetries,
	}, nil)

	recorder := reporting.NewRecorder()
	store := newPendingStore(cfg)
	srv := &server{
		orch:       orchestrator.New(p, enforcer, store, recorder, nil, cfg.InitialDelay),
		store:      store,
		recorder:   recorder,
		pendingTTL: cfg.PendingTTL,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: setupRouter(srv),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server_listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown_failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Error("tracer_shutdown_failed", "error", err)
	}
}
