package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/middesurya/metalquery/anomaly"
	"github.com/middesurya/metalquery/audit"
	"github.com/middesurya/metalquery/config"
	"github.com/middesurya/metalquery/executor"
	"github.com/middesurya/metalquery/guard"
	"github.com/middesurya/metalquery/internal/cache"
	"github.com/middesurya/metalquery/internal/metrics"
	"github.com/middesurya/metalquery/llm"
	"github.com/middesurya/metalquery/pipeline"
	"github.com/middesurya/metalquery/ratelimit"
	"github.com/middesurya/metalquery/rbac"
	"github.com/middesurya/metalquery/router"
	"github.com/middesurya/metalquery/schema"
	"github.com/middesurya/metalquery/session"
	"github.com/middesurya/metalquery/sqlguard"
)

// Server owns the HTTP surface and the pipeline behind it.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	pipe     *pipeline.Pipeline
	auditLog *audit.Logger
	limiter  *ratelimit.Limiter
	cacheMgr *cache.Manager

	httpServer *http.Server
}

// NewServer wires every component from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, db *gorm.DB) (*Server, error) {
	collector := metrics.NewCollector("metalquery", nil, logger)

	sessions := session.NewStore(cfg.Guard.SessionCapacity)
	registry := schema.NewRegistry()
	exposed := registry.ExposedTables()

	signatures := guard.NewSignatureValidator(logger)
	flipping := guard.NewFlippingDetector(logger)
	redteam := guard.NewRedTeamDetector(logger)
	intent := guard.NewIntentGuard(signatures, sessions, logger)

	enforcer, err := rbac.NewEnforcer(logger)
	if err != nil {
		return nil, fmt.Errorf("rbac policies: %w", err)
	}
	masker := rbac.NewMasker(enforcer)

	var authorizer pipeline.Authorizer = pipeline.NewPolicyAuthorizer(enforcer)
	var cacheMgr *cache.Manager
	if cfg.Redis.Enabled {
		cacheMgr, err = cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Redis.DefaultTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		authorizer = pipeline.NewCachedAuthorizer(authorizer, cacheMgr, cfg.Redis.DefaultTTL, collector, logger)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		TokensPerMinute:   cfg.RateLimit.TokensPerMinute,
		MaxOutputTokens:   cfg.RateLimit.MaxOutputTokens,
	}, logger)

	auditLog := audit.New(logger, audit.WithCapacity(cfg.Guard.AuditCapacity))

	generator := llm.NewClient(llm.Config{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		MaxOutputTokens:   cfg.LLM.MaxOutputTokens,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)

	pipe := pipeline.New(pipeline.Deps{
		Flipping:   flipping,
		RedTeam:    redteam,
		Intent:     intent,
		Router:     router.New(logger),
		Limiter:    limiter,
		Guardrails: sqlguard.NewGuardrails(exposed, logger),
		Injection:  sqlguard.NewInjectionValidator(exposed, logger),
		Authorizer: authorizer,
		Masker:     masker,
		Enforcer:   enforcer,
		Detector:   anomaly.New(sessions, logger),
		Sessions:   sessions,
		Registry:   registry,
		Generator:  generator,
		Executor:   executor.New(db, logger, executor.WithTimeout(cfg.Database.QueryTimeout)),
		Audit:      auditLog,
		Collector:  collector,
	}, pipeline.Options{
		MaxResultRows:  cfg.Guard.MaxResultRows,
		BlockOnAnomaly: cfg.Guard.BlockOnAnomaly,
	}, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		pipe:     pipe,
		auditLog: auditLog,
		limiter:  limiter,
		cacheMgr: cacheMgr,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.routes(collector),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes(collector *metrics.Collector) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/api/v1/audit/report", s.requireRole(rbac.RoleAdmin, s.handleAuditReport))
	mux.HandleFunc("/api/v1/audit/suspicious", s.requireRole(rbac.RoleAdmin, s.handleAuditSuspicious))
	mux.HandleFunc("/api/v1/ratelimit/stats", s.handleRateStats)

	skipAuth := []string{"/healthz", "/metrics"}
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(collector),
		JWTAuth(s.cfg.JWT, skipAuth, s.logger),
	)
}

// Start begins serving. Non-blocking; errors after startup go to the logger.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then drains connections.
func (s *Server) WaitForShutdown() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	s.logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	if s.cacheMgr != nil {
		_ = s.cacheMgr.Close()
	}
}

// queryRequest is the POST /api/v1/query body.
type queryRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	identity := IdentityFromContext(r.Context())
	result, err := s.pipe.Process(r.Context(), pipeline.Request{
		RequestID:  RequestIDFromContext(r.Context()),
		Question:   body.Question,
		UserID:     identity.UserID,
		Role:       identity.Role,
		PlantScope: identity.PlantScope,
		IPAddress:  clientIP(r),
	})
	if err != nil {
		s.logger.Error("pipeline failure", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "query processing failed"})
		return
	}

	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleAuditReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.auditLog.GenerateReport())
}

func (s *Server) handleAuditSuspicious(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		fmt.Sscanf(raw, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, s.auditLog.RecentSuspicious(limit))
}

func (s *Server) handleRateStats(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.limiter.Stats(identity.UserID))
}

// requireRole gates a handler behind a role claim.
func (s *Server) requireRole(role rbac.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if identity := IdentityFromContext(r.Context()); rbac.Role(identity.Role) != role {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient role"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
