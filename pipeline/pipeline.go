// Package pipeline composes every guard layer into the query admission flow.
// All layers AND together: a query executes only if every layer allows it,
// and the first rejection short-circuits the rest. Rejections are values on
// the Result, not errors; errors mean infrastructure failed.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/middesurya/metalquery/anomaly"
	"github.com/middesurya/metalquery/audit"
	"github.com/middesurya/metalquery/executor"
	"github.com/middesurya/metalquery/guard"
	"github.com/middesurya/metalquery/internal/metrics"
	"github.com/middesurya/metalquery/llm"
	"github.com/middesurya/metalquery/ratelimit"
	"github.com/middesurya/metalquery/rbac"
	"github.com/middesurya/metalquery/router"
	"github.com/middesurya/metalquery/schema"
	"github.com/middesurya/metalquery/session"
	"github.com/middesurya/metalquery/sqlguard"
)

// Request is one caller question entering the pipeline.
type Request struct {
	RequestID  string
	Question   string
	UserID     string
	Role       string
	PlantScope string
	IPAddress  string
}

// Result is the caller-facing outcome. Allowed=false carries the rejecting
// layer and a pre-authored user message; it is not an error.
type Result struct {
	RequestID     string                   `json:"request_id"`
	Allowed       bool                     `json:"allowed"`
	Category      router.Category          `json:"category,omitempty"`
	SQL           string                   `json:"sql,omitempty"`
	Rows          []map[string]interface{} `json:"rows,omitempty"`
	RowCount      int                      `json:"row_count"`
	ExecutionTime time.Duration            `json:"execution_time"`
	RejectedLayer guard.Layer              `json:"rejected_layer,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	UserMessage   string                   `json:"user_message,omitempty"`
	Confidence    float64                  `json:"confidence"`
}

// Options tunes pipeline behavior.
type Options struct {
	// MaxResultRows is the hard row cap applied on top of role limits.
	MaxResultRows int
	// BlockOnAnomaly rejects anomalous queries instead of only auditing.
	BlockOnAnomaly bool
}

// Pipeline wires every layer together.
type Pipeline struct {
	flipping   *guard.FlippingDetector
	redteam    *guard.RedTeamDetector
	intent     *guard.IntentGuard
	router     *router.Router
	limiter    *ratelimit.Limiter
	guardrails *sqlguard.Guardrails
	injection  *sqlguard.InjectionValidator
	authorizer Authorizer
	masker     *rbac.Masker
	enforcer   *rbac.Enforcer
	detector   *anomaly.Detector
	sessions   *session.Store
	registry   *schema.Registry
	generator  llm.SQLGenerator
	exec       executor.Executor
	auditLog   *audit.Logger
	collector  *metrics.Collector
	logger     *zap.Logger
	opts       Options
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Flipping   *guard.FlippingDetector
	RedTeam    *guard.RedTeamDetector
	Intent     *guard.IntentGuard
	Router     *router.Router
	Limiter    *ratelimit.Limiter
	Guardrails *sqlguard.Guardrails
	Injection  *sqlguard.InjectionValidator
	Authorizer Authorizer
	Masker     *rbac.Masker
	Enforcer   *rbac.Enforcer
	Detector   *anomaly.Detector
	Sessions   *session.Store
	Registry   *schema.Registry
	Generator  llm.SQLGenerator
	Executor   executor.Executor
	Audit      *audit.Logger
	Collector  *metrics.Collector
}

// New creates a pipeline. Zero MaxResultRows defaults to 100.
func New(deps Deps, opts Options, logger *zap.Logger) *Pipeline {
	if opts.MaxResultRows <= 0 {
		opts.MaxResultRows = 100
	}
	return &Pipeline{
		flipping:   deps.Flipping,
		redteam:    deps.RedTeam,
		intent:     deps.Intent,
		router:     deps.Router,
		limiter:    deps.Limiter,
		guardrails: deps.Guardrails,
		injection:  deps.Injection,
		authorizer: deps.Authorizer,
		masker:     deps.Masker,
		enforcer:   deps.Enforcer,
		detector:   deps.Detector,
		sessions:   deps.Sessions,
		registry:   deps.Registry,
		generator:  deps.Generator,
		exec:       deps.Executor,
		auditLog:   deps.Audit,
		collector:  deps.Collector,
		logger:     logger.With(zap.String("component", "pipeline")),
		opts:       opts,
	}
}

// Process runs the question through every layer in order: flip detection,
// red-team scan, intent guard, rate limit, routing, SQL generation,
// sanitization, SQL validation, RBAC, anomaly scoring, execution, masking.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	result, err := p.process(ctx, req)
	result.RequestID = req.RequestID

	outcome := "executed"
	switch {
	case err != nil:
		outcome = "error"
	case !result.Allowed:
		outcome = "rejected"
		p.collector.RecordRejection(string(result.RejectedLayer))
	}
	p.collector.RecordQuery(outcome, time.Since(start))
	return result, err
}

func (p *Pipeline) process(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if req.UserID != "" {
		p.sessions.SetIdentity(req.UserID, req.Role, req.PlantScope)
	}

	// Flip attacks are checked on the raw text before anything normalizes it.
	flip := p.flipping.Detect(question)
	if flip.Flipped {
		p.auditLog.LogFlippingDetected(req.UserID, flip.DetectedModes, flip.Confidence, req.IPAddress)
		return rejection(guard.LayerFlipping, "flip attack detected: "+strings.Join(flip.DetectedModes, ","),
			flip.Confidence, "I cannot process that request. Suspicious text transformation detected."), nil
	}
	p.auditLog.LogLayerPass(req.UserID, req.IPAddress, string(guard.LayerFlipping), flip.Confidence)

	rt := p.redteam.Detect(question)
	if rt.Attack && rt.Score > 0.25 {
		p.auditLog.LogRedTeamBlocked(req.UserID, rt.Categories, rt.Score, req.IPAddress)
		return rejection(guard.LayerRedTeam, "red team patterns: "+strings.Join(rt.Categories, ","),
			rt.Score, "I cannot process that request."), nil
	}
	p.auditLog.LogLayerPass(req.UserID, req.IPAddress, string(guard.LayerRedTeam), rt.Score)

	if d := p.intent.Check(question, req.UserID); !d.Allowed {
		p.auditLog.LogRejection(req.UserID, req.IPAddress, string(d.Layer), d.Reason, d.Confidence)
		if d.Relevance == guard.RelevanceHarmful {
			p.auditLog.LogBlockedInjection(req.UserID, d.Reason, d.Confidence, req.IPAddress)
		}
		return Result{
			Allowed:       false,
			RejectedLayer: d.Layer,
			Reason:        d.Reason,
			UserMessage:   d.UserMessage,
			Confidence:    d.Confidence,
		}, nil
	}
	p.auditLog.LogLayerPass(req.UserID, req.IPAddress, string(guard.LayerIntent), 0)

	category, confidence := p.router.Route(question)
	if category == router.CategoryKnowledge {
		// Documentation questions are valid but answered by another
		// system; this service only owns the structured-data path.
		return Result{
			Allowed:     true,
			Category:    category,
			Confidence:  confidence,
			UserMessage: "This looks like a documentation question. Please use the knowledge base search.",
		}, nil
	}
	if category == router.CategoryUnknown {
		return rejection(guard.LayerIntent, "could not classify question", confidence,
			"I'm not sure what you're asking. Try: \"Show OEE for furnace 1 last week\""), nil
	}

	schemaContext := p.registry.Context(nil)
	estimated := ratelimit.EstimateTokens(llm.BuildPrompt(question, schemaContext))
	if ok, msg := p.limiter.Allow(req.UserID, estimated); !ok {
		stats := p.limiter.Stats(req.UserID)
		p.auditLog.LogRateLimitExceeded(req.UserID, req.IPAddress, stats.RequestsLimit, 60)
		return rejection(guard.LayerRate, "rate limit exceeded", 1.0, msg), nil
	}
	p.auditLog.LogLayerPass(req.UserID, req.IPAddress, string(guard.LayerRate), 0)

	gen, err := p.generator.GenerateSQL(ctx, question, schemaContext)
	if err != nil {
		p.collector.RecordLLMRequest("error", 0, 0)
		return Result{}, err
	}
	p.collector.RecordLLMRequest("ok", gen.InputTokens, gen.OutputTokens)
	p.limiter.Record(req.UserID, gen.InputTokens, gen.OutputTokens)

	sql := sqlguard.Sanitize(gen.SQL)
	rowLimit := p.enforcer.ApplyRowLimit(req.Role, p.opts.MaxResultRows)

	if ok, msg := p.guardrails.Validate(sql); !ok {
		p.auditLog.LogBlockedInjection(req.UserID, msg, 0.9, req.IPAddress)
		return rejection(guard.LayerSQL, msg, 0.9,
			"The generated query failed safety validation. Please rephrase your question."), nil
	}
	inj := p.injection.Validate(sql)
	if !inj.Safe {
		p.auditLog.LogBlockedInjection(req.UserID, strings.Join(inj.Issues, "; "), inj.Score, req.IPAddress)
		return rejection(guard.LayerSQL, strings.Join(inj.Issues, "; "), inj.Score,
			"The generated query failed safety validation. Please rephrase your question."), nil
	}
	p.auditLog.LogLayerPass(req.UserID, req.IPAddress, string(guard.LayerSQL), inj.Score)

	// The row cap rewrites validated text only.
	sql = sqlguard.EnforceRowLimit(sql, rowLimit)

	tables := sqlguard.ExtractTables(sql)
	if ok, reason := p.authorizer.Authorize(ctx, req.Role, tables); !ok {
		attempted := ""
		if len(tables) > 0 {
			attempted = tables[0]
		}
		p.auditLog.LogRBACViolation(req.UserID, attempted, req.Role, req.IPAddress)
		return rejection(guard.LayerRBAC, reason, 1.0,
			"Your role does not have access to the data needed for this question."), nil
	}
	p.auditLog.LogLayerPass(req.UserID, req.IPAddress, string(guard.LayerRBAC), 0)

	anomalyResult := p.detector.Check(req.UserID, anomaly.Context{
		SQL:           sql,
		Tables:        tables,
		EstimatedRows: rowLimit,
	})
	if anomalyResult.Score > 0 && anomalyResult.Reason != "No anomalies detected" {
		p.auditLog.LogAnomalyDetected(req.UserID, anomalyResult.Reason, anomalyResult.Score, req.IPAddress)
	}
	if anomalyResult.Anomalous && p.opts.BlockOnAnomaly {
		return rejection(guard.LayerAnomaly, anomalyResult.Reason, anomalyResult.Score,
			"This request was flagged by behavioral monitoring. Please contact an administrator."), nil
	}
	p.auditLog.LogLayerPass(req.UserID, req.IPAddress, string(guard.LayerAnomaly), anomalyResult.Score)

	execStart := time.Now()
	execResult, err := p.exec.Execute(ctx, sql)
	if err != nil {
		p.collector.RecordDBQuery("error", time.Since(execStart))
		return Result{}, err
	}
	p.collector.RecordDBQuery("ok", execResult.ExecutionTime)

	// Post-execution the detector sees the observed timing and row count,
	// which the pre-execution pass cannot; an execution-time spike only
	// shows up here.
	postCheck := p.detector.Check(req.UserID, anomaly.Context{
		SQL:           sql,
		Tables:        tables,
		EstimatedRows: execResult.RowCount,
		ExecutionTime: execResult.ExecutionTime,
	})
	if postCheck.Score > 0 && postCheck.Reason != "No anomalies detected" {
		p.auditLog.LogAnomalyDetected(req.UserID, postCheck.Reason, postCheck.Score, req.IPAddress)
	}
	if postCheck.Anomalous && p.opts.BlockOnAnomaly {
		return rejection(guard.LayerAnomaly, postCheck.Reason, postCheck.Score,
			"This request was flagged by behavioral monitoring. Please contact an administrator."), nil
	}

	rows := p.masker.MaskResult(execResult.Rows, req.Role)

	p.auditLog.LogQuery(req.UserID, sql, execResult.RowCount, execResult.ExecutionTime,
		req.IPAddress, "", postCheck.Score)
	p.detector.RecordStats(req.UserID, session.QueryStats{
		ResultRows:    execResult.RowCount,
		Tables:        tables,
		ExecutionTime: execResult.ExecutionTime,
	})

	return Result{
		Allowed:       true,
		Category:      router.CategoryStructured,
		SQL:           sqlguard.SanitizeForDisplay(sql),
		Rows:          rows,
		RowCount:      execResult.RowCount,
		ExecutionTime: execResult.ExecutionTime,
		Confidence:    confidence,
	}, nil
}

func rejection(layer guard.Layer, reason string, confidence float64, userMessage string) Result {
	return Result{
		Allowed:       false,
		RejectedLayer: layer,
		Reason:        reason,
		Confidence:    confidence,
		UserMessage:   userMessage,
	}
}
