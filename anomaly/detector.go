// Package anomaly scores query behavior against per-caller baselines to
// catch exfiltration-shaped usage that every per-query check would pass:
// frequency spikes, oversized results, restricted-table probing, UNION
// stitching, and wide joins. Scores are additive across checks, unlike the
// max-combined flip heuristics, because independent behavioral signals
// reinforce each other.
package anomaly

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/middesurya/metalquery/session"
)

// Threshold at or above which the combined score marks the query anomalous.
const anomalyThreshold = 0.7

// Tables no query may touch regardless of role.
var restrictedTables = map[string]struct{}{
	"audit_logs":       {},
	"user_credentials": {},
	"system_config":    {},
	"security_logs":    {},
	"api_keys":         {},
	"passwords":        {},
}

// Context describes the query being scored.
type Context struct {
	SQL           string
	Tables        []string
	EstimatedRows int
	ExecutionTime time.Duration
}

// Result is the scored outcome of a behavioral check.
type Result struct {
	Anomalous bool    `json:"is_anomalous"`
	Reason    string  `json:"reason"`
	Score     float64 `json:"score"`
}

// Detector compares each query against the caller's rolling baseline kept in
// the session store.
type Detector struct {
	sessions *session.Store
	logger   *zap.Logger
	now      func() time.Time

	// BlockOnAnomaly controls whether the pipeline treats an anomalous
	// score as a rejection or only audits it. Off by default: behavioral
	// scoring is noisier than the per-query validators.
	BlockOnAnomaly bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a detector sharing baselines with the given session store.
func New(sessions *session.Store, logger *zap.Logger, opts ...Option) *Detector {
	d := &Detector{
		sessions: sessions,
		logger:   logger.With(zap.String("component", "anomaly_detector")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check scores the query. Weights: frequency spike 0.3, oversized result 0.2,
// each restricted table 0.4, UNION 0.3, more than four tables 0.2, slow query
// 0.15; score capped at 1.0, anomalous at >= 0.7. The reason joins every
// triggered check with " | ".
func (d *Detector) Check(callerID string, qc Context) Result {
	baseline := d.sessions.Baseline(callerID)
	var reasons []string
	score := 0.0

	hourly := d.sessions.QueriesSince(callerID, d.now().Add(-time.Hour))
	if float64(hourly) > baseline.AvgQueriesPerHour*3 {
		reasons = append(reasons, fmt.Sprintf("Query frequency spike: %d queries/hour", hourly))
		score += 0.3
	}

	if float64(qc.EstimatedRows) > float64(baseline.AvgResultRows)*5 {
		reasons = append(reasons, fmt.Sprintf("Abnormal result size: %d rows", qc.EstimatedRows))
		score += 0.2
	}

	for _, table := range qc.Tables {
		if _, restricted := restrictedTables[strings.ToLower(table)]; restricted {
			reasons = append(reasons, "Restricted table access: "+table)
			score += 0.4
		}
	}

	if strings.Contains(strings.ToUpper(qc.SQL), "UNION") {
		reasons = append(reasons, "UNION clause detected (potential data exfiltration)")
		score += 0.3
	}

	if len(qc.Tables) > 4 {
		reasons = append(reasons, fmt.Sprintf("Too many tables in query: %d", len(qc.Tables)))
		score += 0.2
	}

	if qc.ExecutionTime > 3*baseline.MaxQueryTime {
		reasons = append(reasons, fmt.Sprintf("Unusual query time: %.1fs", qc.ExecutionTime.Seconds()))
		score += 0.15
	}

	if score > 1.0 {
		score = 1.0
	}

	reason := "No anomalies detected"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, " | ")
	}

	result := Result{
		Anomalous: score >= anomalyThreshold,
		Reason:    reason,
		Score:     score,
	}
	if result.Anomalous {
		d.logger.Warn("anomalous query behavior",
			zap.String("caller_id", callerID),
			zap.String("reason", reason),
			zap.Float64("score", score))
	}
	return result
}

// RecordStats folds a completed query's statistics into the caller's
// baseline.
func (d *Detector) RecordStats(callerID string, stats session.QueryStats) {
	d.sessions.UpdateBaseline(callerID, stats)
}
