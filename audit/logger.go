// Package audit keeps a bounded in-memory trail of security events: executed
// queries, blocked attacks, policy violations. Every rejection anywhere in
// the pipeline lands here, so the trail is the single place to reconstruct
// what a caller attempted.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/middesurya/metalquery/types"
)

// EventType classifies an audit event.
type EventType string

const (
	EventQueryExecuted     EventType = "QUERY_EXECUTED"
	EventQueryRejected     EventType = "QUERY_REJECTED"
	EventLayerPassed       EventType = "LAYER_PASSED"
	EventInjectionBlocked  EventType = "INJECTION_BLOCKED"
	EventFlippingDetected  EventType = "FLIPPING_DETECTED"
	EventRBACViolation     EventType = "RBAC_VIOLATION"
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"
	EventAnomalyDetected   EventType = "ANOMALY_DETECTED"
	EventRedTeamBlocked    EventType = "RED_TEAM_BLOCKED"
	EventLogin             EventType = "LOGIN"
	EventLogout            EventType = "LOGOUT"
)

// Event is one audit record. SQL text is never stored whole: a truncated
// preview plus a hash keeps the trail useful without making it a second copy
// of the data it protects.
type Event struct {
	EventType       EventType      `json:"event_type"`
	Severity        types.Severity `json:"severity"`
	Timestamp       time.Time      `json:"timestamp"`
	UserID          string         `json:"user_id"`
	IPAddress       string         `json:"ip_address"`
	SQLHash         string         `json:"sql_hash,omitempty"`
	SQLPreview      string         `json:"sql_preview,omitempty"`
	ResultCount     int            `json:"result_count,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms,omitempty"`
	ThreatDetected  string         `json:"threat_detected,omitempty"`
	ThreatScore     float64        `json:"threat_score"`
	Details         map[string]any `json:"details,omitempty"`
	Suspicious      bool           `json:"is_suspicious"`
}

// Report summarizes the trail for compliance review.
type Report struct {
	GeneratedAt        time.Time         `json:"report_generated"`
	TotalEvents        int               `json:"total_events"`
	TotalQueries       int               `json:"total_queries"`
	BlockedAttacks     int               `json:"blocked_attacks"`
	AvgThreatScore     float64           `json:"avg_threat_score"`
	HighSeverityEvents int               `json:"high_severity_events"`
	EventsByType       map[EventType]int `json:"events_by_type"`
	Compliance         string            `json:"compliance"`
}

// defaultCapacity bounds the in-memory trail.
const defaultCapacity = 10000

// previewLimit truncates stored SQL previews.
const previewLimit = 500

// Logger is a thread-safe ring buffer of audit events. When full, the oldest
// events are dropped first.
type Logger struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithCapacity overrides the event cap.
func WithCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates an audit logger.
func New(logger *zap.Logger, opts ...Option) *Logger {
	l := &Logger{
		capacity: defaultCapacity,
		logger:   logger.With(zap.String("component", "audit")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HashQuery returns a stable 32-hex-char digest of the query text for the
// audit trail.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])[:32]
}

// Log appends an event, stamping the timestamp if unset.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
	l.mu.Unlock()

	fields := []zap.Field{
		zap.String("event_type", string(event.EventType)),
		zap.String("user_id", event.UserID),
		zap.String("ip", event.IPAddress),
		zap.String("severity", string(event.Severity)),
	}
	if event.Severity.AtLeast(types.SeverityHigh) {
		l.logger.Warn("audit event", fields...)
	} else {
		l.logger.Info("audit event", fields...)
	}
}

// LogQuery records a successfully executed query. Threat score above 0.3
// flags the event suspicious even though it ran.
func (l *Logger) LogQuery(userID, sql string, resultCount int, execTime time.Duration, ip, threatDetected string, threatScore float64) {
	preview := sql
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	l.Log(Event{
		EventType:       EventQueryExecuted,
		Severity:        types.SeverityLow,
		UserID:          userID,
		IPAddress:       ip,
		SQLHash:         HashQuery(sql),
		SQLPreview:      preview,
		ResultCount:     resultCount,
		ExecutionTimeMS: execTime.Milliseconds(),
		ThreatDetected:  threatDetected,
		ThreatScore:     threatScore,
		Suspicious:      threatScore > 0.3,
	})
}

// LogLayerPass records a guard layer clearing a query, so the trail can be
// replayed layer by layer rather than only showing rejections.
func (l *Logger) LogLayerPass(userID, ip, layer string, score float64) {
	l.Log(Event{
		EventType:   EventLayerPassed,
		Severity:    types.SeverityLow,
		UserID:      userID,
		IPAddress:   ip,
		ThreatScore: score,
		Details:     map[string]any{"layer": layer},
	})
}

// LogRejection records a query stopped before execution, tagged with the
// layer that stopped it.
func (l *Logger) LogRejection(userID, ip, layer, reason string, confidence float64) {
	l.Log(Event{
		EventType:      EventQueryRejected,
		Severity:       types.SeverityMedium,
		UserID:         userID,
		IPAddress:      ip,
		ThreatDetected: layer,
		ThreatScore:    confidence,
		Details:        map[string]any{"layer": layer, "reason": reason},
		Suspicious:     true,
	})
}

// LogBlockedInjection records a blocked injection attack.
func (l *Logger) LogBlockedInjection(userID, attackType string, confidence float64, ip string) {
	l.Log(Event{
		EventType:      EventInjectionBlocked,
		Severity:       types.SeverityHigh,
		UserID:         userID,
		IPAddress:      ip,
		SQLPreview:     "Blocked injection attack: " + attackType,
		ThreatDetected: attackType,
		ThreatScore:    confidence,
		Details:        map[string]any{"attack_type": attackType, "confidence": confidence},
		Suspicious:     true,
	})
}

// LogFlippingDetected records a detected flip attack.
func (l *Logger) LogFlippingDetected(userID string, modes []string, confidence float64, ip string) {
	l.Log(Event{
		EventType:      EventFlippingDetected,
		Severity:       types.SeverityHigh,
		UserID:         userID,
		IPAddress:      ip,
		ThreatDetected: "FlipAttack",
		ThreatScore:    confidence,
		Details:        map[string]any{"modes": modes, "confidence": confidence},
		Suspicious:     true,
	})
}

// LogRBACViolation records an access attempt outside the caller's role.
func (l *Logger) LogRBACViolation(userID, attemptedTable, role, ip string) {
	l.Log(Event{
		EventType:      EventRBACViolation,
		Severity:       types.SeverityMedium,
		UserID:         userID,
		IPAddress:      ip,
		ThreatDetected: "RBAC_VIOLATION",
		ThreatScore:    0.6,
		Details:        map[string]any{"attempted_table": attemptedTable, "user_role": role},
		Suspicious:     true,
	})
}

// LogRateLimitExceeded records a throttled request.
func (l *Logger) LogRateLimitExceeded(userID, ip string, limit, windowSeconds int) {
	l.Log(Event{
		EventType:      EventRateLimitExceeded,
		Severity:       types.SeverityMedium,
		UserID:         userID,
		IPAddress:      ip,
		ThreatDetected: "RATE_LIMIT",
		Details:        map[string]any{"limit": limit, "window_seconds": windowSeconds},
		Suspicious:     true,
	})
}

// LogAnomalyDetected records a behavioral anomaly. Severity escalates to
// HIGH at score 0.7.
func (l *Logger) LogAnomalyDetected(userID, reason string, score float64, ip string) {
	severity := types.SeverityMedium
	if score >= 0.7 {
		severity = types.SeverityHigh
	}
	l.Log(Event{
		EventType:      EventAnomalyDetected,
		Severity:       severity,
		UserID:         userID,
		IPAddress:      ip,
		ThreatDetected: "ANOMALY",
		ThreatScore:    score,
		Details:        map[string]any{"reason": reason},
		Suspicious:     true,
	})
}

// LogRedTeamBlocked records a blocked red-team attack.
func (l *Logger) LogRedTeamBlocked(userID string, categories []string, score float64, ip string) {
	l.Log(Event{
		EventType:      EventRedTeamBlocked,
		Severity:       types.SeverityCritical,
		UserID:         userID,
		IPAddress:      ip,
		ThreatDetected: "RED_TEAM",
		ThreatScore:    score,
		Details:        map[string]any{"categories": categories},
		Suspicious:     true,
	})
}

// GenerateReport summarizes the trail.
func (l *Logger) GenerateReport() Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := Report{
		GeneratedAt:  l.now(),
		TotalEvents:  len(l.events),
		EventsByType: make(map[EventType]int),
		Compliance:   "IEC 62443 SL-2/SL-3",
	}

	var scoreSum float64
	for _, e := range l.events {
		report.EventsByType[e.EventType]++
		if e.EventType == EventQueryExecuted {
			report.TotalQueries++
		}
		if e.Suspicious {
			report.BlockedAttacks++
		}
		if e.Severity.AtLeast(types.SeverityHigh) {
			report.HighSeverityEvents++
		}
		scoreSum += e.ThreatScore
	}
	if len(l.events) > 0 {
		report.AvgThreatScore = scoreSum / float64(len(l.events))
	}
	return report
}

// RecentSuspicious returns up to limit of the most recent suspicious events,
// oldest first.
func (l *Logger) RecentSuspicious(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var suspicious []Event
	for _, e := range l.events {
		if e.Suspicious {
			suspicious = append(suspicious, e)
		}
	}
	if limit > 0 && len(suspicious) > limit {
		suspicious = suspicious[len(suspicious)-limit:]
	}
	return suspicious
}

// ExportJSON serializes the full trail.
func (l *Logger) ExportJSON() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.MarshalIndent(l.events, "", "  ")
}

// Len returns the number of retained events.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
