// Package ratelimit throttles calls to the SQL-generation model. Upstream
// providers enforce per-minute request and token budgets; the limiter tracks
// both per caller over sliding 60-second windows and refuses requests that
// would bust either, reporting how long the caller should wait.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config bounds usage against the upstream provider. Defaults sit below the
// provider's published free-tier limits to leave headroom.
type Config struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	MaxOutputTokens   int `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// DefaultConfig returns limits with a buffer below the provider's 30 RPM /
// 6000 TPM free tier.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 25,
		TokensPerMinute:   5000,
		MaxOutputTokens:   256,
	}
}

// window is the sliding-window span.
const window = 60 * time.Second

type entry struct {
	at     time.Time
	tokens int
}

// Stats is a point-in-time snapshot of one caller's limiter state.
type Stats struct {
	RequestsLastMinute int   `json:"requests_last_minute"`
	TokensLastMinute   int   `json:"tokens_last_minute"`
	RequestsLimit      int   `json:"requests_limit"`
	TokensLimit        int   `json:"tokens_limit"`
	TotalRequests      int64 `json:"total_requests"`
	TotalTokens        int64 `json:"total_tokens"`
	BlockedRequests    int64 `json:"blocked_requests"`
	RequestsAvailable  int   `json:"requests_available"`
	TokensAvailable    int   `json:"tokens_available"`
}

// callerWindows is one caller's sliding windows and lifetime counters.
type callerWindows struct {
	requests []entry
	tokens   []entry

	totalRequests int64
	totalTokens   int64
	blocked       int64
}

// Limiter is a dual sliding-window rate limiter keyed by caller: one window
// counts requests, the other sums token usage, so one noisy caller cannot
// exhaust anyone else's budget. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	callers map[string]*callerWindows
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. Zero-valued config fields take the defaults.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = def.TokensPerMinute
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	l := &Limiter{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "rate_limiter")),
		now:     time.Now,
		callers: make(map[string]*callerWindows),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// caller returns the windows for callerID, creating them on first use.
// Caller holds the lock.
func (l *Limiter) caller(callerID string) *callerWindows {
	w, ok := l.callers[callerID]
	if !ok {
		w = &callerWindows{}
		l.callers[callerID] = w
	}
	return w
}

// Allow reports whether a request from callerID estimated at estimatedTokens
// may proceed. A refusal includes a caller-facing reason with the wait in
// whole seconds. A single request whose estimate alone exceeds the token
// budget is allowed once on an empty window with a warning, so an oversized
// estimate can never refuse a caller forever.
func (l *Limiter) Allow(callerID string, estimatedTokens int) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.caller(callerID)
	w.evict(now)

	if len(w.requests) >= l.cfg.RequestsPerMinute {
		w.blocked++
		wait := window - now.Sub(w.requests[0].at)
		l.logger.Warn("request rate limit hit",
			zap.String("caller_id", callerID),
			zap.Int("requests_used", len(w.requests)),
			zap.Int("limit", l.cfg.RequestsPerMinute),
			zap.Duration("wait", wait))
		return false, fmt.Sprintf("Rate limit exceeded. Please wait %.0f seconds.", wait.Seconds())
	}

	if len(w.tokens) == 0 && estimatedTokens > l.cfg.TokensPerMinute {
		l.logger.Warn("single request exceeds token budget, allowing on empty window",
			zap.String("caller_id", callerID),
			zap.Int("estimated_tokens", estimatedTokens),
			zap.Int("limit", l.cfg.TokensPerMinute))
		return true, "OK"
	}

	tokensUsed := 0
	for _, e := range w.tokens {
		tokensUsed += e.tokens
	}
	if tokensUsed+estimatedTokens > l.cfg.TokensPerMinute {
		w.blocked++
		wait := w.tokenWait(now, tokensUsed, estimatedTokens, l.cfg.TokensPerMinute)
		l.logger.Warn("token rate limit hit",
			zap.String("caller_id", callerID),
			zap.Int("tokens_used", tokensUsed),
			zap.Int("limit", l.cfg.TokensPerMinute),
			zap.Duration("wait", wait))
		return false, fmt.Sprintf("Token limit exceeded. Please wait %.0f seconds.", wait.Seconds())
	}

	return true, "OK"
}

// tokenWait walks the token window forward, accumulating freed weight until
// the request would fit, and returns the wait until that entry expires.
// Expiring only the oldest entry is not always enough to free the budget.
func (w *callerWindows) tokenWait(now time.Time, tokensUsed, estimated, limit int) time.Duration {
	freed := 0
	for _, e := range w.tokens {
		freed += e.tokens
		if tokensUsed-freed+estimated <= limit {
			return window - now.Sub(e.at)
		}
	}
	return window
}

// Record registers a completed upstream call and its token usage for
// callerID.
func (l *Limiter) Record(callerID string, inputTokens, outputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	total := inputTokens + outputTokens
	w := l.caller(callerID)

	w.requests = append(w.requests, entry{at: now, tokens: 1})
	w.tokens = append(w.tokens, entry{at: now, tokens: total})
	w.totalRequests++
	w.totalTokens += int64(total)

	w.evict(now)
	l.logger.Debug("usage recorded",
		zap.String("caller_id", callerID),
		zap.Int("requests_last_minute", len(w.requests)),
		zap.Int("tokens", total))
}

// Stats returns callerID's current usage counters.
func (l *Limiter) Stats(callerID string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.caller(callerID)
	w.evict(l.now())

	tokensUsed := 0
	for _, e := range w.tokens {
		tokensUsed += e.tokens
	}
	return Stats{
		RequestsLastMinute: len(w.requests),
		TokensLastMinute:   tokensUsed,
		RequestsLimit:      l.cfg.RequestsPerMinute,
		TokensLimit:        l.cfg.TokensPerMinute,
		TotalRequests:      w.totalRequests,
		TotalTokens:        w.totalTokens,
		BlockedRequests:    w.blocked,
		RequestsAvailable:  l.cfg.RequestsPerMinute - len(w.requests),
		TokensAvailable:    l.cfg.TokensPerMinute - tokensUsed,
	}
}

// MaxOutputTokens is the per-call completion budget for upstream requests.
func (l *Limiter) MaxOutputTokens() int {
	return l.cfg.MaxOutputTokens
}

// evict drops entries older than the window.
func (w *callerWindows) evict(now time.Time) {
	cutoff := now.Add(-window)
	for len(w.requests) > 0 && w.requests[0].at.Before(cutoff) {
		w.requests = w.requests[1:]
	}
	for len(w.tokens) > 0 && w.tokens[0].at.Before(cutoff) {
		w.tokens = w.tokens[1:]
	}
}
