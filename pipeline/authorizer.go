package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/middesurya/metalquery/internal/cache"
	"github.com/middesurya/metalquery/internal/metrics"
	"github.com/middesurya/metalquery/rbac"
)

// Authorizer decides whether a role may access a set of tables.
type Authorizer interface {
	Authorize(ctx context.Context, role string, tables []string) (bool, string)
}

// PolicyAuthorizer answers straight from the RBAC enforcer.
type PolicyAuthorizer struct {
	enforcer *rbac.Enforcer
}

// NewPolicyAuthorizer wraps the enforcer as an Authorizer.
func NewPolicyAuthorizer(enforcer *rbac.Enforcer) *PolicyAuthorizer {
	return &PolicyAuthorizer{enforcer: enforcer}
}

// Authorize checks table access against the role policy.
func (a *PolicyAuthorizer) Authorize(_ context.Context, role string, tables []string) (bool, string) {
	return a.enforcer.CheckTableAccess(role, tables)
}

type authDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// CachedAuthorizer memoizes authorization decisions in Redis. Policies are
// static at runtime, so a short TTL trades staleness for skipping repeated
// set checks on hot role+table combinations. Cache failures fall through to
// the inner authorizer; the cache can never grant what policy would deny.
type CachedAuthorizer struct {
	inner     Authorizer
	cache     *cache.Manager
	ttl       time.Duration
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewCachedAuthorizer wraps inner with a Redis decision cache.
func NewCachedAuthorizer(inner Authorizer, mgr *cache.Manager, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *CachedAuthorizer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedAuthorizer{
		inner:     inner,
		cache:     mgr,
		ttl:       ttl,
		collector: collector,
		logger:    logger.With(zap.String("component", "authorizer_cache")),
	}
}

// Authorize returns the cached decision when present, otherwise asks the
// inner authorizer and stores the outcome.
func (a *CachedAuthorizer) Authorize(ctx context.Context, role string, tables []string) (bool, string) {
	key := authCacheKey(role, tables)

	var cached authDecision
	err := a.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		a.collector.RecordCacheHit("authorization")
		return cached.Allowed, cached.Reason
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		a.logger.Debug("authorization cache read failed", zap.Error(err))
	}
	a.collector.RecordCacheMiss("authorization")

	allowed, reason := a.inner.Authorize(ctx, role, tables)
	if err := a.cache.SetJSON(ctx, key, authDecision{Allowed: allowed, Reason: reason}, a.ttl); err != nil {
		a.logger.Debug("authorization cache write failed", zap.Error(err))
	}
	return allowed, reason
}

func authCacheKey(role string, tables []string) string {
	sorted := make([]string, len(tables))
	for i, t := range tables {
		sorted[i] = strings.ToLower(t)
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.ToLower(role) + "|" + strings.Join(sorted, ",")))
	return "authz:" + hex.EncodeToString(sum[:16])
}
