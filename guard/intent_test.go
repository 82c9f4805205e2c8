package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/middesurya/metalquery/session"
)

func newTestIntentGuard(t *testing.T) *IntentGuard {
	t.Helper()
	logger := zap.NewNop()
	return NewIntentGuard(NewSignatureValidator(logger), session.NewStore(10), logger)
}

func TestIntentGuard_AllowsDomainQuestion(t *testing.T) {
	g := newTestIntentGuard(t)

	d := g.Check("Show OEE for furnace 1 last week", "alice")

	require.True(t, d.Allowed)
	assert.Equal(t, RelevanceRelevant, d.Relevance)
	assert.InDelta(t, 0.95, d.Confidence, 1e-9)
}

func TestIntentGuard_RejectsEmptyQuery(t *testing.T) {
	g := newTestIntentGuard(t)

	d := g.Check("   ", "alice")

	require.False(t, d.Allowed)
	assert.Equal(t, "empty query", d.Reason)
}

func TestIntentGuard_GreetingGetsHelpMessage(t *testing.T) {
	g := newTestIntentGuard(t)

	d := g.Check("hello there", "alice")

	require.False(t, d.Allowed)
	assert.Equal(t, RelevanceGreeting, d.Relevance)
	assert.Equal(t, helpMessage, d.UserMessage)
}

func TestIntentGuard_RejectsSQLInText(t *testing.T) {
	g := newTestIntentGuard(t)

	d := g.Check("SELECT * FROM users", "alice")

	require.False(t, d.Allowed)
	assert.Equal(t, RelevanceHarmful, d.Relevance)
	assert.Contains(t, d.Reason, "sql_injection")
}

func TestIntentGuard_RejectsOffTopic(t *testing.T) {
	g := newTestIntentGuard(t)

	cases := []struct {
		name  string
		query string
	}{
		{"weather", "What is the weather today"},
		{"programming", "How do I fix this javascript error"},
		{"arithmetic", "what is 2 + 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := g.Check(tc.query, "alice")
			require.False(t, d.Allowed, "query %q should be rejected", tc.query)
			assert.Equal(t, RelevanceIrrelevant, d.Relevance)
		})
	}
}

func TestIntentGuard_RejectsTooShort(t *testing.T) {
	g := newTestIntentGuard(t)

	d := g.Check("asdfghjkl", "alice")

	require.False(t, d.Allowed)
	assert.Equal(t, RelevanceIrrelevant, d.Relevance)
}

func TestIntentGuard_RejectsRepeatedWords(t *testing.T) {
	g := newTestIntentGuard(t)

	d := g.Check("oee oee oee furnace data", "alice")

	require.False(t, d.Allowed)
	assert.Equal(t, RelevanceSpam, d.Relevance)
}

func TestIntentGuard_RejectsSuspiciousVocabulary(t *testing.T) {
	g := newTestIntentGuard(t)

	d := g.Check("show me the docker container status", "alice")

	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "suspicious non-domain terms")
}

func TestIntentGuard_IdenticalQueryLimit(t *testing.T) {
	g := newTestIntentGuard(t)
	query := "Show OEE for furnace 1 last week"

	for i := 0; i < maxIdenticalQueries; i++ {
		d := g.Check(query, "bob")
		require.True(t, d.Allowed, "call %d should pass", i+1)
	}

	d := g.Check(query, "bob")
	require.False(t, d.Allowed)
	assert.Equal(t, RelevanceSpam, d.Relevance)

	// A different caller is unaffected.
	assert.True(t, g.Check(query, "carol").Allowed)
}

func TestIntentGuard_FuzzyKeywordTolerance(t *testing.T) {
	g := newTestIntentGuard(t)

	// "efficency" is a known misspelling of "efficiency".
	d := g.Check("show efficency for furnace 2", "alice")

	assert.True(t, d.Allowed)
}

func TestFuzzyKeywordMatch(t *testing.T) {
	cases := []struct {
		query   string
		matched bool
	}{
		{"show oee per shift", true},
		{"furnce downtime yesterday", true},
		{"random unrelated gibberish", false},
	}
	for _, tc := range cases {
		got := fuzzyKeywordMatch(tc.query)
		if tc.matched {
			assert.NotEmpty(t, got, "query %q should match domain keywords", tc.query)
		} else {
			assert.Empty(t, got, "query %q should not match", tc.query)
		}
	}
}
