package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testAllowlist = []string{
	"kpi_overall_equipment_efficiency_data",
	"kpi_downtime_data",
	"kpi_yield_data",
	"core_process_tap_production",
}

func TestGuardrails_ValidSelect(t *testing.T) {
	g := NewGuardrails(testAllowlist, zap.NewNop())

	ok, msg := g.Validate("SELECT furnace_no, oee_percentage FROM kpi_overall_equipment_efficiency_data WHERE date > '2026-01-01' LIMIT 100")

	require.True(t, ok, msg)
	assert.Equal(t, "Query validated successfully", msg)
}

func TestGuardrails_RejectsNonSelect(t *testing.T) {
	g := NewGuardrails(testAllowlist, zap.NewNop())

	cases := []struct {
		name string
		sql  string
	}{
		{"delete", "DELETE FROM kpi_downtime_data"},
		{"update", "UPDATE kpi_yield_data SET yield_percentage = 0"},
		{"insert", "INSERT INTO kpi_yield_data VALUES (1)"},
		{"truncate", "TRUNCATE TABLE kpi_yield_data"},
		{"empty", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, msg := g.Validate(tc.sql)
			require.False(t, ok)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestGuardrails_StripsCommentsBeforeScanning(t *testing.T) {
	g := NewGuardrails(testAllowlist, zap.NewNop())

	// Blocked keywords inside comments must not fail the scan; the comments
	// are removed before keywords and patterns run.
	cases := []struct {
		name string
		sql  string
	}{
		{"line comment", "SELECT furnace_no FROM kpi_yield_data -- drop stale rows later"},
		{"block comment", "SELECT /* update this note */ furnace_no FROM kpi_yield_data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, msg := g.Validate(tc.sql)
			require.True(t, ok, msg)
		})
	}
}

func TestGuardrails_RejectsEmbeddedMutation(t *testing.T) {
	g := NewGuardrails(testAllowlist, zap.NewNop())

	ok, msg := g.Validate("SELECT * FROM kpi_yield_data; DROP TABLE kpi_yield_data")

	require.False(t, ok)
	assert.Contains(t, msg, "DROP")
}

func TestGuardrails_RejectsStackedStatements(t *testing.T) {
	g := NewGuardrails(testAllowlist, zap.NewNop())

	ok, _ := g.Validate("SELECT 1 FROM kpi_yield_data; SELECT 2 FROM kpi_downtime_data")

	assert.False(t, ok)
}

func TestGuardrails_RejectsSystemCatalog(t *testing.T) {
	g := NewGuardrails(nil, zap.NewNop())

	ok, msg := g.Validate("SELECT tablename FROM pg_catalog.pg_tables LIMIT 10")

	require.False(t, ok)
	assert.Equal(t, "Dangerous SQL pattern detected", msg)
}

func TestGuardrails_RejectsUnauthorizedTable(t *testing.T) {
	g := NewGuardrails(testAllowlist, zap.NewNop())

	ok, msg := g.Validate("SELECT * FROM user_credentials LIMIT 5")

	require.False(t, ok)
	assert.Contains(t, msg, "user_credentials")
}

func TestGuardrails_AllowsCTE(t *testing.T) {
	g := NewGuardrails(nil, zap.NewNop())

	ok, msg := g.Validate("WITH recent AS (SELECT furnace_no FROM kpi_downtime_data WHERE date > '2026-08-01') SELECT furnace_no FROM recent LIMIT 10")

	assert.True(t, ok, msg)
}

func TestGuardrails_EmptyAllowlistSkipsTableCheck(t *testing.T) {
	g := NewGuardrails(nil, zap.NewNop())

	ok, _ := g.Validate("SELECT * FROM anything_at_all LIMIT 1")

	assert.True(t, ok)
}

func TestExtractTables(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		want []string
	}{
		{
			"from and join",
			"SELECT a.x FROM kpi_yield_data a JOIN kpi_downtime_data b ON a.furnace_no = b.furnace_no",
			[]string{"kpi_downtime_data", "kpi_yield_data"},
		},
		{
			"extract is not a table",
			"SELECT EXTRACT(MONTH FROM date) FROM kpi_yield_data",
			[]string{"kpi_yield_data"},
		},
		{
			"date_trunc is not a table",
			"SELECT DATE_TRUNC('day', date) FROM kpi_downtime_data",
			[]string{"kpi_downtime_data"},
		},
		{
			"dedup case insensitive",
			"SELECT * FROM KPI_Yield_Data JOIN kpi_yield_data ON 1=1",
			[]string{"kpi_yield_data"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ElementsMatch(t, tc.want, ExtractTables(tc.sql))
		})
	}
}

func TestSanitizeForDisplay(t *testing.T) {
	sanitized := SanitizeForDisplay("SELECT * FROM t WHERE password='hunter2'")
	assert.NotContains(t, sanitized, "hunter2")
	assert.Contains(t, sanitized, "password='***'")
}
