package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasker_AdminSeesEverything(t *testing.T) {
	m := NewMasker(newTestEnforcer(t))
	rows := []map[string]interface{}{
		{"furnace_no": 1, "unit_cost": 42.5},
	}

	masked := m.MaskResult(rows, "admin")

	assert.Equal(t, 42.5, masked[0]["unit_cost"])
}

func TestMasker_OperatorColumnsMasked(t *testing.T) {
	m := NewMasker(newTestEnforcer(t))
	rows := []map[string]interface{}{
		{"furnace_no": 1, "cast_weight": 12.3, "composition": "Si 72%", "unit_cost": 42.5},
	}

	masked := m.MaskResult(rows, "operator")

	require.Len(t, masked, 1)
	assert.Equal(t, 1, masked[0]["furnace_no"])
	assert.Equal(t, 12.3, masked[0]["cast_weight"])
	assert.Equal(t, MaskedValue, masked[0]["composition"])
	// Substring match: "unit_cost" is caught by the "cost" pattern.
	assert.Equal(t, MaskedValue, masked[0]["unit_cost"])
}

func TestMasker_ViewerWildcardExpands(t *testing.T) {
	m := NewMasker(newTestEnforcer(t))
	rows := []map[string]interface{}{
		{"furnace_no": 2, "oee_percentage": 91.0, "supplier_name": "ACME", "internal_notes": "x"},
	}

	masked := m.MaskResult(rows, "viewer")

	assert.Equal(t, 91.0, masked[0]["oee_percentage"])
	assert.Equal(t, MaskedValue, masked[0]["supplier_name"])
	assert.Equal(t, MaskedValue, masked[0]["internal_notes"])
}

func TestMasker_InputNotMutated(t *testing.T) {
	m := NewMasker(newTestEnforcer(t))
	rows := []map[string]interface{}{{"unit_cost": 42.5}}

	_ = m.MaskResult(rows, "viewer")

	assert.Equal(t, 42.5, rows[0]["unit_cost"])
}
