// Package rbac enforces four-tier role-based access control over query
// tables, operations, and result rows, plus data masking for sensitive
// columns. Unknown roles resolve to viewer, the most restrictive tier.
package rbac

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Role is an access tier.
type Role string

const (
	RoleAdmin    Role = "admin"    // full access
	RoleEngineer Role = "engineer" // design specs visible
	RoleOperator Role = "operator" // limited specs, no composition
	RoleViewer   Role = "viewer"   // high-level data only
)

// Policy defines what a role may touch. A nil AccessibleTables or
// ReadableColumns slice means unrestricted.
type Policy struct {
	Role             Role
	AccessibleTables []string
	ReadableColumns  []string
	MaxResultRows    int
	AllowDelete      bool
	AllowUpdate      bool
	MaskedColumns    []string
}

// Enforcer checks table access and operations against per-role policies.
type Enforcer struct {
	policies map[Role]Policy
	logger   *zap.Logger
}

// NewEnforcer loads the built-in policies and verifies the role hierarchy is
// monotonic: each lower tier's table set must be a subset of the tier above
// it. A policy edit that breaks the ordering fails construction rather than
// silently granting a viewer more than an operator.
func NewEnforcer(logger *zap.Logger) (*Enforcer, error) {
	e := &Enforcer{
		policies: defaultPolicies(),
		logger:   logger.With(zap.String("component", "rbac")),
	}
	if err := e.verifyMonotonic(); err != nil {
		return nil, err
	}
	return e, nil
}

func defaultPolicies() map[Role]Policy {
	return map[Role]Policy{
		RoleAdmin: {
			Role:             RoleAdmin,
			AccessibleTables: nil,
			ReadableColumns:  nil,
			MaxResultRows:    10000,
			AllowDelete:      true,
			AllowUpdate:      true,
			MaskedColumns:    nil,
		},
		RoleEngineer: {
			Role: RoleEngineer,
			AccessibleTables: []string{
				"kpi_overall_equipment_efficiency_data",
				"kpi_downtime_data",
				"kpi_yield_data",
				"kpi_energy_used_data",
				"kpi_defect_rate_data",
				"core_process_tap_production",
				"core_process_tap_process",
				"furnace_furnaceconfig",
				"furnace_config_parameters",
				"log_book_furnace_down_time_event",
			},
			ReadableColumns: nil,
			MaxResultRows:   5000,
			MaskedColumns:   []string{"cost", "supplier_id", "internal_notes"},
		},
		RoleOperator: {
			Role: RoleOperator,
			AccessibleTables: []string{
				"kpi_overall_equipment_efficiency_data",
				"kpi_downtime_data",
				"kpi_yield_data",
				"core_process_tap_production",
				"furnace_furnaceconfig",
			},
			ReadableColumns: []string{
				"furnace_no", "date", "shift_id", "oee_percentage",
				"downtime_hours", "yield_percentage", "cast_weight",
			},
			MaxResultRows: 1000,
			MaskedColumns: []string{"composition", "cost", "heat_treatment_process", "supplier_id"},
		},
		RoleViewer: {
			Role: RoleViewer,
			AccessibleTables: []string{
				"kpi_overall_equipment_efficiency_data",
				"kpi_downtime_data",
				"furnace_furnaceconfig",
			},
			ReadableColumns: []string{"furnace_no", "date", "oee_percentage", "downtime_hours"},
			MaxResultRows:   500,
			MaskedColumns:   []string{"*"},
		},
	}
}

// verifyMonotonic checks viewer ⊆ operator ⊆ engineer ⊆ admin by table set.
func (e *Enforcer) verifyMonotonic() error {
	order := []Role{RoleViewer, RoleOperator, RoleEngineer, RoleAdmin}
	for i := 0; i < len(order)-1; i++ {
		lower, higher := e.policies[order[i]], e.policies[order[i+1]]
		if higher.AccessibleTables == nil {
			continue
		}
		allowed := make(map[string]struct{}, len(higher.AccessibleTables))
		for _, t := range higher.AccessibleTables {
			allowed[t] = struct{}{}
		}
		for _, t := range lower.AccessibleTables {
			if _, ok := allowed[t]; !ok {
				return fmt.Errorf("rbac: role %s grants table %s that role %s does not", order[i], t, order[i+1])
			}
		}
	}
	return nil
}

// Policy returns the effective policy for a role name. Unknown names map to
// the viewer policy, failing closed.
func (e *Enforcer) Policy(role string) Policy {
	if p, ok := e.policies[Role(strings.ToLower(role))]; ok {
		return p
	}
	return e.policies[RoleViewer]
}

// CheckTableAccess reports whether the role may touch every listed table.
// One unauthorized table rejects the whole set; there is no partial grant.
func (e *Enforcer) CheckTableAccess(role string, tables []string) (bool, string) {
	policy := e.Policy(role)
	if policy.AccessibleTables == nil {
		return true, "Full access"
	}

	allowed := make(map[string]struct{}, len(policy.AccessibleTables))
	for _, t := range policy.AccessibleTables {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	for _, table := range tables {
		if _, ok := allowed[strings.ToLower(table)]; !ok {
			e.logger.Warn("rbac violation",
				zap.String("role", role),
				zap.String("table", table))
			return false, fmt.Sprintf("Role %s cannot access table %s", role, table)
		}
	}
	return true, "Access granted"
}

// CheckOperation reports whether the role may run the given SQL operation.
func (e *Enforcer) CheckOperation(role, operation string) (bool, string) {
	policy := e.Policy(role)
	switch strings.ToUpper(operation) {
	case "DELETE":
		if !policy.AllowDelete {
			return false, fmt.Sprintf("Role %s cannot delete", role)
		}
	case "UPDATE":
		if !policy.AllowUpdate {
			return false, fmt.Sprintf("Role %s cannot update", role)
		}
	}
	return true, "Operation allowed"
}

// ApplyRowLimit clamps a requested limit to the role's maximum.
func (e *Enforcer) ApplyRowLimit(role string, requested int) int {
	policy := e.Policy(role)
	if requested <= 0 || requested > policy.MaxResultRows {
		return policy.MaxResultRows
	}
	return requested
}

// MaskedColumns returns the column patterns masked for this role.
func (e *Enforcer) MaskedColumns(role string) []string {
	return e.Policy(role).MaskedColumns
}
