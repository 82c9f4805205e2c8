// Package schema holds the static registry of database tables exposed to
// SQL generation. The registry is the single source of the exposure
// allowlist: the SQL validators, the RBAC policies, and the model prompt all
// derive their table knowledge from it.
package schema

import (
	"sort"
	"strings"
)

// Column describes one table column for prompt context.
type Column struct {
	Name string
	Type string
}

// Table describes one exposed table.
type Table struct {
	Name        string
	Description string
	Columns     []Column
}

// kpiColumns is the shape shared by every kpi_*_data table: a daily value
// per furnace and shift.
func kpiColumns(valueName string) []Column {
	return []Column{
		{"id", "integer"},
		{"furnace_no", "integer"},
		{"date", "date"},
		{"shift_id", "integer"},
		{valueName, "numeric"},
		{"plant_id", "integer"},
	}
}

var tables = []Table{
	{"kpi_overall_equipment_efficiency_data", "OEE percentage per furnace, shift, and day", kpiColumns("oee_percentage")},
	{"kpi_defect_rate_data", "defect rate per furnace and shift", kpiColumns("defect_rate")},
	{"kpi_energy_efficiency_data", "energy efficiency ratio", kpiColumns("energy_efficiency")},
	{"kpi_energy_used_data", "energy consumption in kWh", kpiColumns("energy_used_kwh")},
	{"kpi_downtime_data", "downtime hours per furnace and shift", kpiColumns("downtime_hours")},
	{"kpi_yield_data", "yield percentage", kpiColumns("yield_percentage")},
	{"kpi_quantity_produced_data", "production quantity in tons", kpiColumns("quantity_produced")},
	{"kpi_first_pass_yield_data", "first pass yield percentage", kpiColumns("first_pass_yield")},
	{"kpi_rework_rate_data", "rework rate percentage", kpiColumns("rework_rate")},
	{"kpi_resource_capacity_utilization_data", "capacity utilization percentage", kpiColumns("capacity_utilization")},
	{"kpi_output_rate_data", "output rate in tons per hour", kpiColumns("output_rate")},
	{"kpi_production_efficiency_data", "production efficiency percentage", kpiColumns("production_efficiency")},
	{"kpi_on_time_delivery_data", "on-time delivery percentage", kpiColumns("on_time_delivery")},
	{"kpi_cycle_time_data", "cycle time in hours", kpiColumns("cycle_time")},
	{"kpi_mean_time_between_failures_data", "MTBF in hours", kpiColumns("mtbf_hours")},
	{"kpi_mean_time_to_repair_data", "MTTR in hours", kpiColumns("mttr_hours")},
	{"kpi_mean_time_between_stoppages_data", "MTBS in hours", kpiColumns("mtbs_hours")},
	{"kpi_maintenance_compliance_data", "maintenance compliance percentage", kpiColumns("maintenance_compliance")},
	{"kpi_planned_maintenance_data", "planned maintenance hours", kpiColumns("planned_maintenance_hours")},
	{"kpi_safety_incidents_reported_data", "reported safety incidents", kpiColumns("incidents_reported")},
	{"core_process_tap_production", "tap production records", []Column{
		{"id", "integer"}, {"furnace_no", "integer"}, {"tap_no", "integer"},
		{"date", "date"}, {"shift_id", "integer"}, {"cast_weight", "numeric"},
		{"ladle_no", "integer"}, {"grade", "varchar"},
	}},
	{"core_process_tap_process", "tap process parameters", []Column{
		{"id", "integer"}, {"furnace_no", "integer"}, {"tap_no", "integer"},
		{"date", "date"}, {"power_consumed", "numeric"}, {"tap_duration_minutes", "numeric"},
		{"composition", "varchar"},
	}},
	{"core_process_tap_grading", "tap grading results", []Column{
		{"id", "integer"}, {"furnace_no", "integer"}, {"tap_no", "integer"},
		{"date", "date"}, {"grade", "varchar"}, {"si_percentage", "numeric"},
		{"fe_percentage", "numeric"},
	}},
	{"log_book_furnace_down_time_event", "furnace downtime events", []Column{
		{"id", "integer"}, {"furnace_no", "integer"}, {"start_time", "timestamp"},
		{"end_time", "timestamp"}, {"reason_id", "integer"}, {"downtime_type_id", "integer"},
		{"remarks", "text"},
	}},
	{"log_book_reasons", "downtime reason master", []Column{
		{"id", "integer"}, {"reason", "varchar"}, {"category", "varchar"},
	}},
	{"log_book_downtime_type_master", "downtime type master", []Column{
		{"id", "integer"}, {"type_name", "varchar"}, {"is_planned", "boolean"},
	}},
	{"furnace_furnaceconfig", "furnace configuration", []Column{
		{"id", "integer"}, {"furnace_no", "integer"}, {"capacity_tons", "numeric"},
		{"transformer_rating", "numeric"}, {"commissioned_date", "date"}, {"plant_id", "integer"},
	}},
	{"furnace_config_parameters", "furnace operating parameters", []Column{
		{"id", "integer"}, {"furnace_no", "integer"}, {"parameter_name", "varchar"},
		{"parameter_value", "numeric"}, {"unit", "varchar"},
	}},
	{"plant_plant", "plant master data", []Column{
		{"id", "integer"}, {"name", "varchar"}, {"location", "varchar"},
		{"timezone", "varchar"},
	}},
}

// Registry resolves table metadata and builds model prompt context.
type Registry struct {
	byName map[string]Table
	names  []string
}

// NewRegistry builds the registry from the built-in table set.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Table, len(tables))}
	for _, t := range tables {
		r.byName[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r
}

// ExposedTables returns every exposed table name, sorted.
func (r *Registry) ExposedTables() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Lookup returns the table and whether it is exposed.
func (r *Registry) Lookup(name string) (Table, bool) {
	t, ok := r.byName[strings.ToLower(name)]
	return t, ok
}

// Context renders schema context for the model prompt. With a table filter
// only those tables are included; unknown names are skipped. More than 20
// tables switches to a compact, KPI-columns-only rendering to stay inside
// the prompt budget.
func (r *Registry) Context(filter []string) string {
	names := filter
	if len(names) == 0 {
		names = r.names
	}

	compact := len(names) > 20

	var b strings.Builder
	b.WriteString("Database Schema:\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	if compact {
		b.WriteString("Note: compact schema; only KPI tables show columns.\n\n")
	}

	for _, name := range names {
		t, ok := r.byName[strings.ToLower(name)]
		if !ok {
			continue
		}
		if compact && !strings.HasPrefix(t.Name, "kpi_") {
			b.WriteString("Table: " + t.Name + "\n")
			continue
		}
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, c.Name+" "+c.Type)
		}
		b.WriteString("Table: " + t.Name + " -- " + t.Description + "\n")
		b.WriteString("  Columns: " + strings.Join(cols, ", ") + "\n\n")
	}
	return b.String()
}
