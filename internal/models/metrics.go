package models

import "fmt"

// MetricType identifies one metric family pulled from the monitoring
// backend. The numeric order is the canonical tie-break order everywhere
// downstream (correlation entries, anomaly listings), so new types must be
// appended, never reordered.
type MetricType int

const (
	MetricActivity MetricType = iota // backend connections by state
	MetricCPUUtilization
	MetricSQLCost  // per-statement latency cost
	MetricIOWait   // per-statement IO wait time
	MetricLockWait // per-statement lock wait time
	MetricWALBytes // WAL inserted bytes (counter)
	MetricDiskReadOps
	MetricDiskWriteOps
	MetricTransactionCount // commits/rollbacks by type
	MetricMemoryUsage      // memory components (usage/cache/free percent)
	MetricMemoryQuota
)

func (m MetricType) String() string {
	switch m {
	case MetricActivity:
		return "activity"
	case MetricCPUUtilization:
		return "cpu_utilization"
	case MetricSQLCost:
		return "sql_cost"
	case MetricIOWait:
		return "io_wait"
	case MetricLockWait:
		return "lock_wait"
	case MetricWALBytes:
		return "wal_bytes"
	case MetricDiskReadOps:
		return "disk_read_ops"
	case MetricDiskWriteOps:
		return "disk_write_ops"
	case MetricTransactionCount:
		return "transaction_count"
	case MetricMemoryUsage:
		return "memory_usage"
	case MetricMemoryQuota:
		return "memory_quota"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// MarshalYAML emits the string form so findings artifacts stay readable.
func (m MetricType) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// ParseMetricType maps the string form back to the enum. Used by config
// (per-metric thresholds are keyed by name in YAML).
func ParseMetricType(s string) (MetricType, error) {
	for _, m := range AllMetricTypes() {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown metric type %q", s)
}

// Reducer selects how raw samples inside one bucket collapse to a single
// value.
type Reducer int

const (
	// ReduceMean averages in-bucket samples. For rates and gauges.
	ReduceMean Reducer = iota
	// ReduceSum totals in-bucket samples. For categorical cost metrics
	// (per-statement latency/wait contributions).
	ReduceSum
	// ReduceDelta takes last-first inside the bucket, clamped at zero on
	// counter reset. For monotonic counters.
	ReduceDelta
)

// MetricSpec describes how one metric family is fetched and aligned.
type MetricSpec struct {
	Type MetricType

	// BackendType is the fully qualified monitoring metric type string.
	BackendType string

	// ResourceType is the monitored-resource type the series are attached
	// to, and ResourceLabel the label carrying "<project>:<instance>".
	ResourceType  string
	ResourceLabel string

	// DimensionLabel names the metric label used as the dimension key for
	// multi-series families (e.g. query hash, backend state). Empty for
	// scalar instance-wide metrics.
	DimensionLabel string

	Reducer Reducer
	Unit    string

	// Category groups charts in the rendered report.
	Category string
	Title    string
}

// Dimensioned reports whether the family fans out into multiple concurrent
// series keyed by a dimension.
func (s MetricSpec) Dimensioned() bool { return s.DimensionLabel != "" }

// metricRegistry fixes the fetch and alignment behavior per family. Metric
// type strings follow the Cloud SQL monitoring namespace.
var metricRegistry = map[MetricType]MetricSpec{
	MetricActivity: {
		Type:           MetricActivity,
		BackendType:    "cloudsql.googleapis.com/database/postgresql/num_backends_by_state",
		ResourceType:   "cloudsql_database",
		ResourceLabel:  "database_id",
		DimensionLabel: "state",
		Reducer:        ReduceMean,
		Unit:           "connections",
		Category:       "General",
		Title:          "Backends by State",
	},
	MetricCPUUtilization: {
		Type:          MetricCPUUtilization,
		BackendType:   "cloudsql.googleapis.com/database/cpu/utilization",
		ResourceType:  "cloudsql_database",
		ResourceLabel: "database_id",
		Reducer:       ReduceMean,
		Unit:          "ratio",
		Category:      "General",
		Title:         "CPU Utilization",
	},
	MetricSQLCost: {
		Type:           MetricSQLCost,
		BackendType:    "cloudsql.googleapis.com/database/postgresql/insights/perquery/latencies",
		ResourceType:   "cloudsql_instance_database",
		ResourceLabel:  "resource_id",
		DimensionLabel: "query_hash",
		Reducer:        ReduceSum,
		Unit:           "us",
		Category:       "SQL",
		Title:          "SQL with Most Latency Time",
	},
	MetricIOWait: {
		Type:           MetricIOWait,
		BackendType:    "cloudsql.googleapis.com/database/postgresql/insights/perquery/io_time",
		ResourceType:   "cloudsql_instance_database",
		ResourceLabel:  "resource_id",
		DimensionLabel: "query_hash",
		Reducer:        ReduceSum,
		Unit:           "us",
		Category:       "SQL",
		Title:          "SQL with Most IO Wait Time",
	},
	MetricLockWait: {
		Type:           MetricLockWait,
		BackendType:    "cloudsql.googleapis.com/database/postgresql/insights/perquery/lock_time",
		ResourceType:   "cloudsql_instance_database",
		ResourceLabel:  "resource_id",
		DimensionLabel: "query_hash",
		Reducer:        ReduceSum,
		Unit:           "us",
		Category:       "SQL",
		Title:          "SQL with Most Lock Wait Time",
	},
	MetricWALBytes: {
		Type:          MetricWALBytes,
		BackendType:   "cloudsql.googleapis.com/database/postgresql/write_ahead_log/inserted_bytes_count",
		ResourceType:  "cloudsql_database",
		ResourceLabel: "database_id",
		Reducer:       ReduceDelta,
		Unit:          "bytes",
		Category:      "WAL",
		Title:         "WAL Inserted Bytes",
	},
	MetricDiskReadOps: {
		Type:          MetricDiskReadOps,
		BackendType:   "cloudsql.googleapis.com/database/disk/read_ops_count",
		ResourceType:  "cloudsql_database",
		ResourceLabel: "database_id",
		Reducer:       ReduceDelta,
		Unit:          "ops",
		Category:      "Disk",
		Title:         "Disk Read Ops",
	},
	MetricDiskWriteOps: {
		Type:          MetricDiskWriteOps,
		BackendType:   "cloudsql.googleapis.com/database/disk/write_ops_count",
		ResourceType:  "cloudsql_database",
		ResourceLabel: "database_id",
		Reducer:       ReduceDelta,
		Unit:          "ops",
		Category:      "Disk",
		Title:         "Disk Write Ops",
	},
	MetricTransactionCount: {
		Type:           MetricTransactionCount,
		BackendType:    "cloudsql.googleapis.com/database/postgresql/transaction_count",
		ResourceType:   "cloudsql_database",
		ResourceLabel:  "database_id",
		DimensionLabel: "transaction_type",
		Reducer:        ReduceSum,
		Unit:           "transactions",
		Category:       "Transactions",
		Title:          "Transactions by Type",
	},
	MetricMemoryUsage: {
		Type:           MetricMemoryUsage,
		BackendType:    "cloudsql.googleapis.com/database/memory/components",
		ResourceType:   "cloudsql_database",
		ResourceLabel:  "database_id",
		DimensionLabel: "component",
		Reducer:        ReduceMean,
		Unit:           "percent",
		Category:       "Memory",
		Title:          "Memory Components",
	},
	// Quota is capacity context for the memory chart, not an anomaly
	// signal; it carries no default threshold.
	MetricMemoryQuota: {
		Type:          MetricMemoryQuota,
		BackendType:   "cloudsql.googleapis.com/database/memory/quota",
		ResourceType:  "cloudsql_database",
		ResourceLabel: "database_id",
		Reducer:       ReduceMean,
		Unit:          "bytes",
		Category:      "Memory",
		Title:         "Memory Quota",
	},
}

// SpecFor returns the registry entry for a metric type.
func SpecFor(m MetricType) (MetricSpec, error) {
	spec, ok := metricRegistry[m]
	if !ok {
		return MetricSpec{}, fmt.Errorf("no spec registered for metric type %s", m)
	}
	return spec, nil
}

// AllMetricTypes returns every registered metric type in enum order.
func AllMetricTypes() []MetricType {
	return []MetricType{
		MetricActivity,
		MetricCPUUtilization,
		MetricSQLCost,
		MetricIOWait,
		MetricLockWait,
		MetricWALBytes,
		MetricDiskReadOps,
		MetricDiskWriteOps,
		MetricTransactionCount,
		MetricMemoryUsage,
		MetricMemoryQuota,
	}
}
