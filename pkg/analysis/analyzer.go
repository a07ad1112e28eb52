package analysis

import (
	"context"
	"sort"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// DefaultTopQueries is how many expensive queries a report shows when the
// caller does not say otherwise.
const DefaultTopQueries = 10

// QueryStat is one aggregated query from the engine's statistics views.
type QueryStat struct {
	// Text is the query text, possibly truncated by the engine.
	Text string `json:"text"`

	// ExecutionCount is how many times the plan ran since it was cached.
	ExecutionCount int64 `json:"execution_count"`

	// TotalElapsedMs is the cumulative wall time across executions.
	TotalElapsedMs float64 `json:"total_elapsed_ms"`

	// AvgElapsedMs is the mean wall time per execution, the ranking key.
	AvgElapsedMs float64 `json:"avg_elapsed_ms"`

	// AvgCPUMs is the mean processor time per execution.
	AvgCPUMs float64 `json:"avg_cpu_ms"`

	// AvgLogicalReads is the mean page reads per execution.
	AvgLogicalReads float64 `json:"avg_logical_reads"`
}

// IndexRecommendation is one missing-index suggestion ranked by estimated
// improvement.
type IndexRecommendation struct {
	// Table is the fully qualified table the index would serve.
	Table string `json:"table"`

	// EqualityColumns are the columns matched by equality predicates.
	EqualityColumns string `json:"equality_columns,omitempty"`

	// InequalityColumns are the columns matched by range predicates.
	InequalityColumns string `json:"inequality_columns,omitempty"`

	// IncludedColumns would be carried in the leaf level.
	IncludedColumns string `json:"included_columns,omitempty"`

	// UserSeeks and UserScans count the operations that would have used the
	// index.
	UserSeeks int64 `json:"user_seeks"`
	UserScans int64 `json:"user_scans"`

	// AvgTotalUserCost is the mean cost of the statements the index would
	// improve.
	AvgTotalUserCost float64 `json:"avg_total_user_cost"`

	// AvgUserImpact is the estimated percentage cost reduction.
	AvgUserImpact float64 `json:"avg_user_impact"`

	// Improvement is the ranking measure:
	// cost * (impact/100) * (seeks + scans).
	Improvement float64 `json:"improvement"`
}

const queryStatsQuery = `
SELECT TOP 50
       SUBSTRING(st.text, 1, 4000) AS query_text,
       qs.execution_count,
       qs.total_elapsed_time / 1000.0 AS total_elapsed_ms,
       qs.total_elapsed_time / qs.execution_count / 1000.0 AS avg_elapsed_ms,
       qs.total_worker_time / qs.execution_count / 1000.0 AS avg_cpu_ms,
       qs.total_logical_reads / CAST(qs.execution_count AS float) AS avg_logical_reads
FROM sys.dm_exec_query_stats qs
CROSS APPLY sys.dm_exec_sql_text(qs.sql_handle) st
WHERE qs.execution_count > 0
ORDER BY avg_elapsed_ms DESC`

const missingIndexQuery = `
SELECT d.statement AS table_name,
       d.equality_columns,
       d.inequality_columns,
       d.included_columns,
       s.user_seeks,
       s.user_scans,
       s.avg_total_user_cost,
       s.avg_user_impact
FROM sys.dm_db_missing_index_details d
JOIN sys.dm_db_missing_index_groups g ON d.index_handle = g.index_handle
JOIN sys.dm_db_missing_index_group_stats s ON g.index_group_handle = s.group_handle`

// Analyzer reads query performance statistics over a query channel.
type Analyzer struct {
	qc cloud.QueryChannel
	rc *telemetry.RunContext
}

// NewAnalyzer creates a query performance analyzer.
func NewAnalyzer(qc cloud.QueryChannel, rc *telemetry.RunContext) *Analyzer {
	if rc == nil {
		rc = telemetry.NewTestRunContext("analyze")
	}
	return &Analyzer{qc: qc, rc: rc}
}

// TopExpensiveQueries returns the n queries with the highest average elapsed
// time, descending. Ties keep the engine's reported order. n <= 0 means
// DefaultTopQueries. A quiet database yields an empty slice, not an error.
func (a *Analyzer) TopExpensiveQueries(ctx context.Context, target cloud.Target, n int) ([]QueryStat, error) {
	if n <= 0 {
		n = DefaultTopQueries
	}

	rows, err := a.qc.Execute(ctx, target, queryStatsQuery)
	if err != nil {
		return nil, core.NewTransportError("query statistics read failed", err).
			WithCode(core.ErrCodeQueryFailed).WithResource(target.Database).WithOperation("top-queries")
	}

	stats := make([]QueryStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, QueryStat{
			Text:            row.String("query_text"),
			ExecutionCount:  row.Int("execution_count"),
			TotalElapsedMs:  row.Float("total_elapsed_ms"),
			AvgElapsedMs:    row.Float("avg_elapsed_ms"),
			AvgCPUMs:        row.Float("avg_cpu_ms"),
			AvgLogicalReads: row.Float("avg_logical_reads"),
		})
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].AvgElapsedMs > stats[j].AvgElapsedMs
	})

	if len(stats) > n {
		stats = stats[:n]
	}
	return stats, nil
}

// MissingIndexRecommendations returns missing-index suggestions ranked by the
// improvement measure, descending. An empty result is a healthy database,
// not an error.
func (a *Analyzer) MissingIndexRecommendations(ctx context.Context, target cloud.Target) ([]IndexRecommendation, error) {
	rows, err := a.qc.Execute(ctx, target, missingIndexQuery)
	if err != nil {
		return nil, core.NewTransportError("missing index read failed", err).
			WithCode(core.ErrCodeQueryFailed).WithResource(target.Database).WithOperation("missing-indexes")
	}

	recs := make([]IndexRecommendation, 0, len(rows))
	for _, row := range rows {
		rec := IndexRecommendation{
			Table:             row.String("table_name"),
			EqualityColumns:   row.String("equality_columns"),
			InequalityColumns: row.String("inequality_columns"),
			IncludedColumns:   row.String("included_columns"),
			UserSeeks:         row.Int("user_seeks"),
			UserScans:         row.Int("user_scans"),
			AvgTotalUserCost:  row.Float("avg_total_user_cost"),
			AvgUserImpact:     row.Float("avg_user_impact"),
		}
		rec.Improvement = rec.AvgTotalUserCost * (rec.AvgUserImpact / 100.0) *
			float64(rec.UserSeeks+rec.UserScans)
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Improvement > recs[j].Improvement
	})
	return recs, nil
}
