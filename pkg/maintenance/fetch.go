package maintenance

import (
	"context"
	"fmt"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/core"
)

// fragmentationQuery reads average fragmentation per index from the engine's
// physical statistics view. The page-count floor is applied client side so
// the same query serves any floor.
const fragmentationQuery = `
SELECT s.name AS schema_name,
       t.name AS table_name,
       i.name AS index_name,
       ps.avg_fragmentation_in_percent AS fragmentation_percent,
       ps.page_count
FROM sys.dm_db_index_physical_stats(DB_ID(), NULL, NULL, NULL, 'LIMITED') ps
JOIN sys.indexes i ON ps.object_id = i.object_id AND ps.index_id = i.index_id
JOIN sys.tables t ON i.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE i.name IS NOT NULL
ORDER BY ps.avg_fragmentation_in_percent DESC`

// FetchFragmentation reads fragmentation statistics for every index in the
// target database. Structures below the page floor are dropped before
// classification; minPages <= 0 means DefaultMinPageCount. An empty database
// yields an empty slice, not an error.
func FetchFragmentation(ctx context.Context, qc cloud.QueryChannel, target cloud.Target, minPages int64) ([]core.FragmentationRecord, error) {
	if minPages <= 0 {
		minPages = DefaultMinPageCount
	}

	rows, err := qc.Execute(ctx, target, fragmentationQuery)
	if err != nil {
		return nil, core.NewTransportError("fragmentation statistics query failed", err).
			WithCode(core.ErrCodeQueryFailed).WithResource(target.Database).WithOperation("fetch-fragmentation")
	}

	records := make([]core.FragmentationRecord, 0, len(rows))
	for _, row := range rows {
		record := core.FragmentationRecord{
			Schema:               row.String("schema_name"),
			Table:                row.String("table_name"),
			Index:                row.String("index_name"),
			FragmentationPercent: row.Float("fragmentation_percent"),
			PageCount:            row.Int("page_count"),
		}
		if record.Schema == "" || record.Table == "" || record.Index == "" {
			return nil, core.NewInternalError(
				fmt.Sprintf("malformed fragmentation row: %v", row), nil).
				WithCode(core.ErrCodeInternal)
		}
		if record.PageCount < minPages {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
