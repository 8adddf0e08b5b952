package parser

import (
	"strings"

	"github.com/IshaanNene/marketgrab/internal/types"
)

// RowStats counts what happened to each row of one extraction pass.
type RowStats struct {
	Rows       int
	Ineligible int // not enough cells
	Incomplete int // a mapped field was blank
	Emitted    int
}

// Dropped returns the number of rows that produced no record.
func (s RowStats) Dropped() int { return s.Ineligible + s.Incomplete }

// ExtractRecords maps rows to records using cm. Rows without enough cells
// or with a blank mapped field are skipped; order is preserved.
func ExtractRecords(rows []RawRow, cm types.ColumnMap) []types.Record {
	records, _ := Extract(rows, cm)
	return records
}

// Extract is ExtractRecords with per-row accounting.
func Extract(rows []RawRow, cm types.ColumnMap) ([]types.Record, RowStats) {
	stats := RowStats{Rows: len(rows)}
	minCells := cm.MaxIndex() + 1

	records := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		if len(row) < minCells {
			stats.Ineligible++
			continue
		}

		rec := types.Record{
			Low:       cell(row, cm.Low),
			High:      cell(row, cm.High),
			Last:      cell(row, cm.Last),
			WeightAvg: cell(row, cm.WeightAvg),
		}
		if !rec.Complete() {
			stats.Incomplete++
			continue
		}

		records = append(records, rec)
		stats.Emitted++
	}
	return records, stats
}

func cell(row RawRow, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
