package types

import (
	"fmt"
)

// Header is the CSV header row for a record set.
var Header = []string{"Low", "High", "Last", "Weight Avg"}

// Record is one fully-populated price row.
type Record struct {
	Low       string `json:"low"        bson:"low"`
	High      string `json:"high"       bson:"high"`
	Last      string `json:"last"       bson:"last"`
	WeightAvg string `json:"weight_avg" bson:"weight_avg"`
}

// Values returns the fields in header order.
func (r Record) Values() []string {
	return []string{r.Low, r.High, r.Last, r.WeightAvg}
}

// Complete reports whether every field is non-empty.
func (r Record) Complete() bool {
	return r.Low != "" && r.High != "" && r.Last != "" && r.WeightAvg != ""
}

// ColumnMap maps each record field to a zero-based cell position.
type ColumnMap struct {
	Low       int `mapstructure:"low"        yaml:"low"`
	High      int `mapstructure:"high"       yaml:"high"`
	Last      int `mapstructure:"last"       yaml:"last"`
	WeightAvg int `mapstructure:"weight_avg" yaml:"weight_avg"`
}

// DefaultColumnMap is the column layout of the canonical report table.
func DefaultColumnMap() ColumnMap {
	return ColumnMap{Low: 2, High: 3, Last: 4, WeightAvg: 5}
}

// MaxIndex returns the highest configured position. A row needs more than
// MaxIndex cells to be eligible.
func (c ColumnMap) MaxIndex() int {
	m := c.Low
	for _, v := range []int{c.High, c.Last, c.WeightAvg} {
		if v > m {
			m = v
		}
	}
	return m
}

// Validate checks that every position is non-negative.
func (c ColumnMap) Validate() error {
	for name, v := range map[string]int{
		"low": c.Low, "high": c.High, "last": c.Last, "weight_avg": c.WeightAvg,
	} {
		if v < 0 {
			return fmt.Errorf("column %s must be >= 0, got %d", name, v)
		}
	}
	return nil
}
