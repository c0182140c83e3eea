// Package plan holds the in-process model of the Joint Work Plan master
// table: the fixed seven-column row schema, the per-role row filter, and
// the reconciler that turns user edits into writes and audit entries.
package plan

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Column names of the master table, in canonical order. The first four
// are read-only, the last three editable.
const (
	ColOutcome     = "Outcome"
	ColSubOutput   = "Sub-Output"
	ColAgency      = "Agency"
	ColActivity    = "Activity"
	ColEndDate     = "End Date"
	ColBudgetSpent = "Budget Spent"
	ColProgress    = "Progress"
)

var Columns = []string{ColOutcome, ColSubOutput, ColAgency, ColActivity, ColEndDate, ColBudgetSpent, ColProgress}

// EditableColumns are the only columns a save may change.
var EditableColumns = []string{ColEndDate, ColBudgetSpent, ColProgress}

// Row is one activity of the joint work plan.
type Row struct {
	Outcome     string `json:"outcome"`
	SubOutput   string `json:"subOutput"`
	Agency      string `json:"agency"`
	Activity    string `json:"activity"`
	EndDate     string `json:"endDate"`
	BudgetSpent string `json:"budgetSpent"`
	Progress    string `json:"progress"`
}

// Record returns the row's cells in canonical column order.
func (r Row) Record() []string {
	return []string{r.Outcome, r.SubOutput, r.Agency, r.Activity, r.EndDate, r.BudgetSpent, r.Progress}
}

// Table is the in-process copy of the master table for one request
// cycle. A row has no key of its own; its position is its identity.
type Table struct {
	Rows []Row
}

// SchemaError reports a tabular input whose columns do not match the
// fixed seven-column schema. The input is rejected wholesale.
type SchemaError struct {
	Missing []string
	Extra   []string
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing columns: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected columns: "+strings.Join(e.Extra, ", "))
	}
	if len(parts) == 0 {
		return "schema mismatch"
	}
	return "schema mismatch: " + strings.Join(parts, "; ")
}

// FromRecords builds a table from a header row plus data records. Header
// names must match the canonical columns exactly; order is free. An
// empty input yields an empty table.
func FromRecords(records [][]string) (Table, error) {
	if len(records) == 0 {
		return Table{}, nil
	}

	header := records[0]
	position := make(map[string]int, len(header))
	var extra []string
	for i, name := range header {
		name = strings.TrimSpace(name)
		if !isCanonicalColumn(name) {
			extra = append(extra, name)
			continue
		}
		position[name] = i
	}

	var missing []string
	for _, name := range Columns {
		if _, ok := position[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return Table{}, &SchemaError{Missing: missing, Extra: extra}
	}

	cell := func(record []string, column string) string {
		i := position[column]
		if i >= len(record) {
			return ""
		}
		return record[i]
	}

	table := Table{Rows: make([]Row, 0, len(records)-1)}
	for _, record := range records[1:] {
		table.Rows = append(table.Rows, Row{
			Outcome:     cell(record, ColOutcome),
			SubOutput:   cell(record, ColSubOutput),
			Agency:      cell(record, ColAgency),
			Activity:    cell(record, ColActivity),
			EndDate:     cell(record, ColEndDate),
			BudgetSpent: cell(record, ColBudgetSpent),
			Progress:    cell(record, ColProgress),
		})
	}
	return table, nil
}

// Records returns the table as a header row plus data records in
// canonical column order.
func (t Table) Records() [][]string {
	records := make([][]string, 0, len(t.Rows)+1)
	records = append(records, append([]string(nil), Columns...))
	for _, row := range t.Rows {
		records = append(records, row.Record())
	}
	return records
}

// Agencies returns the sorted distinct agency names in the table. The
// login form offers these as choices.
func (t Table) Agencies() []string {
	seen := make(map[string]struct{})
	agencies := make([]string, 0)
	for _, row := range t.Rows {
		if row.Agency == "" {
			continue
		}
		if _, ok := seen[row.Agency]; ok {
			continue
		}
		seen[row.Agency] = struct{}{}
		agencies = append(agencies, row.Agency)
	}
	sort.Strings(agencies)
	return agencies
}

// ParseCSV reads a CSV upload into a table, enforcing the seven-column
// schema.
func ParseCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	return FromRecords(records)
}

// MarshalCSV renders the table as UTF-8 CSV with the canonical header.
func (t Table) MarshalCSV() ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(t.Records()); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func isCanonicalColumn(name string) bool {
	for _, column := range Columns {
		if name == column {
			return true
		}
	}
	return false
}
