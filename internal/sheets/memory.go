package sheets

import (
	"context"
	"fmt"
	"sync"

	"workplan/api/internal/plan"
)

// MemoryGateway keeps the master table and audit log in process. It
// backs tests and credential-less development runs; data does not
// survive a restart.
type MemoryGateway struct {
	mu    sync.Mutex
	table plan.Table
	log   []plan.AuditEntry
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

// Seed replaces the table without going through ReplaceAll, for test
// setup.
func (m *MemoryGateway) Seed(table plan.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = copyTable(table)
}

func (m *MemoryGateway) ReadAll(context.Context) (plan.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTable(m.table), nil
}

func (m *MemoryGateway) WriteRows(_ context.Context, updates []plan.RowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed []int
	for _, update := range updates {
		if update.Index < 0 || update.Index >= len(m.table.Rows) {
			failed = append(failed, update.Index)
			continue
		}
		row := &m.table.Rows[update.Index]
		row.EndDate = update.Row.EndDate
		row.BudgetSpent = update.Row.BudgetSpent
		row.Progress = update.Row.Progress
	}
	if len(failed) > 0 {
		return &WriteError{Failed: failed, Err: fmt.Errorf("row index out of range")}
	}
	return nil
}

func (m *MemoryGateway) AppendLog(_ context.Context, entries []plan.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, entries...)
	return nil
}

func (m *MemoryGateway) ReadLog(context.Context) ([]plan.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]plan.AuditEntry(nil), m.log...), nil
}

func (m *MemoryGateway) ReplaceAll(_ context.Context, table plan.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = copyTable(table)
	return nil
}

func (m *MemoryGateway) Ping(context.Context) error { return nil }

func copyTable(t plan.Table) plan.Table {
	return plan.Table{Rows: append([]plan.Row(nil), t.Rows...)}
}
