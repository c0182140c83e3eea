// Package sheets wraps the external spreadsheet that owns the master
// table and its audit log. The core never talks to the spreadsheet API
// directly; everything goes through the Gateway interface so tests and
// credential-less runs can swap in the in-memory implementation.
package sheets

import (
	"context"
	"errors"
	"fmt"

	"workplan/api/internal/plan"
)

// ErrUnavailable means the spreadsheet could not be reached. It is
// fatal for the current request cycle; nothing is retried.
var ErrUnavailable = errors.New("sheet gateway unavailable")

// WriteError reports rows whose write failed, by master table index.
// Writes are best effort and row-independent: rows not listed here were
// written and stay written.
type WriteError struct {
	Failed []int
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed for rows %v: %v", e.Failed, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// LogError wraps an audit append failure. The data write it follows is
// already committed and is never rolled back; the two surfaces are
// intentionally not transactional.
type LogError struct {
	Err error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("audit log write failed: %v", e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }

// Gateway is the spreadsheet seen as a table plus an append-only log.
type Gateway interface {
	// ReadAll returns a fresh snapshot of the master table.
	ReadAll(ctx context.Context) (plan.Table, error)
	// WriteRows overwrites the editable fields of the addressed rows.
	// Atomic per row, best effort across rows; failures come back as a
	// *WriteError.
	WriteRows(ctx context.Context, updates []plan.RowUpdate) error
	// AppendLog appends audit entries. Failures come back as a
	// *LogError and must not undo the preceding data write.
	AppendLog(ctx context.Context, entries []plan.AuditEntry) error
	// ReadLog returns the audit entries in append (chronological) order.
	ReadLog(ctx context.Context) ([]plan.AuditEntry, error)
	// ReplaceAll overwrites the whole master table.
	ReplaceAll(ctx context.Context, table plan.Table) error
	// Ping reports whether the spreadsheet is reachable.
	Ping(ctx context.Context) error
}

// Audit log column headers, written when the log worksheet is created.
var auditHeader = []string{"Timestamp", "User Name", "User Email", "Row", "Activity", "Field", "Old Value", "New Value"}

// auditTimeLayout matches the format the original tracker wrote.
const auditTimeLayout = "2006-01-02 15:04:05"
