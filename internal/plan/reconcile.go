package plan

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"workplan/api/internal/rbac"
)

// RowUpdate is a row to write back, addressed by its master table index.
type RowUpdate struct {
	Index int `json:"index"`
	Row   Row `json:"row"`
}

// AuditEntry records a single field-level change. Entries are append-only
// and never mutated after being written to the log surface.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
	RowID     int       `json:"rowId"`
	Activity  string    `json:"activity"`
	Field     string    `json:"field"`
	OldValue  string    `json:"oldValue"`
	NewValue  string    `json:"newValue"`
}

// Issue codes for rejected rows.
const (
	IssueReadOnlyViolation = "READ_ONLY_FIELD_VIOLATION"
	IssueValidation        = "VALIDATION_ERROR"
)

// RowIssue describes a row rejected during reconciliation. Rejection is
// per row; sibling rows in the same submission proceed independently.
type RowIssue struct {
	Index  int    `json:"index"`
	Field  string `json:"field,omitempty"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Result is the outcome of reconciling an edited view against the
// last-read server state.
type Result struct {
	Updates  []RowUpdate
	Audit    []AuditEntry
	Rejected []RowIssue
}

type fieldChange struct {
	field    string
	old, new string
}

// Reconcile compares two position-aligned row subsets and computes the
// rows to write back plus the audit entries describing each changed
// cell. Read-only fields must be byte-identical between original and
// edited; a mismatch rejects the whole row (fail closed), as does a
// Budget Spent value that does not parse as a non-negative number.
// Rows with no editable change produce neither a write nor an audit
// entry.
func Reconcile(original, edited []IndexedRow, id rbac.Identity, now time.Time) (Result, error) {
	if len(original) != len(edited) {
		return Result{}, fmt.Errorf("subset length mismatch: %d original rows, %d edited", len(original), len(edited))
	}

	var result Result
	for i := range original {
		orig := original[i]
		next := edited[i]
		if orig.Index != next.Index {
			return Result{}, fmt.Errorf("row alignment mismatch at position %d: original index %d, edited index %d", i, orig.Index, next.Index)
		}

		if field := readOnlyMismatch(orig.Row, next.Row); field != "" {
			result.Rejected = append(result.Rejected, RowIssue{
				Index:  orig.Index,
				Field:  field,
				Code:   IssueReadOnlyViolation,
				Reason: fmt.Sprintf("read-only field %q may not be modified", field),
			})
			continue
		}

		changes := editableChanges(orig.Row, next.Row)
		if len(changes) == 0 {
			continue
		}

		if issue, ok := validateChanges(orig.Index, changes); !ok {
			result.Rejected = append(result.Rejected, issue)
			continue
		}

		result.Updates = append(result.Updates, RowUpdate{Index: orig.Index, Row: next.Row})
		for _, change := range changes {
			result.Audit = append(result.Audit, AuditEntry{
				Timestamp: now,
				UserName:  id.Name,
				UserEmail: id.Email,
				RowID:     orig.Index,
				Activity:  orig.Activity,
				Field:     change.field,
				OldValue:  change.old,
				NewValue:  change.new,
			})
		}
	}
	return result, nil
}

func readOnlyMismatch(orig, edited Row) string {
	switch {
	case orig.Outcome != edited.Outcome:
		return ColOutcome
	case orig.SubOutput != edited.SubOutput:
		return ColSubOutput
	case orig.Agency != edited.Agency:
		return ColAgency
	case orig.Activity != edited.Activity:
		return ColActivity
	}
	return ""
}

func editableChanges(orig, edited Row) []fieldChange {
	var changes []fieldChange
	if orig.EndDate != edited.EndDate {
		changes = append(changes, fieldChange{ColEndDate, orig.EndDate, edited.EndDate})
	}
	if orig.BudgetSpent != edited.BudgetSpent {
		changes = append(changes, fieldChange{ColBudgetSpent, orig.BudgetSpent, edited.BudgetSpent})
	}
	if orig.Progress != edited.Progress {
		changes = append(changes, fieldChange{ColProgress, orig.Progress, edited.Progress})
	}
	return changes
}

// validateChanges checks the changed cells of one row. Untouched cells
// are not re-validated; an inherited bad value never blocks edits to
// other fields.
func validateChanges(index int, changes []fieldChange) (RowIssue, bool) {
	for _, change := range changes {
		if change.field != ColBudgetSpent {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(change.new), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return RowIssue{
				Index:  index,
				Field:  ColBudgetSpent,
				Code:   IssueValidation,
				Reason: fmt.Sprintf("%q is not a number", change.new),
			}, false
		}
		if value < 0 {
			return RowIssue{
				Index:  index,
				Field:  ColBudgetSpent,
				Code:   IssueValidation,
				Reason: fmt.Sprintf("%q is negative", change.new),
			}, false
		}
	}
	return RowIssue{}, true
}
