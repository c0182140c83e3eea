// Package export renders the master table and the audit log as CSV
// downloads for the admin console.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"workplan/api/internal/plan"
)

const timeLayout = "2006-01-02 15:04:05"

// Result is a rendered download: the bytes plus the metadata the HTTP
// layer needs for the Content-Disposition and Content-Type headers.
type Result struct {
	Filename string
	MimeType string
	Data     []byte
}

// MasterCSV renders the full master table, all agencies included.
func MasterCSV(table plan.Table) (Result, error) {
	data, err := table.MarshalCSV()
	if err != nil {
		return Result{}, err
	}
	return Result{
		Filename: "jwp_master_data.csv",
		MimeType: "text/csv; charset=utf-8",
		Data:     data,
	}, nil
}

// AuditCSV renders the audit log in the order given.
func AuditCSV(entries []plan.AuditEntry) (Result, error) {
	records := [][]string{{"Timestamp", "User Name", "User Email", "Row", "Activity", "Field", "Old Value", "New Value"}}
	for _, entry := range entries {
		records = append(records, []string{
			entry.Timestamp.Format(timeLayout),
			entry.UserName,
			entry.UserEmail,
			strconv.Itoa(entry.RowID),
			entry.Activity,
			entry.Field,
			entry.OldValue,
			entry.NewValue,
		})
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(records); err != nil {
		return Result{}, fmt.Errorf("write audit csv: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return Result{}, fmt.Errorf("write audit csv: %w", err)
	}
	return Result{
		Filename: "jwp_audit_log.csv",
		MimeType: "text/csv; charset=utf-8",
		Data:     buf.Bytes(),
	}, nil
}
