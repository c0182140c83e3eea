package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gsheets "google.golang.org/api/sheets/v4"
	"google.golang.org/api/option"

	"workplan/api/internal/plan"
)

// GoogleSheets is the production Gateway, backed by the Google Sheets
// API. The data worksheet keeps the canonical column order (ReplaceAll
// always writes it), so ranged writes can address the editable columns
// as E:G directly. Sheet row 1 is the header; master index i lives in
// sheet row i+2.
type GoogleSheets struct {
	svc           *gsheets.Service
	spreadsheetID string
	dataSheet     string
	auditSheet    string
}

// NewGoogleSheets builds a gateway from the opaque service-account
// credentials blob supplied through configuration.
func NewGoogleSheets(ctx context.Context, credentialsJSON []byte, spreadsheetID, dataSheet, auditSheet string) (*GoogleSheets, error) {
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &GoogleSheets{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		dataSheet:     dataSheet,
		auditSheet:    auditSheet,
	}, nil
}

func (g *GoogleSheets) ReadAll(ctx context.Context) (plan.Table, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.dataSheet).Context(ctx).Do()
	if err != nil {
		return plan.Table{}, fmt.Errorf("%w: read %s: %v", ErrUnavailable, g.dataSheet, err)
	}
	table, err := plan.FromRecords(toRecords(resp.Values))
	if err != nil {
		return plan.Table{}, fmt.Errorf("master worksheet %s: %w", g.dataSheet, err)
	}
	return table, nil
}

func (g *GoogleSheets) WriteRows(ctx context.Context, updates []plan.RowUpdate) error {
	var failed []int
	var lastErr error
	for _, update := range updates {
		sheetRow := update.Index + 2
		rng := fmt.Sprintf("%s!E%d:G%d", g.dataSheet, sheetRow, sheetRow)
		body := &gsheets.ValueRange{
			Values: [][]any{{update.Row.EndDate, update.Row.BudgetSpent, update.Row.Progress}},
		}
		_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, body).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			failed = append(failed, update.Index)
			lastErr = err
		}
	}
	if len(failed) > 0 {
		return &WriteError{Failed: failed, Err: lastErr}
	}
	return nil
}

func (g *GoogleSheets) AppendLog(ctx context.Context, entries []plan.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([][]any, 0, len(entries))
	for _, entry := range entries {
		values = append(values, []any{
			entry.Timestamp.Format(auditTimeLayout),
			entry.UserName,
			entry.UserEmail,
			strconv.Itoa(entry.RowID),
			entry.Activity,
			entry.Field,
			entry.OldValue,
			entry.NewValue,
		})
	}

	if err := g.appendRows(ctx, values); err != nil {
		// The audit worksheet may not exist yet; create it with its
		// header and retry once.
		if ensureErr := g.ensureAuditSheet(ctx); ensureErr != nil {
			return &LogError{Err: err}
		}
		if err := g.appendRows(ctx, values); err != nil {
			return &LogError{Err: err}
		}
	}
	return nil
}

func (g *GoogleSheets) appendRows(ctx context.Context, values [][]any) error {
	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, g.auditSheet+"!A1", &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (g *GoogleSheets) ensureAuditSheet(ctx context.Context) error {
	_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: g.auditSheet},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("create audit worksheet: %w", err)
	}

	header := make([]any, len(auditHeader))
	for i, name := range auditHeader {
		header[i] = name
	}
	return g.appendRows(ctx, [][]any{header})
}

func (g *GoogleSheets) ReadLog(ctx context.Context) ([]plan.AuditEntry, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.auditSheet).Context(ctx).Do()
	if err != nil {
		// A missing audit worksheet just means nothing has been logged.
		if strings.Contains(err.Error(), "Unable to parse range") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, g.auditSheet, err)
	}

	entries := make([]plan.AuditEntry, 0, len(resp.Values))
	for i, raw := range resp.Values {
		record := toRecord(raw)
		if i == 0 && len(record) > 0 && record[0] == auditHeader[0] {
			continue
		}
		entries = append(entries, parseAuditRecord(record))
	}
	return entries, nil
}

func (g *GoogleSheets) ReplaceAll(ctx context.Context, table plan.Table) error {
	_, err := g.svc.Spreadsheets.Values.Clear(g.spreadsheetID, g.dataSheet, &gsheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrUnavailable, g.dataSheet, err)
	}

	records := table.Records()
	values := make([][]any, 0, len(records))
	for _, record := range records {
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = cell
		}
		values = append(values, row)
	}

	_, err = g.svc.Spreadsheets.Values.Update(g.spreadsheetID, g.dataSheet+"!A1", &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: overwrite %s: %v", ErrUnavailable, g.dataSheet, err)
	}
	return nil
}

func (g *GoogleSheets) Ping(ctx context.Context) error {
	_, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func toRecords(values [][]any) [][]string {
	records := make([][]string, 0, len(values))
	for _, raw := range values {
		records = append(records, toRecord(raw))
	}
	return records
}

func toRecord(raw []any) []string {
	record := make([]string, len(raw))
	for i, cell := range raw {
		record[i] = cellString(cell)
	}
	return record
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func parseAuditRecord(record []string) plan.AuditEntry {
	cell := func(i int) string {
		if i >= len(record) {
			return ""
		}
		return record[i]
	}
	timestamp, _ := time.Parse(auditTimeLayout, cell(0))
	rowID, _ := strconv.Atoi(cell(3))
	return plan.AuditEntry{
		Timestamp: timestamp,
		UserName:  cell(1),
		UserEmail: cell(2),
		RowID:     rowID,
		Activity:  cell(4),
		Field:     cell(5),
		OldValue:  cell(6),
		NewValue:  cell(7),
	}
}
