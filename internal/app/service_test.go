package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"workplan/api/internal/authpw"
	"workplan/api/internal/config"
	"workplan/api/internal/plan"
	"workplan/api/internal/rbac"
	"workplan/api/internal/session"
	"workplan/api/internal/sheets"
)

type fakeGateway struct {
	readAllFn    func(context.Context) (plan.Table, error)
	writeRowsFn  func(context.Context, []plan.RowUpdate) error
	appendLogFn  func(context.Context, []plan.AuditEntry) error
	readLogFn    func(context.Context) ([]plan.AuditEntry, error)
	replaceAllFn func(context.Context, plan.Table) error
	pingFn       func(context.Context) error
}

func (f *fakeGateway) ReadAll(ctx context.Context) (plan.Table, error) {
	if f.readAllFn != nil {
		return f.readAllFn(ctx)
	}
	return plan.Table{}, nil
}
func (f *fakeGateway) WriteRows(ctx context.Context, updates []plan.RowUpdate) error {
	if f.writeRowsFn != nil {
		return f.writeRowsFn(ctx, updates)
	}
	return nil
}
func (f *fakeGateway) AppendLog(ctx context.Context, entries []plan.AuditEntry) error {
	if f.appendLogFn != nil {
		return f.appendLogFn(ctx, entries)
	}
	return nil
}
func (f *fakeGateway) ReadLog(ctx context.Context) ([]plan.AuditEntry, error) {
	if f.readLogFn != nil {
		return f.readLogFn(ctx)
	}
	return nil, nil
}
func (f *fakeGateway) ReplaceAll(ctx context.Context, table plan.Table) error {
	if f.replaceAllFn != nil {
		return f.replaceAllFn(ctx, table)
	}
	return nil
}
func (f *fakeGateway) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSnapshotter struct {
	keys []string
	err  error
}

func (f *fakeSnapshotter) Upload(_ context.Context, key string, _ []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		SessionSecret: "test-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
	}
}

func newTestService(gateway sheets.Gateway) *Service {
	return New(testConfig(), gateway, session.NewMemoryStore(), authpw.New("hunter2", ""))
}

func serviceTable() plan.Table {
	return plan.Table{Rows: []plan.Row{
		{Outcome: "O1", SubOutput: "S1", Agency: "UNICEF", Activity: "Vaccination drive", EndDate: "2026-03-01", BudgetSpent: "100", Progress: "Started"},
		{Outcome: "O1", SubOutput: "S2", Agency: "WHO", Activity: "Cold chain audit", EndDate: "2026-04-01", BudgetSpent: "50", Progress: "Not Started"},
		{Outcome: "O2", SubOutput: "S3", Agency: "UNICEF", Activity: "Teacher training", EndDate: "2026-05-01", BudgetSpent: "200", Progress: "Started"},
	}}
}

func seededService(t *testing.T) (*Service, *sheets.MemoryGateway) {
	t.Helper()
	gateway := sheets.NewMemoryGateway()
	gateway.Seed(serviceTable())
	return newTestService(gateway), gateway
}

func stakeholderSession(t *testing.T, svc *Service, agency string) Session {
	t.Helper()
	s, err := svc.Login(context.Background(), "Pat", "pat@example.org", agency)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return s
}

func TestLoginRequiresAllFields(t *testing.T) {
	svc, _ := seededService(t)

	cases := []struct{ name, email, agency string }{
		{"", "pat@example.org", "UNICEF"},
		{"Pat", "", "UNICEF"},
		{"Pat", "pat@example.org", ""},
		{"  ", "pat@example.org", "UNICEF"},
	}
	for _, tc := range cases {
		_, err := svc.Login(context.Background(), tc.name, tc.email, tc.agency)
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
			t.Errorf("Login(%q,%q,%q): expected VALIDATION_ERROR, got %v", tc.name, tc.email, tc.agency, err)
		}
	}
}

func TestLoginIssuesUsableSession(t *testing.T) {
	svc, _ := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	if s.Token == "" || s.RefreshToken == "" {
		t.Fatal("expected token and refresh token")
	}
	parsed, err := svc.SessionFromToken(context.Background(), s.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	want := rbac.Identity{Name: "Pat", Email: "pat@example.org", Agency: "UNICEF", Role: rbac.RoleStakeholder}
	if parsed.Identity != want {
		t.Errorf("identity mismatch: %+v", parsed.Identity)
	}
}

func TestAdminLoginWrongPassword(t *testing.T) {
	svc, _ := seededService(t)

	_, err := svc.AdminLogin(context.Background(), "wrong")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_CREDENTIALS" || domainErr.Status != 401 {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %v", err)
	}
}

func TestAdminLoginNotConfigured(t *testing.T) {
	svc := New(testConfig(), sheets.NewMemoryGateway(), session.NewMemoryStore(), authpw.New("", ""))

	_, err := svc.AdminLogin(context.Background(), "anything")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "AUTH_UNAVAILABLE" || domainErr.Status != 503 {
		t.Fatalf("expected 503 AUTH_UNAVAILABLE, got %v", err)
	}
}

func TestAdminLoginGrantsAdminRole(t *testing.T) {
	svc, _ := seededService(t)

	s, err := svc.AdminLogin(context.Background(), "hunter2")
	if err != nil {
		t.Fatalf("AdminLogin failed: %v", err)
	}
	if s.Identity.Role != rbac.RoleAdmin {
		t.Errorf("expected admin role, got %q", s.Identity.Role)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _ := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	next, err := svc.Refresh(context.Background(), s.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken == s.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if next.Identity != s.Identity {
		t.Errorf("identity changed on refresh: %+v", next.Identity)
	}

	// The old refresh token is single use.
	if _, err := svc.Refresh(context.Background(), s.RefreshToken); err == nil {
		t.Error("expected error reusing old refresh token")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc, _ := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	if err := svc.Logout(context.Background(), s, s.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), s.Token); err == nil {
		t.Error("expected token to be rejected after logout")
	}
	if _, err := svc.Refresh(context.Background(), s.RefreshToken); err == nil {
		t.Error("expected refresh token to be rejected after logout")
	}
}

func TestAgencies(t *testing.T) {
	svc, _ := seededService(t)

	payload, err := svc.Agencies(context.Background())
	if err != nil {
		t.Fatalf("Agencies failed: %v", err)
	}
	agencies, ok := payload["agencies"].([]string)
	if !ok {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(agencies) != 2 || agencies[0] != "UNICEF" || agencies[1] != "WHO" {
		t.Errorf("unexpected agencies: %v", agencies)
	}
}

func TestPlanFiltersByAgency(t *testing.T) {
	svc, _ := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	payload, err := svc.Plan(context.Background(), s)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	rows := payload["rows"].([]plan.IndexedRow)
	if len(rows) != 2 {
		t.Fatalf("expected 2 UNICEF rows, got %d", len(rows))
	}
	if rows[0].Index != 0 || rows[1].Index != 2 {
		t.Errorf("expected master indexes 0 and 2, got %d and %d", rows[0].Index, rows[1].Index)
	}
}

func TestPlanAdminSeesEverything(t *testing.T) {
	svc, _ := seededService(t)
	s, err := svc.AdminLogin(context.Background(), "hunter2")
	if err != nil {
		t.Fatalf("AdminLogin failed: %v", err)
	}

	payload, err := svc.Plan(context.Background(), s)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if rows := payload["rows"].([]plan.IndexedRow); len(rows) != 3 {
		t.Errorf("expected all 3 rows, got %d", len(rows))
	}
}

func TestSaveEditsWritesAndAudits(t *testing.T) {
	svc, gateway := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	edited := []plan.IndexedRow{{
		Index: 2,
		Row: plan.Row{
			Outcome: "O2", SubOutput: "S3", Agency: "UNICEF", Activity: "Teacher training",
			EndDate: "2026-05-01", BudgetSpent: "250", Progress: "Done",
		},
	}}

	payload, err := svc.SaveEdits(context.Background(), s, edited)
	if err != nil {
		t.Fatalf("SaveEdits failed: %v", err)
	}
	if payload["updated"] != 1 {
		t.Errorf("expected 1 updated row, got %v", payload["updated"])
	}

	table, _ := gateway.ReadAll(context.Background())
	if table.Rows[2].BudgetSpent != "250" || table.Rows[2].Progress != "Done" {
		t.Errorf("row not written: %+v", table.Rows[2])
	}

	entries, _ := gateway.ReadLog(context.Background())
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.RowID != 2 || entry.UserName != "Pat" || entry.Activity != "Teacher training" {
			t.Errorf("unexpected audit entry: %+v", entry)
		}
	}
}

func TestSaveEditsNoChanges(t *testing.T) {
	svc, gateway := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	unchanged := []plan.IndexedRow{{Index: 0, Row: serviceTable().Rows[0]}}
	payload, err := svc.SaveEdits(context.Background(), s, unchanged)
	if err != nil {
		t.Fatalf("SaveEdits failed: %v", err)
	}
	if payload["updated"] != 0 || payload["message"] != "no changes detected" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if entries, _ := gateway.ReadLog(context.Background()); len(entries) != 0 {
		t.Errorf("no-op save must not log, got %d entries", len(entries))
	}
}

func TestSaveEditsCrossAgencyForbidden(t *testing.T) {
	svc, _ := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	whoRow := serviceTable().Rows[1]
	whoRow.Progress = "Done"
	_, err := svc.SaveEdits(context.Background(), s, []plan.IndexedRow{{Index: 1, Row: whoRow}})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestSaveEditsAllRejected(t *testing.T) {
	svc, _ := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	bad := serviceTable().Rows[0]
	bad.BudgetSpent = "abc"
	_, err := svc.SaveEdits(context.Background(), s, []plan.IndexedRow{{Index: 0, Row: bad}})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EDIT_REJECTED" || domainErr.Status != 422 {
		t.Fatalf("expected 422 EDIT_REJECTED, got %v", err)
	}
}

func TestSaveEditsReadOnlyTamperRejected(t *testing.T) {
	svc, gateway := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	tampered := serviceTable().Rows[0]
	tampered.Activity = "Renamed activity"
	tampered.Progress = "Done"
	_, err := svc.SaveEdits(context.Background(), s, []plan.IndexedRow{{Index: 0, Row: tampered}})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EDIT_REJECTED" {
		t.Fatalf("expected EDIT_REJECTED, got %v", err)
	}

	table, _ := gateway.ReadAll(context.Background())
	if table.Rows[0] != serviceTable().Rows[0] {
		t.Errorf("rejected row must not be written: %+v", table.Rows[0])
	}
}

func TestSaveEditsPartialWriteFailure(t *testing.T) {
	var logged []plan.AuditEntry
	table := serviceTable()
	gateway := &fakeGateway{
		readAllFn: func(context.Context) (plan.Table, error) { return table, nil },
		writeRowsFn: func(_ context.Context, updates []plan.RowUpdate) error {
			return &sheets.WriteError{Failed: []int{0}, Err: errors.New("quota exceeded")}
		},
		appendLogFn: func(_ context.Context, entries []plan.AuditEntry) error {
			logged = append(logged, entries...)
			return nil
		},
	}
	svc := newTestService(gateway)
	s := stakeholderSession(t, svc, "UNICEF")

	first := table.Rows[0]
	first.Progress = "Done"
	third := table.Rows[2]
	third.Progress = "Done"
	_, err := svc.SaveEdits(context.Background(), s, []plan.IndexedRow{
		{Index: 0, Row: first},
		{Index: 2, Row: third},
	})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "WRITE_FAILED" || domainErr.Status != 502 {
		t.Fatalf("expected 502 WRITE_FAILED, got %v", err)
	}
	details := domainErr.Details.(map[string]any)
	if failed := details["failedRows"].([]int); len(failed) != 1 || failed[0] != 0 {
		t.Errorf("unexpected failed rows: %v", failed)
	}

	// Only the row that landed gets an audit entry.
	if len(logged) != 1 || logged[0].RowID != 2 {
		t.Errorf("unexpected audit entries: %+v", logged)
	}
}

func TestSaveEditsAuditWarning(t *testing.T) {
	table := serviceTable()
	written := false
	gateway := &fakeGateway{
		readAllFn: func(context.Context) (plan.Table, error) { return table, nil },
		writeRowsFn: func(context.Context, []plan.RowUpdate) error {
			written = true
			return nil
		},
		appendLogFn: func(context.Context, []plan.AuditEntry) error {
			return &sheets.LogError{Err: errors.New("worksheet locked")}
		},
	}
	svc := newTestService(gateway)
	s := stakeholderSession(t, svc, "UNICEF")

	row := table.Rows[0]
	row.Progress = "Done"
	payload, err := svc.SaveEdits(context.Background(), s, []plan.IndexedRow{{Index: 0, Row: row}})
	if err != nil {
		t.Fatalf("SaveEdits failed: %v", err)
	}
	if !written {
		t.Error("data write must not be rolled back on a log failure")
	}
	if payload["auditWarning"] != true {
		t.Errorf("expected auditWarning, got %+v", payload)
	}
}

func TestSaveEditsIndexOutOfRange(t *testing.T) {
	svc, _ := seededService(t)
	s := stakeholderSession(t, svc, "UNICEF")

	_, err := svc.SaveEdits(context.Background(), s, []plan.IndexedRow{{Index: 99, Row: plan.Row{Agency: "UNICEF"}}})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestUploadCSVSchemaMismatch(t *testing.T) {
	svc, gateway := seededService(t)

	body := strings.NewReader("Outcome,Agency\nO1,UNICEF\n")
	_, err := svc.UploadCSV(context.Background(), body)
	var schemaErr *plan.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}

	table, _ := gateway.ReadAll(context.Background())
	if len(table.Rows) != 3 {
		t.Error("rejected upload must not touch existing data")
	}
}

func TestUploadCSVReplacesTable(t *testing.T) {
	svc, gateway := seededService(t)

	csv := "Outcome,Sub-Output,Agency,Activity,End Date,Budget Spent,Progress\n" +
		"O9,S9,UNHCR,Shelter kits,2026-09-01,10,Not Started\n"
	payload, err := svc.UploadCSV(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("UploadCSV failed: %v", err)
	}
	if payload["rows"] != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}

	table, _ := gateway.ReadAll(context.Background())
	if len(table.Rows) != 1 || table.Rows[0].Agency != "UNHCR" {
		t.Errorf("table not replaced: %+v", table.Rows)
	}
}

func TestUploadCSVSnapshotsPreviousState(t *testing.T) {
	gateway := sheets.NewMemoryGateway()
	gateway.Seed(serviceTable())
	snaps := &fakeSnapshotter{}
	svc := NewWithSnapshots(testConfig(), gateway, session.NewMemoryStore(), authpw.New("hunter2", ""), snaps)

	csv := "Outcome,Sub-Output,Agency,Activity,End Date,Budget Spent,Progress\n"
	payload, err := svc.UploadCSV(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("UploadCSV failed: %v", err)
	}
	if len(snaps.keys) != 1 || !strings.HasPrefix(snaps.keys[0], "snapshots/jwp_master_") {
		t.Errorf("unexpected snapshot keys: %v", snaps.keys)
	}
	if payload["snapshot"] != snaps.keys[0] {
		t.Errorf("payload missing snapshot key: %+v", payload)
	}
}

func TestUploadCSVSnapshotFailureIsNonFatal(t *testing.T) {
	gateway := sheets.NewMemoryGateway()
	gateway.Seed(serviceTable())
	snaps := &fakeSnapshotter{err: errors.New("bucket gone")}
	svc := NewWithSnapshots(testConfig(), gateway, session.NewMemoryStore(), authpw.New("hunter2", ""), snaps)

	csv := "Outcome,Sub-Output,Agency,Activity,End Date,Budget Spent,Progress\n"
	if _, err := svc.UploadCSV(context.Background(), strings.NewReader(csv)); err != nil {
		t.Fatalf("snapshot failure must not block the upload: %v", err)
	}
	table, _ := gateway.ReadAll(context.Background())
	if len(table.Rows) != 0 {
		t.Errorf("table not replaced: %+v", table.Rows)
	}
}

func TestAuditLogOrder(t *testing.T) {
	gateway := sheets.NewMemoryGateway()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	_ = gateway.AppendLog(context.Background(), []plan.AuditEntry{
		{Timestamp: now, UserName: "First"},
		{Timestamp: now.Add(time.Minute), UserName: "Second"},
	})
	svc := newTestService(gateway)

	payload, err := svc.AuditLog(context.Background(), "")
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	entries := payload["entries"].([]plan.AuditEntry)
	if entries[0].UserName != "First" {
		t.Errorf("default order should be chronological: %+v", entries)
	}

	payload, err = svc.AuditLog(context.Background(), "desc")
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	entries = payload["entries"].([]plan.AuditEntry)
	if entries[0].UserName != "Second" {
		t.Errorf("desc order should be newest first: %+v", entries)
	}
}

func TestGatewayUnavailable(t *testing.T) {
	gateway := &fakeGateway{
		readAllFn: func(context.Context) (plan.Table, error) {
			return plan.Table{}, sheets.ErrUnavailable
		},
	}
	svc := newTestService(gateway)
	s := stakeholderSession(t, svc, "UNICEF")

	_, err := svc.Plan(context.Background(), s)
	if !errors.Is(err, sheets.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	status, code, _, _ := mapError(err)
	if status != 503 || code != "GATEWAY_UNAVAILABLE" {
		t.Errorf("expected 503 GATEWAY_UNAVAILABLE, got %d %s", status, code)
	}
}
