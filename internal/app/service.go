package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"workplan/api/internal/auth"
	"workplan/api/internal/authpw"
	"workplan/api/internal/config"
	"workplan/api/internal/export"
	"workplan/api/internal/plan"
	"workplan/api/internal/rbac"
	"workplan/api/internal/sheets"
	"workplan/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	Identity     rbac.Identity
	JTI          string
	ExpiresAt    time.Time
}

// SessionStore is satisfied by both the Redis and the in-memory
// session backends.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, id rbac.Identity, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (rbac.Identity, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type snapshotStore interface {
	Upload(ctx context.Context, key string, data []byte) error
}

type Service struct {
	cfg      config.Config
	gateway  sheets.Gateway
	sessions SessionStore
	admin    *authpw.Verifier
	snaps    snapshotStore
}

func New(cfg config.Config, gateway sheets.Gateway, sessions SessionStore, admin *authpw.Verifier) *Service {
	return &Service{
		cfg:      cfg,
		gateway:  gateway,
		sessions: sessions,
		admin:    admin,
	}
}

// NewWithSnapshots additionally archives uploaded master data to object
// storage.
func NewWithSnapshots(cfg config.Config, gateway sheets.Gateway, sessions SessionStore, admin *authpw.Verifier, snaps snapshotStore) *Service {
	service := New(cfg, gateway, sessions, admin)
	service.snaps = snaps
	return service
}

// Login opens a stakeholder session. There is no account registry; the
// three fields the user supplies are the whole identity.
func (s *Service) Login(ctx context.Context, name, email, agency string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	agency = strings.TrimSpace(agency)
	if name == "" || email == "" || agency == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name, email and agency are required", nil)
	}

	return s.issueSession(ctx, rbac.Identity{
		Name:   name,
		Email:  email,
		Agency: agency,
		Role:   rbac.RoleStakeholder,
	})
}

// AdminLogin opens an admin session after checking the shared admin
// password.
func (s *Service) AdminLogin(ctx context.Context, password string) (Session, error) {
	if err := s.admin.Verify(password); err != nil {
		if errors.Is(err, authpw.ErrNotConfigured) {
			return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Admin login is not configured", nil)
		}
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}
	return s.issueSession(ctx, rbac.AdminIdentity())
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	identity, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, identity)
}

func (s *Service) issueSession(ctx context.Context, id rbac.Identity) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Name:   id.Name,
		Email:  id.Email,
		Agency: id.Agency,
		Role:   string(id.Role),
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), id, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Identity:     id,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token: token,
		Identity: rbac.Identity{
			Name:   claims.Name,
			Email:  claims.Email,
			Agency: claims.Agency,
			Role:   rbac.Normalize(claims.Role),
		},
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// Agencies lists the agency names present in the master table, for the
// login form's dropdown. No session required.
func (s *Service) Agencies(ctx context.Context) (map[string]any, error) {
	table, err := s.gateway.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agencies": table.Agencies()}, nil
}

// Plan returns the rows visible to the session, freshly read from the
// spreadsheet.
func (s *Service) Plan(ctx context.Context, session Session) (map[string]any, error) {
	table, err := s.gateway.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"columns":         plan.Columns,
		"editableColumns": plan.EditableColumns,
		"rows":            plan.Visible(table, session.Identity),
	}, nil
}

// SaveEdits reconciles an edited view against the current spreadsheet
// state and writes back the changed rows. The server state read here is
// the baseline; concurrent edits follow last-write-wins, no merging.
func (s *Service) SaveEdits(ctx context.Context, session Session, edited []plan.IndexedRow) (map[string]any, error) {
	table, err := s.gateway.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	original := make([]plan.IndexedRow, 0, len(edited))
	seen := make(map[int]struct{}, len(edited))
	for _, row := range edited {
		if row.Index < 0 || row.Index >= len(table.Rows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("row index %d out of range", row.Index), nil)
		}
		if _, dup := seen[row.Index]; dup {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("row index %d submitted twice", row.Index), nil)
		}
		seen[row.Index] = struct{}{}

		current := table.Rows[row.Index]
		if session.Identity.Role != rbac.RoleAdmin && current.Agency != session.Identity.Agency {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN",
				fmt.Sprintf("row %d belongs to another agency", row.Index), nil)
		}
		original = append(original, plan.IndexedRow{Index: row.Index, Row: current})
	}

	result, err := plan.Reconcile(original, edited, session.Identity, time.Now())
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	if len(result.Updates) == 0 {
		if len(result.Rejected) > 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "EDIT_REJECTED", "All submitted rows were rejected",
				map[string]any{"rejected": result.Rejected})
		}
		return map[string]any{"ok": true, "updated": 0, "message": "no changes detected"}, nil
	}

	audit := result.Audit
	if err := s.gateway.WriteRows(ctx, result.Updates); err != nil {
		var writeErr *sheets.WriteError
		if !errors.As(err, &writeErr) {
			return nil, err
		}
		// Keep the audit trail truthful: log only the rows that landed.
		audit = dropFailedAudit(audit, writeErr.Failed)
		if len(audit) > 0 {
			if logErr := s.gateway.AppendLog(ctx, audit); logErr != nil {
				log.Printf(`{"level":"warn","msg":"audit log write failed","error":%q}`, logErr.Error())
			}
		}
		return nil, domainError(http.StatusBadGateway, "WRITE_FAILED", "Some rows could not be written",
			map[string]any{"failedRows": writeErr.Failed})
	}

	payload := map[string]any{"ok": true, "updated": len(result.Updates)}
	if len(result.Rejected) > 0 {
		payload["rejected"] = result.Rejected
	}
	if err := s.gateway.AppendLog(ctx, audit); err != nil {
		// The data write already succeeded and is not rolled back.
		log.Printf(`{"level":"warn","msg":"audit log write failed","error":%q}`, err.Error())
		payload["auditWarning"] = true
	}
	return payload, nil
}

func dropFailedAudit(entries []plan.AuditEntry, failed []int) []plan.AuditEntry {
	failedSet := make(map[int]struct{}, len(failed))
	for _, index := range failed {
		failedSet[index] = struct{}{}
	}
	kept := make([]plan.AuditEntry, 0, len(entries))
	for _, entry := range entries {
		if _, bad := failedSet[entry.RowID]; bad {
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

// ExportCSV renders the full master table for download. Admin only; the
// export is never filtered by agency.
func (s *Service) ExportCSV(ctx context.Context) (export.Result, error) {
	table, err := s.gateway.ReadAll(ctx)
	if err != nil {
		return export.Result{}, err
	}
	return export.MasterCSV(table)
}

// ExportAuditCSV renders the audit log for download.
func (s *Service) ExportAuditCSV(ctx context.Context) (export.Result, error) {
	entries, err := s.gateway.ReadLog(ctx)
	if err != nil {
		return export.Result{}, err
	}
	return export.AuditCSV(entries)
}

// UploadCSV replaces the whole master table with the uploaded CSV. The
// previous state is archived to object storage when snapshots are
// configured; a snapshot failure never blocks the upload.
func (s *Service) UploadCSV(ctx context.Context, body io.Reader) (map[string]any, error) {
	table, err := plan.ParseCSV(body)
	if err != nil {
		return nil, err
	}

	var snapshotKey string
	if s.snaps != nil {
		previous, err := s.gateway.ReadAll(ctx)
		if err == nil {
			if data, err := previous.MarshalCSV(); err == nil {
				key := fmt.Sprintf("snapshots/jwp_master_%s.csv", time.Now().UTC().Format("20060102T150405Z"))
				if err := s.snaps.Upload(ctx, key, data); err != nil {
					log.Printf(`{"level":"warn","msg":"snapshot upload failed","error":%q}`, err.Error())
				} else {
					snapshotKey = key
				}
			}
		}
	}

	if err := s.gateway.ReplaceAll(ctx, table); err != nil {
		return nil, err
	}

	payload := map[string]any{"ok": true, "rows": len(table.Rows)}
	if snapshotKey != "" {
		payload["snapshot"] = snapshotKey
	}
	return payload, nil
}

// AuditLog returns the audit entries, chronological by default, newest
// first when order is "desc".
func (s *Service) AuditLog(ctx context.Context, order string) (map[string]any, error) {
	entries, err := s.gateway.ReadLog(ctx)
	if err != nil {
		return nil, err
	}
	if order == "desc" {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	} else {
		order = "asc"
	}
	if entries == nil {
		entries = []plan.AuditEntry{}
	}
	return map[string]any{"entries": entries, "order": order}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.gateway.Ping(ctx)
}
