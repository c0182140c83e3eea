package plan

import "workplan/api/internal/rbac"

// IndexedRow pairs a row with its position in the master table so a
// filtered subset can still address the right master row on write.
type IndexedRow struct {
	Index int `json:"index"`
	Row
}

// Visible returns the rows the identity may see and edit, in master
// table order. Admins see everything. Stakeholders see exactly the rows
// whose Agency equals their own; the match is exact, with no case or
// whitespace normalization. No match means an empty view, not an error.
func Visible(t Table, id rbac.Identity) []IndexedRow {
	visible := make([]IndexedRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		if id.Role != rbac.RoleAdmin && row.Agency != id.Agency {
			continue
		}
		visible = append(visible, IndexedRow{Index: i, Row: row})
	}
	return visible
}
