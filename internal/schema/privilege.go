package schema

import "strings"

// Permission tokens as stored in the privileges table. The big variants
// widen an operation from own rows to all rows.
const (
	PermView      = "view"
	PermBigView   = "bigview"
	PermAdd       = "add"
	PermEdit      = "edit"
	PermBigEdit   = "bigedit"
	PermDelete    = "delete"
	PermBigDelete = "bigdelete"
	PermAlter     = "alter"
)

// RootGroupID is the bootstrap administrators group. Membership bypasses
// the alter check and the privileges surface.
const RootGroupID = 1

// Privilege is one group's grant row for a table.
type Privilege struct {
	ID             int64
	GroupID        int64
	TableName      string
	tokens         map[string]bool
	ReadBlacklist  []string
	WriteBlacklist []string
	StatusID       string
}

// NewPrivilege builds a Privilege from the raw stored fields.
func NewPrivilege(groupID int64, tableName, permissions, readBlacklist, writeBlacklist string) *Privilege {
	return &Privilege{
		GroupID:        groupID,
		TableName:      tableName,
		tokens:         splitTokens(permissions),
		ReadBlacklist:  splitList(readBlacklist),
		WriteBlacklist: splitList(writeBlacklist),
	}
}

// Has reports whether the permission token is granted.
func (p *Privilege) Has(token string) bool {
	if p == nil {
		return false
	}
	return p.tokens[token]
}

// Permissions renders the token set back to its stored comma form.
func (p *Privilege) Permissions() string {
	if p == nil || len(p.tokens) == 0 {
		return ""
	}
	var out []string
	for _, t := range []string{PermView, PermBigView, PermAdd, PermEdit, PermBigEdit, PermDelete, PermBigDelete, PermAlter} {
		if p.tokens[t] {
			out = append(out, t)
		}
	}
	return strings.Join(out, ",")
}

func splitTokens(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens[t] = true
		}
	}
	return tokens
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
