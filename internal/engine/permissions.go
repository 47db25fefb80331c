package engine

import (
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// Scope is the row visibility granted for an operation.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeAll
)

// Covers reports whether the scope grants at least the other scope.
func (s Scope) Covers(other Scope) bool {
	return s >= other
}

// Operation names used for permission checks.
const (
	OpView   = "view"
	OpAdd    = "add"
	OpEdit   = "edit"
	OpDelete = "delete"
)

// ScopeFor resolves the scope a privilege grants for an operation. The big
// token widens the plain one from own rows to all rows; the plain token
// alone limits the operation to rows the user owns. Adding has no row to
// own, so the single token grants everything.
func ScopeFor(p *schema.Privilege, op string) Scope {
	if p == nil {
		return ScopeNone
	}
	switch op {
	case OpView:
		if p.Has(schema.PermBigView) {
			return ScopeAll
		}
		if p.Has(schema.PermView) {
			return ScopeOwn
		}
	case OpAdd:
		if p.Has(schema.PermAdd) {
			return ScopeAll
		}
	case OpEdit:
		if p.Has(schema.PermBigEdit) {
			return ScopeAll
		}
		if p.Has(schema.PermEdit) {
			return ScopeOwn
		}
	case OpDelete:
		if p.Has(schema.PermBigDelete) {
			return ScopeAll
		}
		if p.Has(schema.PermDelete) {
			return ScopeOwn
		}
	}
	return ScopeNone
}

// Authorize checks that the privilege grants the operation at all, without
// regard to row scope.
func Authorize(p *schema.Privilege, op, table string) error {
	if ScopeFor(p, op) == ScopeNone {
		return ErrPermissionDenied(op, table)
	}
	return nil
}

// RequireAlter enforces the schema mutation gate. Root group members
// bypass the privilege row.
func RequireAlter(user *schema.UserContext, p *schema.Privilege) error {
	if user.IsRoot() {
		return nil
	}
	if p.Has(schema.PermAlter) {
		return nil
	}
	return ErrUnauthorizedAlter()
}

// FilterReadColumns strips read-blacklisted fields from a row in place.
func FilterReadColumns(p *schema.Privilege, row map[string]any) {
	if p == nil {
		return
	}
	for _, field := range p.ReadBlacklist {
		delete(row, field)
	}
}

// CheckWritePayload rejects payloads that touch write-blacklisted fields.
func CheckWritePayload(p *schema.Privilege, payload map[string]any) error {
	if p == nil {
		return nil
	}
	for _, field := range p.WriteBlacklist {
		if _, ok := payload[field]; ok {
			return ErrPermissionDenied("write field "+field, p.TableName)
		}
	}
	return nil
}

// OwnsRow reports whether the user owns a row according to the table's
// owner column. Tables without an owner column never match.
func OwnsRow(user *schema.UserContext, t *schema.Table, row map[string]any) bool {
	ownerCol := t.OwnerColumn()
	if ownerCol == "" {
		return false
	}
	v, ok := row[ownerCol]
	if !ok {
		return false
	}
	return store.ToInt64(v) == user.ID
}
