package engine

import (
	"testing"

	"slate-backend/internal/schema"
)

func priv(permissions string) *schema.Privilege {
	return schema.NewPrivilege(2, "articles", permissions, "", "")
}

func TestScopeForDefaultsToNone(t *testing.T) {
	for _, op := range []string{OpView, OpAdd, OpEdit, OpDelete} {
		if got := ScopeFor(nil, op); got != ScopeNone {
			t.Errorf("ScopeFor(nil, %s) = %v, want ScopeNone", op, got)
		}
		if got := ScopeFor(priv(""), op); got != ScopeNone {
			t.Errorf("ScopeFor(empty, %s) = %v, want ScopeNone", op, got)
		}
	}
}

func TestScopeForBigWidens(t *testing.T) {
	cases := []struct {
		permissions string
		op          string
		want        Scope
	}{
		{"view", OpView, ScopeOwn},
		{"bigview", OpView, ScopeAll},
		{"view,bigview", OpView, ScopeAll},
		{"edit", OpEdit, ScopeOwn},
		{"bigedit", OpEdit, ScopeAll},
		{"delete", OpDelete, ScopeOwn},
		{"bigdelete", OpDelete, ScopeAll},
		{"add", OpAdd, ScopeAll},
		{"view", OpEdit, ScopeNone},
		{"bigedit", OpDelete, ScopeNone},
	}
	for _, tc := range cases {
		if got := ScopeFor(priv(tc.permissions), tc.op); got != tc.want {
			t.Errorf("ScopeFor(%q, %s) = %v, want %v", tc.permissions, tc.op, got, tc.want)
		}
	}
}

func TestScopeCovers(t *testing.T) {
	if !ScopeAll.Covers(ScopeOwn) || !ScopeAll.Covers(ScopeNone) {
		t.Error("ScopeAll should cover lower scopes")
	}
	if ScopeOwn.Covers(ScopeAll) {
		t.Error("ScopeOwn should not cover ScopeAll")
	}
	if !ScopeOwn.Covers(ScopeOwn) {
		t.Error("a scope should cover itself")
	}
}

func TestRequireAlter(t *testing.T) {
	root := &schema.UserContext{ID: 1, GroupID: schema.RootGroupID}
	if err := RequireAlter(root, nil); err != nil {
		t.Errorf("root without privilege row: %v", err)
	}

	user := &schema.UserContext{ID: 5, GroupID: 2}
	if err := RequireAlter(user, priv("view,add,alter")); err != nil {
		t.Errorf("alter grant rejected: %v", err)
	}

	err := RequireAlter(user, priv("view,add"))
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "UNAUTHORIZED_TABLE_ALTER" {
		t.Errorf("want UNAUTHORIZED_TABLE_ALTER, got %v", err)
	}
}

func TestCheckWritePayload(t *testing.T) {
	p := schema.NewPrivilege(2, "articles", "add,edit", "", "locked,internal")

	if err := CheckWritePayload(p, map[string]any{"title": "x"}); err != nil {
		t.Errorf("clean payload rejected: %v", err)
	}
	if err := CheckWritePayload(p, map[string]any{"locked": 1}); err == nil {
		t.Error("blacklisted field accepted")
	}
	if err := CheckWritePayload(nil, map[string]any{"locked": 1}); err != nil {
		t.Errorf("nil privilege should not block: %v", err)
	}
}

func TestFilterReadColumns(t *testing.T) {
	p := schema.NewPrivilege(2, "articles", "view", "secret,cost", "")
	row := map[string]any{"id": 1, "title": "x", "secret": "s", "cost": 10}
	FilterReadColumns(p, row)
	if _, ok := row["secret"]; ok {
		t.Error("secret not filtered")
	}
	if _, ok := row["cost"]; ok {
		t.Error("cost not filtered")
	}
	if _, ok := row["title"]; !ok {
		t.Error("title should survive")
	}
}

func TestOwnsRow(t *testing.T) {
	user := &schema.UserContext{ID: 7, GroupID: 2}
	tbl := &schema.Table{Name: "articles", Columns: []schema.Column{{Name: "id"}, {Name: "user_id"}}}

	if !OwnsRow(user, tbl, map[string]any{"id": int64(3), "user_id": int64(7)}) {
		t.Error("expected ownership")
	}
	if OwnsRow(user, tbl, map[string]any{"id": int64(3), "user_id": int64(8)}) {
		t.Error("unexpected ownership")
	}

	users := &schema.Table{Name: "_users", Columns: []schema.Column{{Name: "id"}}}
	if !OwnsRow(user, users, map[string]any{"id": int64(7)}) {
		t.Error("user should own their own record")
	}
}
