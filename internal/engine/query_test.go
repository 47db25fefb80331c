package engine

import (
	"strings"
	"testing"

	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

func testTable() *schema.Table {
	return &schema.Table{
		Name: "articles",
		Columns: []schema.Column{
			{Name: "id"}, {Name: "title"}, {Name: "status"}, {Name: "user_id"},
		},
	}
}

func testUser() *schema.UserContext {
	return &schema.UserContext{ID: 7, GroupID: 2}
}

func TestBuildListQueryDefaultStatusFilter(t *testing.T) {
	d := store.NewDialect("sqlite")
	q, err := BuildListQuery(d, testTable(), ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200}, ScopeAll, testUser())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "status = ?1") {
		t.Errorf("default filter should pin active status: %s", q.SQL)
	}
	if q.Params[0] != any(schema.StatusActive) {
		t.Errorf("params = %v", q.Params)
	}
}

func TestBuildListQueryIncludeInactiveHidesDeletedOnly(t *testing.T) {
	d := store.NewDialect("sqlite")
	q, err := BuildListQuery(d, testTable(), ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200, IncludeInactive: true}, ScopeAll, testUser())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "status <> ?1") {
		t.Errorf("inactive listing should still hide deleted rows: %s", q.SQL)
	}
}

func TestBuildListQueryNoStatusColumn(t *testing.T) {
	d := store.NewDialect("sqlite")
	tbl := &schema.Table{Name: "tags", Columns: []schema.Column{{Name: "id"}, {Name: "name"}}}
	q, err := BuildListQuery(d, tbl, ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200}, ScopeAll, testUser())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(q.SQL, "status") {
		t.Errorf("tables without status should not be filtered: %s", q.SQL)
	}
}

func TestBuildListQueryOwnScope(t *testing.T) {
	d := store.NewDialect("sqlite")
	q, err := BuildListQuery(d, testTable(), ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200}, ScopeOwn, testUser())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "user_id = ?2") {
		t.Errorf("own scope should filter by owner: %s", q.SQL)
	}
	if q.Params[1] != any(int64(7)) {
		t.Errorf("params = %v", q.Params)
	}
}

func TestBuildListQueryOwnScopeWithoutOwnerColumn(t *testing.T) {
	d := store.NewDialect("sqlite")
	tbl := &schema.Table{Name: "tags", Columns: []schema.Column{{Name: "id"}, {Name: "name"}}}
	_, err := BuildListQuery(d, tbl, ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200}, ScopeOwn, testUser())
	if err == nil {
		t.Error("own scope on unowned table should be denied")
	}
}

func TestBuildListQueryAdvWhere(t *testing.T) {
	d := store.NewDialect("sqlite")
	p := ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200, AdvWhere: []string{"title LIKE 'a%'"}}
	q, err := BuildListQuery(d, testTable(), p, ScopeAll, testUser())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "(title LIKE 'a%')") {
		t.Errorf("adv_where fragment missing: %s", q.SQL)
	}
}

func TestBuildListQueryPagination(t *testing.T) {
	d := store.NewDialect("sqlite")
	p := ListParams{Sort: "id", SortOrder: "DESC", PerPage: 25, CurrentPage: 3}
	q, err := BuildListQuery(d, testTable(), p, ScopeAll, testUser())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "LIMIT 25 OFFSET 75") {
		t.Errorf("pagination clause wrong: %s", q.SQL)
	}
	if !strings.Contains(q.SQL, "ORDER BY id DESC") {
		t.Errorf("sort clause wrong: %s", q.SQL)
	}
}

func TestBuildListQueryRejectsHostileIdentifiers(t *testing.T) {
	d := store.NewDialect("sqlite")
	base := ListParams{SortOrder: "ASC", PerPage: 200}

	p := base
	p.Sort = "id; DROP TABLE articles"
	if _, err := BuildListQuery(d, testTable(), p, ScopeAll, testUser()); err == nil {
		t.Error("hostile sort accepted")
	}

	p = base
	p.Sort = "id"
	p.Columns = []string{"title", "x') OR 1=1 --"}
	if _, err := BuildListQuery(d, testTable(), p, ScopeAll, testUser()); err == nil {
		t.Error("hostile column accepted")
	}

	p = base
	p.Sort = "id"
	p.GroupBy = "a b"
	if _, err := BuildListQuery(d, testTable(), p, ScopeAll, testUser()); err == nil {
		t.Error("hostile group_by accepted")
	}
}

func TestBuildCountsQuery(t *testing.T) {
	d := store.NewDialect("sqlite")
	sqlStr, params := BuildCountsQuery(d, testTable())
	if !strings.Contains(sqlStr, "status <> ?2") {
		t.Errorf("total should exclude deleted rows: %s", sqlStr)
	}
	if len(params) != 2 {
		t.Errorf("params = %v", params)
	}

	tbl := &schema.Table{Name: "tags", Columns: []schema.Column{{Name: "id"}}}
	sqlStr, params = BuildCountsQuery(d, tbl)
	if strings.Contains(sqlStr, "status") || params != nil {
		t.Errorf("statusless counts wrong: %s %v", sqlStr, params)
	}
}
