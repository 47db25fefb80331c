package engine

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"slate-backend/internal/activity"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

func newTestGateway(t *testing.T) (*Gateway, *schema.UserContext) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := &store.Store{DB: db, Dialect: store.NewDialect("sqlite")}
	ctx := context.Background()
	if err := st.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	ddl := []string{
		`CREATE TABLE authors (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE tags (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL DEFAULT '',
    status INTEGER NOT NULL DEFAULT 1,
    user_id INTEGER,
    author_id INTEGER)`,
		`CREATE TABLE articles_tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    article_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}

	seed := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO _columns (table_name, column_name, data_type, relationship_type, related_table) VALUES (?1, ?2, ?3, ?4, ?5)`,
			[]any{"articles", "author_id", "integer", schema.RelManyToOne, "authors"}},
		{`INSERT INTO _columns (table_name, column_name, data_type, relationship_type, related_table, junction_table, junction_key_left, junction_key_right) VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`,
			[]any{"articles", "tags", "ALIAS", schema.RelManyToMany, "tags", "articles_tags", "article_id", "tag_id"}},
		{`INSERT INTO _privileges (group_id, table_name, permissions) VALUES (1, ?1, ?2)`,
			[]any{"articles", "view,bigview,add,edit,bigedit,delete,bigdelete,alter"}},
		{`INSERT INTO _privileges (group_id, table_name, permissions) VALUES (1, ?1, ?2)`,
			[]any{"authors", "view,bigview,add,edit,bigedit,delete,bigdelete"}},
		{`INSERT INTO _privileges (group_id, table_name, permissions) VALUES (1, ?1, ?2)`,
			[]any{"tags", "view,bigview,add,edit,bigedit,delete,bigdelete"}},
	}
	for _, s := range seed {
		if _, err := db.ExecContext(ctx, s.sql, s.args...); err != nil {
			t.Fatal(err)
		}
	}

	catalog := schema.NewCatalog(st)
	recorder := activity.NewRecorder(st)
	g := NewGateway(st, catalog, recorder)

	return g, &schema.UserContext{ID: 1, GroupID: schema.RootGroupID, Email: "admin@localhost"}
}

func mustList(t *testing.T, g *Gateway, user *schema.UserContext, table string, p ListParams) *ResultSet {
	t.Helper()
	res, err := g.GetEntries(context.Background(), user, table, p)
	if err != nil {
		t.Fatal(err)
	}
	rs, ok := res.(*ResultSet)
	if !ok {
		t.Fatalf("expected ResultSet, got %T", res)
	}
	return rs
}

func countRows(t *testing.T, g *Gateway, query string, args ...any) int64 {
	t.Helper()
	row, err := store.QueryRow(context.Background(), g.Store.DB, query, args...)
	if err != nil {
		t.Fatal(err)
	}
	return store.ToInt64(row["n"])
}

func TestInsertAndReadRoundTrip(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{
		"title":  "hello",
		"author": 0, // unknown keys are dropped
		"author_id": map[string]any{
			"name": "jane",
		},
	}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if id <= 0 {
		t.Fatalf("id = %d", id)
	}

	row, err := g.GetEntry(ctx, user, "articles", id)
	if err != nil {
		t.Fatal(err)
	}
	if got := store.ToString(row["title"]); got != "hello" {
		t.Errorf("title = %q", got)
	}
	author, ok := row["author_id"].(map[string]any)
	if !ok {
		t.Fatalf("author_id not hydrated: %#v", row["author_id"])
	}
	if got := store.ToString(author["name"]); got != "jane" {
		t.Errorf("author name = %q", got)
	}
	if got := store.ToInt64(row["user_id"]); got != user.ID {
		t.Errorf("owner not auto-filled, user_id = %d", got)
	}
}

func TestUpdateByPrimaryKey(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"title": "v1"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	id2, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"id": id, "title": "v2"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Fatalf("update returned new id %d, want %d", id2, id)
	}

	row, err := g.GetEntry(ctx, user, "articles", id)
	if err != nil {
		t.Fatal(err)
	}
	if got := store.ToString(row["title"]); got != "v2" {
		t.Errorf("title = %q", got)
	}
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"title": "gone"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	affected, err := g.Delete(ctx, user, "articles", id, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if affected != 1 {
		t.Fatalf("first delete affected %d", affected)
	}

	affected, err = g.Delete(ctx, user, "articles", id, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if affected != 0 {
		t.Fatalf("repeat delete affected %d", affected)
	}

	// The row still exists physically, flagged deleted.
	status := countRows(t, g, "SELECT status AS n FROM articles WHERE id = ?1", id)
	if status != int64(schema.StatusDeleted) {
		t.Errorf("status = %d", status)
	}

	rs := mustList(t, g, user, "articles", ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200})
	if len(rs.Rows) != 0 {
		t.Errorf("deleted row visible in listing")
	}
	if rs.Total != 0 {
		t.Errorf("deleted row counted in total: %d", rs.Total)
	}
}

func TestHardDeleteWithoutStatusColumn(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "tags", map[string]any{"name": "go"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Delete(ctx, user, "tags", id, WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	n := countRows(t, g, "SELECT COUNT(*) AS n FROM tags WHERE id = ?1", id)
	if n != 0 {
		t.Errorf("row survived hard delete")
	}
}

func TestManyToManyReplace(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	t1, err := g.ManageRecordUpdate(ctx, user, "tags", map[string]any{"name": "go"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t2, err := g.ManageRecordUpdate(ctx, user, "tags", map[string]any{"name": "sql"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{
		"title": "tagged",
		"tags":  []any{t1, t2},
	}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	n := countRows(t, g, "SELECT COUNT(*) AS n FROM articles_tags WHERE article_id = ?1", id)
	if n != 2 {
		t.Fatalf("junction rows = %d, want 2", n)
	}

	// Writing the set again replaces it wholesale.
	_, err = g.ManageRecordUpdate(ctx, user, "articles", map[string]any{
		"id":   id,
		"tags": []any{t2},
	}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	n = countRows(t, g, "SELECT COUNT(*) AS n FROM articles_tags WHERE article_id = ?1", id)
	if n != 1 {
		t.Fatalf("junction rows after replace = %d, want 1", n)
	}
	remaining := countRows(t, g, "SELECT tag_id AS n FROM articles_tags WHERE article_id = ?1", id)
	if remaining != t2 {
		t.Errorf("remaining tag = %d, want %d", remaining, t2)
	}

	row, err := g.GetEntry(ctx, user, "articles", id)
	if err != nil {
		t.Fatal(err)
	}
	set, ok := row["tags"].(map[string]any)
	if !ok {
		t.Fatalf("tags not hydrated: %#v", row["tags"])
	}
	entries, _ := set["rows"].([]map[string]any)
	if len(entries) != 1 {
		t.Fatalf("hydrated tag entries = %d", len(entries))
	}
}

func TestActivityParentChildLinking(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{
		"title":     "with author",
		"author_id": map[string]any{"name": "nested"},
	}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	parents, err := store.QueryRows(ctx, g.Store.DB,
		"SELECT * FROM _activity WHERE table_name = 'articles' AND row_id = ?1", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(parents) != 1 {
		t.Fatalf("parent entries = %d", len(parents))
	}
	if got := store.ToString(parents[0]["action"]); got != activity.ActionAdd {
		t.Errorf("parent action = %q", got)
	}
	parentID := store.ToInt64(parents[0]["id"])

	children, err := store.QueryRows(ctx, g.Store.DB,
		"SELECT * FROM _activity WHERE table_name = 'authors'")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 {
		t.Fatalf("child entries = %d", len(children))
	}
	if got := store.ToInt64(children[0]["parent_id"]); got != parentID {
		t.Errorf("child parent_id = %d, want %d", got, parentID)
	}
}

func TestSkipActivityLog(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	_, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"title": "quiet"},
		WriteOptions{SkipActivity: true})
	if err != nil {
		t.Fatal(err)
	}

	n := countRows(t, g, "SELECT COUNT(*) AS n FROM _activity WHERE table_name = 'articles'")
	if n != 0 {
		t.Errorf("activity recorded despite skip: %d", n)
	}
}

func TestWriteOptionsOverrideActivityAction(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"title": "cover"},
		WriteOptions{Action: activity.ActionFileUpload, Identifier: "cover.png"})
	if err != nil {
		t.Fatal(err)
	}

	entry, err := store.QueryRow(ctx, g.Store.DB,
		"SELECT * FROM _activity WHERE table_name = 'articles' AND row_id = ?1", id)
	if err != nil {
		t.Fatal(err)
	}
	if got := store.ToString(entry["action"]); got != activity.ActionFileUpload {
		t.Errorf("action = %q", got)
	}
	if got := store.ToString(entry["identifier"]); got != "cover.png" {
		t.Errorf("identifier = %q", got)
	}
}

func TestRevisionsOldestFirst(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"title": "r1"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, title := range []string{"r2", "r3"} {
		if _, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"id": id, "title": title}, WriteOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	revs, err := g.Recorder.Revisions(ctx, "articles", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 3 {
		t.Fatalf("revisions = %d", len(revs))
	}
	wantActions := []string{activity.ActionAdd, activity.ActionUpdate, activity.ActionUpdate}
	var last int64
	for i, rev := range revs {
		if got := store.ToString(rev["action"]); got != wantActions[i] {
			t.Errorf("revision %d action = %q, want %q", i, got, wantActions[i])
		}
		cur := store.ToInt64(rev["id"])
		if cur <= last {
			t.Errorf("revisions out of order at %d", i)
		}
		last = cur
	}
}

func TestPermissionDeniedWithoutGrant(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()
	outsider := &schema.UserContext{ID: 9, GroupID: 2}

	_, err := g.GetEntries(ctx, outsider, "articles", ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200})
	assertPermissionDenied(t, err)

	_, err = g.ManageRecordUpdate(ctx, outsider, "articles", map[string]any{"title": "nope"}, WriteOptions{})
	assertPermissionDenied(t, err)

	_, err = g.Delete(ctx, outsider, "articles", 1, WriteOptions{})
	assertPermissionDenied(t, err)
}

func TestOwnScopeRestrictsListing(t *testing.T) {
	g, root := newTestGateway(t)
	ctx := context.Background()

	// Plain view only, no bigview: the outsider sees own rows.
	_, err := g.Store.DB.ExecContext(ctx,
		"INSERT INTO _privileges (group_id, table_name, permissions) VALUES (2, 'articles', 'view,add')")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.ManageRecordUpdate(ctx, root, "articles", map[string]any{"title": "root's"}, WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	outsider := &schema.UserContext{ID: 9, GroupID: 2}
	if _, err := g.ManageRecordUpdate(ctx, outsider, "articles", map[string]any{"title": "mine"}, WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	rs := mustList(t, g, outsider, "articles", ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200})
	if len(rs.Rows) != 1 {
		t.Fatalf("own-scope listing rows = %d, want 1", len(rs.Rows))
	}
	if got := store.ToString(rs.Rows[0]["title"]); got != "mine" {
		t.Errorf("visible row = %q", got)
	}
}

func TestDeleteRollsBackWhenActivityFails(t *testing.T) {
	g, user := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, user, "articles", map[string]any{"title": "kept"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// A failing audit insert must leave the row untouched.
	if _, err := g.Store.DB.ExecContext(ctx, "ALTER TABLE _activity RENAME TO _activity_hidden"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Delete(ctx, user, "articles", id, WriteOptions{}); err == nil {
		t.Fatal("delete succeeded without its activity entry")
	}

	status := countRows(t, g, "SELECT status AS n FROM articles WHERE id = ?1", id)
	if status != int64(schema.StatusActive) {
		t.Fatalf("status = %d after rolled-back delete", status)
	}

	if _, err := g.Store.DB.ExecContext(ctx, "ALTER TABLE _activity_hidden RENAME TO _activity"); err != nil {
		t.Fatal(err)
	}
	affected, err := g.Delete(ctx, user, "articles", id, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if affected != 1 {
		t.Fatalf("delete after restore affected %d", affected)
	}
}

func TestHydrationAppliesRelatedGrant(t *testing.T) {
	g, root := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, root, "articles", map[string]any{
		"title":     "secretive",
		"author_id": map[string]any{"name": "jane"},
	}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Group 2 sees articles but the authors grant blacklists name.
	seed := []string{
		"INSERT INTO _privileges (group_id, table_name, permissions) VALUES (2, 'articles', 'view,bigview')",
		"INSERT INTO _privileges (group_id, table_name, permissions, read_field_blacklist) VALUES (2, 'authors', 'view,bigview', 'name')",
	}
	for _, stmt := range seed {
		if _, err := g.Store.DB.ExecContext(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}

	outsider := &schema.UserContext{ID: 9, GroupID: 2}
	row, err := g.GetEntry(ctx, outsider, "articles", id)
	if err != nil {
		t.Fatal(err)
	}
	author, ok := row["author_id"].(map[string]any)
	if !ok {
		t.Fatalf("author_id not hydrated: %#v", row["author_id"])
	}
	if _, leaked := author["name"]; leaked {
		t.Error("blacklisted related column exposed")
	}
	if store.ToInt64(author["id"]) <= 0 {
		t.Error("related row id missing")
	}
}

func TestHydrationSkippedWithoutRelatedGrant(t *testing.T) {
	g, root := newTestGateway(t)
	ctx := context.Background()

	id, err := g.ManageRecordUpdate(ctx, root, "articles", map[string]any{
		"title":     "opaque",
		"author_id": map[string]any{"name": "jane"},
	}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Group 2 has no authors grant at all: the foreign key stays scalar.
	_, err = g.Store.DB.ExecContext(ctx,
		"INSERT INTO _privileges (group_id, table_name, permissions) VALUES (2, 'articles', 'view,bigview')")
	if err != nil {
		t.Fatal(err)
	}

	outsider := &schema.UserContext{ID: 9, GroupID: 2}
	row, err := g.GetEntry(ctx, outsider, "articles", id)
	if err != nil {
		t.Fatal(err)
	}
	if _, nested := row["author_id"].(map[string]any); nested {
		t.Fatalf("relation hydrated without a grant: %#v", row["author_id"])
	}
	if store.ToInt64(row["author_id"]) <= 0 {
		t.Error("raw foreign key lost")
	}
}

func TestTableNotFound(t *testing.T) {
	g, user := newTestGateway(t)
	_, err := g.GetEntries(context.Background(), user, "missing_table", ListParams{Sort: "id", SortOrder: "ASC", PerPage: 200})
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "TABLE_NOT_FOUND" {
		t.Fatalf("want TABLE_NOT_FOUND, got %v", err)
	}

	_, err = g.GetEntries(context.Background(), user, "bad;name", ListParams{})
	if err == nil {
		t.Error("hostile table name accepted")
	}
}

func assertPermissionDenied(t *testing.T, err error) {
	t.Helper()
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("want PERMISSION_DENIED, got %v", err)
	}
}
