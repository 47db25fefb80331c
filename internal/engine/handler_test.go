package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/schema"
)

func newTestApp(t *testing.T) (*fiber.App, *Gateway) {
	t.Helper()
	g, user := newTestGateway(t)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		SetCurrentUser(c, user)
		return c.Next()
	})
	NewHandler(g).RegisterRoutes(app)
	return app, g
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("bad response body %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestRowsEndpointRoundTrip(t *testing.T) {
	app, _ := newTestApp(t)

	status, created := doJSON(t, app, http.MethodPost, "/tables/articles/rows",
		map[string]any{"title": "via http"})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", status, created)
	}
	id := int(created["id"].(float64))

	status, row := doJSON(t, app, http.MethodGet, "/tables/articles/rows/"+itoa(id), nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if row["title"] != "via http" {
		t.Errorf("title = %v", row["title"])
	}

	status, updated := doJSON(t, app, http.MethodPut, "/tables/articles/rows/"+itoa(id),
		map[string]any{"title": "edited"})
	if status != http.StatusOK {
		t.Fatalf("update status = %d", status)
	}
	if updated["title"] != "edited" {
		t.Errorf("title after update = %v", updated["title"])
	}

	status, list := doJSON(t, app, http.MethodGet, "/tables/articles/rows", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	rows, _ := list["rows"].([]any)
	if len(rows) != 1 {
		t.Errorf("listed rows = %d", len(rows))
	}
	if list["total"].(float64) != 1 {
		t.Errorf("total = %v", list["total"])
	}

	status, _ = doJSON(t, app, http.MethodDelete, "/tables/articles/rows/"+itoa(id), nil)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}

	status, _ = doJSON(t, app, http.MethodGet, "/tables/articles/rows/"+itoa(id), nil)
	if status != http.StatusNotFound {
		t.Errorf("deleted row status = %d, want 404", status)
	}
}

func TestUnknownTableReturns404(t *testing.T) {
	app, _ := newTestApp(t)
	status, body := doJSON(t, app, http.MethodGet, "/tables/nope/rows", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "TABLE_NOT_FOUND" {
		t.Errorf("error = %v", body)
	}
}

func TestColumnCreationAltersTable(t *testing.T) {
	app, g := newTestApp(t)

	status, col := doJSON(t, app, http.MethodPost, "/tables/articles/columns",
		map[string]any{"column_name": "subtitle", "data_type": "string"})
	if status != http.StatusCreated {
		t.Fatalf("create column status = %d, body %v", status, col)
	}

	t2, err := g.Catalog.Describe(context.Background(), g.Store.DB, "articles")
	if err != nil {
		t.Fatal(err)
	}
	created := t2.GetColumn("subtitle")
	if created == nil {
		t.Fatal("column not in descriptor")
	}
	if created.Sort != schema.SortSentinel {
		t.Errorf("default sort = %d, want %d", created.Sort, schema.SortSentinel)
	}

	// The physical column exists, so a write lands.
	status, _ = doJSON(t, app, http.MethodPost, "/tables/articles/rows",
		map[string]any{"title": "x", "subtitle": "y"})
	if status != http.StatusCreated {
		t.Fatalf("write with new column status = %d", status)
	}
}

func TestTypeahead(t *testing.T) {
	app, _ := newTestApp(t)

	for _, title := range []string{"alpha", "alder", "beta"} {
		status, _ := doJSON(t, app, http.MethodPost, "/tables/articles/rows",
			map[string]any{"title": title})
		if status != http.StatusCreated {
			t.Fatalf("seed status = %d", status)
		}
	}

	status, body := doJSON(t, app, http.MethodGet, "/tables/articles/typeahead?q=al&columns=title", nil)
	if status != http.StatusOK {
		t.Fatalf("typeahead status = %d, body %v", status, body)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 2 {
		t.Errorf("typeahead rows = %d, want 2", len(rows))
	}
}

// newTestAppAs mounts the routes with a fixed user so scope handling can
// be exercised for non-root callers.
func newTestAppAs(t *testing.T, g *Gateway, user *schema.UserContext) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		SetCurrentUser(c, user)
		return c.Next()
	})
	NewHandler(g).RegisterRoutes(app)
	return app
}

func TestTypeaheadOwnScope(t *testing.T) {
	g, root := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Store.DB.ExecContext(ctx,
		"INSERT INTO _privileges (group_id, table_name, permissions) VALUES (2, 'articles', 'view,add')")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.ManageRecordUpdate(ctx, root, "articles", map[string]any{"title": "alpha root"}, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	outsider := &schema.UserContext{ID: 9, GroupID: 2}
	if _, err := g.ManageRecordUpdate(ctx, outsider, "articles", map[string]any{"title": "alpha mine"}, WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	app := newTestAppAs(t, g, outsider)
	status, body := doJSON(t, app, http.MethodGet, "/tables/articles/typeahead?q=al&columns=title", nil)
	if status != http.StatusOK {
		t.Fatalf("typeahead status = %d, body %v", status, body)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("own-scope typeahead rows = %d, want 1", len(rows))
	}
	first, _ := rows[0].(map[string]any)
	if first["title"] != "alpha mine" {
		t.Errorf("visible row = %v", first["title"])
	}
}

func TestRevisionsOwnScope(t *testing.T) {
	g, root := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Store.DB.ExecContext(ctx,
		"INSERT INTO _privileges (group_id, table_name, permissions) VALUES (2, 'articles', 'view,add')")
	if err != nil {
		t.Fatal(err)
	}

	rootRow, err := g.ManageRecordUpdate(ctx, root, "articles", map[string]any{"title": "root's"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	outsider := &schema.UserContext{ID: 9, GroupID: 2}
	ownRow, err := g.ManageRecordUpdate(ctx, outsider, "articles", map[string]any{"title": "mine"}, WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	app := newTestAppAs(t, g, outsider)

	status, body := doJSON(t, app, http.MethodGet, "/tables/articles/rows/"+itoa(int(rootRow))+"/revisions", nil)
	if status != http.StatusForbidden {
		t.Fatalf("foreign row revisions status = %d, body %v", status, body)
	}

	status, body = doJSON(t, app, http.MethodGet, "/tables/articles/rows/"+itoa(int(ownRow))+"/revisions", nil)
	if status != http.StatusOK {
		t.Fatalf("own row revisions status = %d, body %v", status, body)
	}
	if body["total"].(float64) != 1 {
		t.Errorf("own revisions total = %v", body["total"])
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
