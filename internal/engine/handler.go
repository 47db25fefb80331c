package engine

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

const userLocalsKey = "user_context"

// SetCurrentUser stores the authenticated user on the request.
func SetCurrentUser(c *fiber.Ctx, u *schema.UserContext) {
	c.Locals(userLocalsKey, u)
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *fiber.Ctx) *schema.UserContext {
	u, _ := c.Locals(userLocalsKey).(*schema.UserContext)
	return u
}

// RequireUser returns the authenticated user or an unauthorized error.
func RequireUser(c *fiber.Ctx) (*schema.UserContext, error) {
	u := CurrentUser(c)
	if u == nil {
		return nil, ErrUnauthorized("authentication required")
	}
	return u, nil
}

// Handler exposes the dynamic record gateway over HTTP.
type Handler struct {
	Gateway *Gateway
}

func NewHandler(g *Gateway) *Handler {
	return &Handler{Gateway: g}
}

// RegisterRoutes mounts the generic table surface.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Get("/tables", h.ListTables)
	router.Get("/tables/:table", h.GetTable)
	router.Put("/tables/:table", h.UpdateTable)

	router.Get("/tables/:table/rows", h.ListRows)
	router.Post("/tables/:table/rows", h.CreateRow)
	router.Put("/tables/:table/rows", h.BatchUpdateRows)
	router.Get("/tables/:table/rows/:id", h.GetRow)
	router.Put("/tables/:table/rows/:id", h.UpdateRow)
	router.Patch("/tables/:table/rows/:id", h.UpdateRow)
	router.Delete("/tables/:table/rows/:id", h.DeleteRow)
	router.Get("/tables/:table/rows/:id/revisions", h.GetRevisions)

	router.Get("/tables/:table/typeahead", h.Typeahead)

	router.Get("/tables/:table/columns", h.ListColumns)
	router.Post("/tables/:table/columns", h.CreateColumn)
	router.Get("/tables/:table/columns/:column", h.GetColumn)
	router.Put("/tables/:table/columns/:column", h.UpdateColumn)
}

// ListTables returns the non-system tables the user may view.
func (h *Handler) ListTables(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	tables, err := h.Gateway.Catalog.ListTables(c.Context(), h.Gateway.Store.DB)
	if err != nil {
		return err
	}

	var visible []*schema.Table
	for _, t := range tables {
		if user.IsRoot() {
			visible = append(visible, t)
			continue
		}
		priv, err := h.Gateway.Catalog.PrivilegeFor(c.Context(), h.Gateway.Store.DB, user.GroupID, t.Name)
		if err != nil {
			return err
		}
		if ScopeFor(priv, OpView) != ScopeNone {
			visible = append(visible, t)
		}
	}
	if visible == nil {
		visible = []*schema.Table{}
	}
	return c.JSON(fiber.Map{"tables": visible})
}

// GetTable returns the full table descriptor.
func (h *Handler) GetTable(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")

	priv, err := h.Gateway.Catalog.PrivilegeFor(c.Context(), h.Gateway.Store.DB, user.GroupID, tableName)
	if err != nil {
		return err
	}
	if !user.IsRoot() {
		if err := Authorize(priv, OpView, tableName); err != nil {
			return err
		}
	}

	t, err := h.Gateway.describe(c.Context(), h.Gateway.Store.DB, tableName)
	if err != nil {
		return err
	}
	return c.JSON(t)
}

// UpdateTable writes the table presentation flags. Requires alter.
func (h *Handler) UpdateTable(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")

	priv, err := h.Gateway.Catalog.PrivilegeFor(c.Context(), h.Gateway.Store.DB, user.GroupID, tableName)
	if err != nil {
		return err
	}
	if err := RequireAlter(user, priv); err != nil {
		return err
	}

	var t schema.Table
	if err := c.BodyParser(&t); err != nil {
		return ErrBadRequest("invalid table payload")
	}
	t.Name = tableName
	if err := h.Gateway.Catalog.UpsertTableMeta(c.Context(), &t); err != nil {
		return MapStoreError(err, tableName)
	}

	updated, err := h.Gateway.describe(c.Context(), h.Gateway.Store.DB, tableName)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

// ListRows returns the filtered rows of a table.
func (h *Handler) ListRows(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	res, err := h.Gateway.GetEntries(c.Context(), user, c.Params("table"), ParseListParams(c))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// GetRow returns one row by primary key.
func (h *Handler) GetRow(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return ErrBadRequest("invalid id")
	}
	row, err := h.Gateway.GetEntry(c.Context(), user, c.Params("table"), int64(id))
	if err != nil {
		return err
	}
	return c.JSON(row)
}

// CreateRow inserts a record, resolving nested relational payloads.
func (h *Handler) CreateRow(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")

	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return ErrBadRequest("invalid record payload")
	}

	id, err := h.Gateway.ManageRecordUpdate(c.Context(), user, tableName, payload, writeOptions(c))
	if err != nil {
		return err
	}

	row, err := h.Gateway.GetEntry(c.Context(), user, tableName, id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

// UpdateRow writes a record by primary key.
func (h *Handler) UpdateRow(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")
	id, err := c.ParamsInt("id")
	if err != nil {
		return ErrBadRequest("invalid id")
	}

	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return ErrBadRequest("invalid record payload")
	}

	t, err := h.Gateway.describe(c.Context(), h.Gateway.Store.DB, tableName)
	if err != nil {
		return err
	}
	payload[t.PrimaryKey()] = int64(id)

	if _, err := h.Gateway.ManageRecordUpdate(c.Context(), user, tableName, payload, writeOptions(c)); err != nil {
		return err
	}

	row, err := h.Gateway.GetEntry(c.Context(), user, tableName, int64(id))
	if err != nil {
		return err
	}
	return c.JSON(row)
}

// BatchUpdateRows writes an array of records in one transaction.
func (h *Handler) BatchUpdateRows(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")

	var body struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := c.BodyParser(&body); err != nil {
		return ErrBadRequest("invalid batch payload")
	}
	if len(body.Rows) == 0 {
		return ErrValidation("rows must not be empty")
	}

	ids, err := h.Gateway.ManageCollectionUpdate(c.Context(), user, tableName, body.Rows, writeOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ids": ids})
}

// DeleteRow soft-deletes the record, or removes it when the table has no
// status column.
func (h *Handler) DeleteRow(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return ErrBadRequest("invalid id")
	}

	affected, err := h.Gateway.Delete(c.Context(), user, c.Params("table"), int64(id), writeOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "affected": affected})
}

// GetRevisions returns the change history of one row, oldest first.
func (h *Handler) GetRevisions(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")
	id, err := c.ParamsInt("id")
	if err != nil {
		return ErrBadRequest("invalid id")
	}

	priv, err := h.Gateway.Catalog.PrivilegeFor(c.Context(), h.Gateway.Store.DB, user.GroupID, tableName)
	if err != nil {
		return err
	}
	if err := Authorize(priv, OpView, tableName); err != nil {
		return err
	}
	if ScopeFor(priv, OpView) == ScopeOwn {
		t, err := h.Gateway.describe(c.Context(), h.Gateway.Store.DB, tableName)
		if err != nil {
			return err
		}
		d := h.Gateway.Store.Dialect
		row, err := store.QueryRow(c.Context(), h.Gateway.Store.DB,
			fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", t.Name, t.PrimaryKey(), d.Placeholder(1)),
			int64(id))
		if err != nil {
			return MapStoreError(err, tableName)
		}
		if !OwnsRow(user, t, row) {
			return ErrPermissionDenied(OpView, tableName)
		}
	}

	revisions, err := h.Gateway.Recorder.Revisions(c.Context(), tableName, int64(id))
	if err != nil {
		return err
	}
	if revisions == nil {
		revisions = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": revisions, "total": len(revisions)})
}

// Typeahead searches a prefix across the requested columns and returns
// matching rows limited to those columns.
func (h *Handler) Typeahead(c *fiber.Ctx) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return ErrBadRequest("missing query")
	}
	var cols []string
	for _, col := range strings.Split(c.Query("columns", "id"), ",") {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if err := schema.ValidateTableName(col); err != nil {
			return ErrBadRequest("invalid column name: " + col)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return ErrBadRequest("missing columns")
	}

	t, err := h.Gateway.describe(c.Context(), h.Gateway.Store.DB, tableName)
	if err != nil {
		return err
	}
	priv, err := h.Gateway.Catalog.PrivilegeFor(c.Context(), h.Gateway.Store.DB, user.GroupID, tableName)
	if err != nil {
		return err
	}
	if err := Authorize(priv, OpView, tableName); err != nil {
		return err
	}

	d := h.Gateway.Store.Dialect
	pb := d.NewParamBuilder()
	var likes []string
	for _, col := range cols {
		likes = append(likes, fmt.Sprintf("%s LIKE %s", col, pb.Add(q+"%")))
	}
	where := "(" + strings.Join(likes, " OR ") + ")"
	if t.HasStatusColumn() {
		where += fmt.Sprintf(" AND %s = %s", schema.StatusColumn, pb.Add(schema.StatusActive))
	}
	if ScopeFor(priv, OpView) == ScopeOwn {
		ownerCol := t.OwnerColumn()
		if ownerCol == "" {
			return ErrPermissionDenied(OpView, tableName)
		}
		where += fmt.Sprintf(" AND %s = %s", ownerCol, pb.Add(user.ID))
	}

	selectCols := []string{t.PrimaryKey()}
	for _, col := range cols {
		if col != t.PrimaryKey() {
			selectCols = append(selectCols, col)
		}
	}
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 50",
		strings.Join(selectCols, ", "), t.Name, where)
	rows, err := store.QueryRows(c.Context(), h.Gateway.Store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("typeahead %s: %w", tableName, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": rows})
}

func writeOptions(c *fiber.Ctx) WriteOptions {
	return WriteOptions{
		SkipActivity: c.Query("skip_activity_log") == "1",
		LoggedIP:     c.IP(),
	}
}
