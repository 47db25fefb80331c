package collections

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/engine"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// defaultVisibleColumns caps the synthesized column list for a table the
// user has never opened.
const defaultVisibleColumns = 6

// PreferencesHandler serves per-user listing preferences.
type PreferencesHandler struct {
	Store   *store.Store
	Catalog *schema.Catalog
}

// GetPreference returns the user's stored preference for a table,
// creating and persisting a default when none exists.
func (h *PreferencesHandler) GetPreference(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")
	if err := schema.ValidateTableName(tableName); err != nil {
		return engine.ErrBadRequest("invalid table name")
	}

	d := h.Store.Dialect
	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _preferences WHERE user_id = %s AND table_name = %s AND title IS NULL",
			d.Placeholder(1), d.Placeholder(2)),
		user.ID, tableName)
	if err == nil {
		return c.JSON(row)
	}
	if err != store.ErrNotFound {
		return fmt.Errorf("load preference: %w", err)
	}

	created, err := h.createDefault(c.Context(), user.ID, tableName)
	if err != nil {
		return err
	}
	return c.JSON(created)
}

// SavePreference upserts the user's preference for a table. A payload with
// a title saves a named snapshot instead of the default view.
func (h *PreferencesHandler) SavePreference(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")
	if err := schema.ValidateTableName(tableName); err != nil {
		return engine.ErrBadRequest("invalid table name")
	}

	var payload struct {
		ID             int64   `json:"id"`
		Title          *string `json:"title"`
		ColumnsVisible string  `json:"columns_visible"`
		Sort           string  `json:"sort"`
		SortOrder      string  `json:"sort_order"`
		StatusFilter   string  `json:"status_filter"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return engine.ErrBadRequest("invalid preference payload")
	}
	if payload.Sort == "" {
		payload.Sort = "id"
	}
	if strings.ToUpper(payload.SortOrder) != "DESC" {
		payload.SortOrder = "ASC"
	} else {
		payload.SortOrder = "DESC"
	}

	d := h.Store.Dialect
	if payload.ID > 0 {
		_, err := store.Exec(c.Context(), h.Store.DB,
			fmt.Sprintf(`UPDATE _preferences SET
    title = %s, columns_visible = %s, sort = %s, sort_order = %s, status_filter = %s
WHERE id = %s AND user_id = %s`,
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
				d.Placeholder(4), d.Placeholder(5), d.Placeholder(6), d.Placeholder(7)),
			titleValue(payload.Title), payload.ColumnsVisible, payload.Sort,
			payload.SortOrder, payload.StatusFilter, payload.ID, user.ID)
		if err != nil {
			return fmt.Errorf("update preference: %w", err)
		}
	} else {
		id, err := store.InsertWithID(c.Context(), h.Store.DB, d,
			fmt.Sprintf(`INSERT INTO _preferences
    (user_id, table_name, title, columns_visible, sort, sort_order, status_filter)
VALUES (%s, %s, %s, %s, %s, %s, %s)`,
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
				d.Placeholder(4), d.Placeholder(5), d.Placeholder(6), d.Placeholder(7)),
			user.ID, tableName, titleValue(payload.Title), payload.ColumnsVisible,
			payload.Sort, payload.SortOrder, payload.StatusFilter)
		if err != nil {
			return fmt.Errorf("insert preference: %w", err)
		}
		payload.ID = id
	}

	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _preferences WHERE id = %s", d.Placeholder(1)),
		payload.ID)
	if err != nil {
		return engine.MapStoreError(err, "_preferences")
	}
	return c.JSON(row)
}

// ListSnapshots returns the user's named preference snapshots for a table.
func (h *PreferencesHandler) ListSnapshots(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")
	if err := schema.ValidateTableName(tableName); err != nil {
		return engine.ErrBadRequest("invalid table name")
	}

	d := h.Store.Dialect
	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _preferences WHERE user_id = %s AND table_name = %s AND title IS NOT NULL ORDER BY title",
			d.Placeholder(1), d.Placeholder(2)),
		user.ID, tableName)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": rows})
}

// DeleteSnapshot removes one of the user's own preference rows.
func (h *PreferencesHandler) DeleteSnapshot(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.ErrBadRequest("invalid id")
	}

	d := h.Store.Dialect
	affected, err := store.Exec(c.Context(), h.Store.DB,
		fmt.Sprintf("DELETE FROM _preferences WHERE id = %s AND user_id = %s",
			d.Placeholder(1), d.Placeholder(2)),
		int64(id), user.ID)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	if affected == 0 {
		return engine.ErrRecordNotFound("_preferences")
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *PreferencesHandler) createDefault(ctx context.Context, userID int64, tableName string) (map[string]any, error) {
	t, err := h.Catalog.Describe(ctx, h.Store.DB, tableName)
	if err != nil {
		return nil, engine.MapStoreError(err, tableName)
	}

	var visible []string
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.HiddenInput || col.Name == t.PrimaryKey() || col.Name == schema.StatusColumn {
			continue
		}
		visible = append(visible, col.Name)
		if len(visible) >= defaultVisibleColumns {
			break
		}
	}

	d := h.Store.Dialect
	id, err := store.InsertWithID(ctx, h.Store.DB, d,
		fmt.Sprintf(`INSERT INTO _preferences
    (user_id, table_name, title, columns_visible, sort, sort_order, status_filter)
VALUES (%s, %s, NULL, %s, %s, %s, %s)`,
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
			d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
		userID, tableName, strings.Join(visible, ","), t.PrimaryKey(), "ASC", "")
	if err != nil {
		return nil, fmt.Errorf("create default preference: %w", err)
	}

	return store.QueryRow(ctx, h.Store.DB,
		fmt.Sprintf("SELECT * FROM _preferences WHERE id = %s", d.Placeholder(1)), id)
}

func titleValue(title *string) any {
	if title == nil || *title == "" {
		return nil
	}
	return *title
}
