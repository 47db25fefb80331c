package collections

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/engine"
	"slate-backend/internal/store"
)

// SettingsHandler serves namespaced key/value configuration.
type SettingsHandler struct {
	Store *store.Store
}

// ListSettings returns all settings grouped by collection.
func (h *SettingsHandler) ListSettings(c *fiber.Ctx) error {
	if _, err := engine.RequireUser(c); err != nil {
		return err
	}

	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		"SELECT * FROM _settings ORDER BY collection, name")
	if err != nil {
		return fmt.Errorf("list settings: %w", err)
	}

	grouped := make(map[string]map[string]string)
	for _, row := range rows {
		coll := store.ToString(row["collection"])
		if grouped[coll] == nil {
			grouped[coll] = make(map[string]string)
		}
		grouped[coll][store.ToString(row["name"])] = store.ToString(row["value"])
	}
	return c.JSON(grouped)
}

// GetCollection returns one settings namespace as a flat map.
func (h *SettingsHandler) GetCollection(c *fiber.Ctx) error {
	if _, err := engine.RequireUser(c); err != nil {
		return err
	}
	collection := c.Params("collection")

	d := h.Store.Dialect
	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT name, value FROM _settings WHERE collection = %s ORDER BY name",
			d.Placeholder(1)),
		collection)
	if err != nil {
		return fmt.Errorf("load settings %s: %w", collection, err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[store.ToString(row["name"])] = store.ToString(row["value"])
	}
	return c.JSON(out)
}

// SaveCollection upserts key/value pairs into a settings namespace. Root
// only.
func (h *SettingsHandler) SaveCollection(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	if !user.IsRoot() {
		return engine.ErrPermissionDenied("edit", "_settings")
	}
	collection := c.Params("collection")

	var payload map[string]string
	if err := c.BodyParser(&payload); err != nil {
		return engine.ErrBadRequest("invalid settings payload")
	}

	tx, err := h.Store.BeginTx(c.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d := h.Store.Dialect
	for name, value := range payload {
		affected, err := store.Exec(c.Context(), tx,
			fmt.Sprintf("UPDATE _settings SET value = %s WHERE collection = %s AND name = %s",
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3)),
			value, collection, name)
		if err != nil {
			return fmt.Errorf("update setting %s: %w", name, err)
		}
		if affected == 0 {
			_, err = store.Exec(c.Context(), tx,
				fmt.Sprintf("INSERT INTO _settings (collection, name, value) VALUES (%s, %s, %s)",
					d.Placeholder(1), d.Placeholder(2), d.Placeholder(3)),
				collection, name, value)
			if err != nil {
				return fmt.Errorf("insert setting %s: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return h.GetCollection(c)
}
