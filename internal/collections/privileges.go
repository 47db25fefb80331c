package collections

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/engine"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// PrivilegesHandler administers group grants. The whole surface is
// restricted to the root group.
type PrivilegesHandler struct {
	Store   *store.Store
	Catalog *schema.Catalog
}

func (h *PrivilegesHandler) requireRoot(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	if !user.IsRoot() {
		return engine.ErrPermissionDenied("administer", "_privileges")
	}
	return nil
}

// ListGroupPrivileges returns one row per managed table for a group,
// synthesizing empty grants for tables without a stored row.
func (h *PrivilegesHandler) ListGroupPrivileges(c *fiber.Ctx) error {
	if err := h.requireRoot(c); err != nil {
		return err
	}
	groupID, err := c.ParamsInt("groupId")
	if err != nil {
		return engine.ErrBadRequest("invalid group id")
	}

	d := h.Store.Dialect
	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _privileges WHERE group_id = %s", d.Placeholder(1)),
		groupID)
	if err != nil {
		return fmt.Errorf("list privileges: %w", err)
	}

	stored := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		stored[store.ToString(row["table_name"])] = row
	}

	tables, err := h.Catalog.ListTables(c.Context(), h.Store.DB)
	if err != nil {
		return err
	}

	var out []map[string]any
	for _, t := range tables {
		if row, ok := stored[t.Name]; ok {
			out = append(out, row)
			delete(stored, t.Name)
			continue
		}
		out = append(out, map[string]any{
			"id":                    nil,
			"group_id":              int64(groupID),
			"table_name":            t.Name,
			"permissions":           "",
			"read_field_blacklist":  "",
			"write_field_blacklist": "",
			"status_id":             "",
		})
	}
	// Grants on system tables have no catalog entry but still show up.
	for _, row := range stored {
		out = append(out, row)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": out})
}

type privilegePayload struct {
	TableName           string `json:"table_name"`
	Permissions         string `json:"permissions"`
	ReadFieldBlacklist  string `json:"read_field_blacklist"`
	WriteFieldBlacklist string `json:"write_field_blacklist"`
	StatusID            string `json:"status_id"`
	AddTable            bool   `json:"add_table"`
}

// SaveGroupPrivilege creates or replaces a group's grant on a table. With
// add_table set, a missing table is created first; a failure there logs
// and continues so the grant row still lands.
func (h *PrivilegesHandler) SaveGroupPrivilege(c *fiber.Ctx) error {
	if err := h.requireRoot(c); err != nil {
		return err
	}
	groupID, err := c.ParamsInt("groupId")
	if err != nil {
		return engine.ErrBadRequest("invalid group id")
	}

	var payload privilegePayload
	if err := c.BodyParser(&payload); err != nil {
		return engine.ErrBadRequest("invalid privilege payload")
	}
	if err := schema.ValidateTableName(payload.TableName); err != nil {
		return engine.ErrBadRequest("invalid table name")
	}

	if payload.AddTable {
		exists, err := h.Store.Dialect.TableExists(c.Context(), h.Store.DB, payload.TableName)
		if err != nil {
			return err
		}
		if !exists {
			if err := h.Catalog.CreateTable(c.Context(), payload.TableName); err != nil {
				log.Printf("create table %s failed, saving grant anyway: %v", payload.TableName, err)
			}
		}
	}

	d := h.Store.Dialect
	existing, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT id FROM _privileges WHERE group_id = %s AND table_name = %s",
			d.Placeholder(1), d.Placeholder(2)),
		groupID, payload.TableName)
	if err != nil && err != store.ErrNotFound {
		return err
	}

	var id int64
	if err == store.ErrNotFound {
		id, err = store.InsertWithID(c.Context(), h.Store.DB, d,
			fmt.Sprintf(`INSERT INTO _privileges
    (group_id, table_name, permissions, read_field_blacklist, write_field_blacklist, status_id)
VALUES (%s, %s, %s, %s, %s, %s)`,
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
				d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
			groupID, payload.TableName, payload.Permissions,
			payload.ReadFieldBlacklist, payload.WriteFieldBlacklist, payload.StatusID)
		if err != nil {
			return fmt.Errorf("insert privilege: %w", err)
		}
	} else {
		id = store.ToInt64(existing["id"])
		_, err = store.Exec(c.Context(), h.Store.DB,
			fmt.Sprintf(`UPDATE _privileges SET
    permissions = %s, read_field_blacklist = %s, write_field_blacklist = %s, status_id = %s
WHERE id = %s`,
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
				d.Placeholder(4), d.Placeholder(5)),
			payload.Permissions, payload.ReadFieldBlacklist,
			payload.WriteFieldBlacklist, payload.StatusID, id)
		if err != nil {
			return fmt.Errorf("update privilege: %w", err)
		}
	}

	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _privileges WHERE id = %s", d.Placeholder(1)), id)
	if err != nil {
		return engine.MapStoreError(err, "_privileges")
	}
	return c.JSON(row)
}

// UpdateGroupPrivilege rewrites one grant row by id.
func (h *PrivilegesHandler) UpdateGroupPrivilege(c *fiber.Ctx) error {
	if err := h.requireRoot(c); err != nil {
		return err
	}
	groupID, err := c.ParamsInt("groupId")
	if err != nil {
		return engine.ErrBadRequest("invalid group id")
	}
	privilegeID, err := c.ParamsInt("privilegeId")
	if err != nil {
		return engine.ErrBadRequest("invalid privilege id")
	}

	var payload privilegePayload
	if err := c.BodyParser(&payload); err != nil {
		return engine.ErrBadRequest("invalid privilege payload")
	}

	d := h.Store.Dialect
	affected, err := store.Exec(c.Context(), h.Store.DB,
		fmt.Sprintf(`UPDATE _privileges SET
    permissions = %s, read_field_blacklist = %s, write_field_blacklist = %s, status_id = %s
WHERE id = %s AND group_id = %s`,
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
			d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
		payload.Permissions, payload.ReadFieldBlacklist,
		payload.WriteFieldBlacklist, payload.StatusID, privilegeID, groupID)
	if err != nil {
		return fmt.Errorf("update privilege: %w", err)
	}
	if affected == 0 {
		return engine.ErrRecordNotFound("_privileges")
	}

	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _privileges WHERE id = %s", d.Placeholder(1)), privilegeID)
	if err != nil {
		return engine.MapStoreError(err, "_privileges")
	}
	return c.JSON(row)
}
