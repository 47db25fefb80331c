package collections

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/engine"
	"slate-backend/internal/store"
)

// GroupsHandler serves the user group directory.
type GroupsHandler struct {
	Store *store.Store
}

// ListGroups returns all groups.
func (h *GroupsHandler) ListGroups(c *fiber.Ctx) error {
	if _, err := engine.RequireUser(c); err != nil {
		return err
	}

	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		"SELECT * FROM _groups ORDER BY id")
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": rows, "total": len(rows)})
}

// GetGroup returns one group with its member users.
func (h *GroupsHandler) GetGroup(c *fiber.Ctx) error {
	if _, err := engine.RequireUser(c); err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.ErrBadRequest("invalid id")
	}

	d := h.Store.Dialect
	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _groups WHERE id = %s", d.Placeholder(1)), id)
	if err != nil {
		return engine.MapStoreError(err, "_groups")
	}

	users, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT id, email, first_name, last_name, status, avatar FROM _users WHERE group_id = %s ORDER BY id",
			d.Placeholder(1)),
		id)
	if err != nil {
		return fmt.Errorf("load group members: %w", err)
	}
	if users == nil {
		users = []map[string]any{}
	}
	row["users"] = users
	return c.JSON(row)
}

// CreateGroup adds a group. Root only.
func (h *GroupsHandler) CreateGroup(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	if !user.IsRoot() {
		return engine.ErrPermissionDenied("add", "_groups")
	}

	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return engine.ErrBadRequest("invalid group payload")
	}
	if payload.Name == "" {
		return engine.ErrValidation("name is required")
	}

	d := h.Store.Dialect
	id, err := store.InsertWithID(c.Context(), h.Store.DB, d,
		fmt.Sprintf("INSERT INTO _groups (name, description) VALUES (%s, %s)",
			d.Placeholder(1), d.Placeholder(2)),
		payload.Name, payload.Description)
	if err != nil {
		return engine.MapStoreError(err, "_groups")
	}

	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _groups WHERE id = %s", d.Placeholder(1)), id)
	if err != nil {
		return engine.MapStoreError(err, "_groups")
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}
