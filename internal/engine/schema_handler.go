package engine

import (
	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/schema"
)

// ListColumns returns the merged column descriptors of a table.
func (h *Handler) ListColumns(c *fiber.Ctx) error {
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
	return c.JSON(fiber.Map{"columns": t.Columns})
}

// GetColumn returns one column descriptor.
func (h *Handler) GetColumn(c *fiber.Ctx) error {
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
	col := t.GetColumn(c.Params("column"))
	if col == nil {
		return ErrRecordNotFound(tableName + " column")
	}
	return c.JSON(col)
}

// CreateColumn adds a column to a table. The physical column is created
// when missing; many-to-many columns exist only in the catalog. Requires
// alter.
func (h *Handler) CreateColumn(c *fiber.Ctx) error {
	return h.upsertColumn(c, "")
}

// UpdateColumn rewrites a column's metadata. Requires alter.
func (h *Handler) UpdateColumn(c *fiber.Ctx) error {
	return h.upsertColumn(c, c.Params("column"))
}

func (h *Handler) upsertColumn(c *fiber.Ctx, columnName string) error {
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

	var col schema.Column
	if err := c.BodyParser(&col); err != nil {
		return ErrBadRequest("invalid column payload")
	}
	col.TableName = tableName
	if columnName != "" {
		col.Name = columnName
	}
	if col.Name == "" {
		return ErrValidation("column_name is required")
	}
	if col.RelationshipType == schema.RelNone && col.DataType == "" {
		return ErrValidation("data_type is required")
	}

	if err := h.Gateway.Catalog.UpsertColumn(c.Context(), &col); err != nil {
		return MapStoreError(err, tableName)
	}

	status := fiber.StatusOK
	if columnName == "" {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(col)
}
