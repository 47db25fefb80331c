package collections

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/engine"
	"slate-backend/internal/store"
)

// BookmarksHandler serves the user's saved navigation shortcuts.
type BookmarksHandler struct {
	Store *store.Store
}

// ListBookmarks returns the user's own bookmarks.
func (h *BookmarksHandler) ListBookmarks(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}

	d := h.Store.Dialect
	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _bookmarks WHERE user_id = %s ORDER BY title", d.Placeholder(1)),
		user.ID)
	if err != nil {
		return fmt.Errorf("list bookmarks: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": rows})
}

// CreateBookmark saves a shortcut for the user.
func (h *BookmarksHandler) CreateBookmark(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}

	var payload struct {
		Title     string `json:"title"`
		URL       string `json:"url"`
		IconClass string `json:"icon_class"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return engine.ErrBadRequest("invalid bookmark payload")
	}
	if payload.Title == "" || payload.URL == "" {
		return engine.ErrValidation("title and url are required")
	}

	d := h.Store.Dialect
	id, err := store.InsertWithID(c.Context(), h.Store.DB, d,
		fmt.Sprintf("INSERT INTO _bookmarks (user_id, title, url, icon_class) VALUES (%s, %s, %s, %s)",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4)),
		user.ID, payload.Title, payload.URL, payload.IconClass)
	if err != nil {
		return fmt.Errorf("create bookmark: %w", err)
	}

	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _bookmarks WHERE id = %s", d.Placeholder(1)), id)
	if err != nil {
		return engine.MapStoreError(err, "_bookmarks")
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

// DeleteBookmark removes one of the user's own bookmarks.
func (h *BookmarksHandler) DeleteBookmark(c *fiber.Ctx) error {
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
		fmt.Sprintf("DELETE FROM _bookmarks WHERE id = %s AND user_id = %s",
			d.Placeholder(1), d.Placeholder(2)),
		id, user.ID)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if affected == 0 {
		return engine.ErrRecordNotFound("_bookmarks")
	}
	return c.JSON(fiber.Map{"success": true})
}
