package collections

import (
	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/activity"
	"slate-backend/internal/engine"
)

// ActivityHandler serves the recent activity feed.
type ActivityHandler struct {
	Recorder *activity.Recorder
}

// Feed returns recent activity, newest first. The window defaults to the
// last 30 days.
func (h *ActivityHandler) Feed(c *fiber.Ctx) error {
	if _, err := engine.RequireUser(c); err != nil {
		return err
	}

	days := c.QueryInt("days", activity.FeedDays)
	limit := c.QueryInt("per_page", 200)
	rows, err := h.Recorder.Feed(c.Context(), days, limit)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": rows, "total": len(rows)})
}
