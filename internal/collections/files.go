package collections

import (
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/activity"
	"slate-backend/internal/engine"
	"slate-backend/internal/schema"
	"slate-backend/internal/storage"
	"slate-backend/internal/store"
)

// FilesHandler serves upload and retrieval of managed files. File metadata
// rows live in the files table and go through the gateway so uploads show
// up in the activity stream.
type FilesHandler struct {
	Gateway *engine.Gateway
	Storage *storage.FileStorage
}

// Upload stores a file from a multipart form or a remote url and creates
// its metadata record.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}

	var info *storage.FileInfo
	title := c.FormValue("title")
	caption := c.FormValue("caption")
	tags := c.FormValue("tags")

	if fh, ferr := c.FormFile("file"); ferr == nil {
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("open upload: %w", err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("read upload: %w", err)
		}
		info, err = h.Storage.Save(fh.Filename, data)
		if err != nil {
			return engine.ErrValidation(err.Error())
		}
		if title == "" {
			title = fh.Filename
		}
	} else if url := c.FormValue("url"); url != "" {
		info, err = h.Storage.SaveFromURL(c.Context(), url)
		if err != nil {
			return engine.ErrValidation(err.Error())
		}
		if title == "" {
			title = info.Name
		}
	} else {
		return engine.ErrValidation("provide a file or a url")
	}

	return h.createRecord(c, user, info, title, caption, tags)
}

// UploadFromLink fetches a remote url and creates its metadata record.
// The url may arrive as a form value or a JSON body.
func (h *FilesHandler) UploadFromLink(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}

	url := c.FormValue("url")
	title := c.FormValue("title")
	caption := c.FormValue("caption")
	tags := c.FormValue("tags")
	if url == "" {
		var body struct {
			URL     string `json:"url"`
			Title   string `json:"title"`
			Caption string `json:"caption"`
			Tags    string `json:"tags"`
		}
		if err := c.BodyParser(&body); err != nil || body.URL == "" {
			return engine.ErrValidation("url is required")
		}
		url, title, caption, tags = body.URL, body.Title, body.Caption, body.Tags
	}

	info, err := h.Storage.SaveFromURL(c.Context(), url)
	if err != nil {
		return engine.ErrValidation(err.Error())
	}
	if title == "" {
		title = info.Name
	}
	return h.createRecord(c, user, info, title, caption, tags)
}

func (h *FilesHandler) createRecord(c *fiber.Ctx, user *schema.UserContext, info *storage.FileInfo, title, caption, tags string) error {
	payload := map[string]any{
		"status":          schema.StatusActive,
		"name":            info.Name,
		"title":           title,
		"location":        info.Path,
		"caption":         caption,
		"type":            info.Mime,
		"tags":            tags,
		"width":           info.Width,
		"height":          info.Height,
		"size":            info.Size,
		"user_id":         user.ID,
		"storage_adapter": "local",
	}

	id, err := h.Gateway.ManageRecordUpdate(c.Context(), user, "_files", payload, engine.WriteOptions{
		LoggedIP:   c.IP(),
		Action:     activity.ActionFileUpload,
		Identifier: info.Name,
	})
	if err != nil {
		return err
	}

	row, err := h.Gateway.GetEntry(c.Context(), user, "_files", id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

// GetFile returns a file's metadata record.
func (h *FilesHandler) GetFile(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.ErrBadRequest("invalid id")
	}
	row, err := h.Gateway.GetEntry(c.Context(), user, "_files", int64(id))
	if err != nil {
		return err
	}
	return c.JSON(row)
}

// Download streams a stored file's content.
func (h *FilesHandler) Download(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.ErrBadRequest("invalid id")
	}

	row, err := h.Gateway.GetEntry(c.Context(), user, "_files", int64(id))
	if err != nil {
		return err
	}

	name := store.ToString(row["name"])
	f, err := h.Storage.Open(name)
	if err != nil {
		return engine.ErrRecordNotFound("_files content")
	}
	if mime := store.ToString(row["type"]); mime != "" {
		c.Set(fiber.HeaderContentType, mime)
	}
	return c.SendStream(f)
}
