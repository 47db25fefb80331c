package collections

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/activity"
	"slate-backend/internal/engine"
	"slate-backend/internal/mail"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// MessagesHandler serves the internal messaging surface.
type MessagesHandler struct {
	Store    *store.Store
	Recorder *activity.Recorder
	Notifier mail.Notifier
}

// ParseRecipientTokens splits a recipient string into user and group ids.
// A "0_<id>" token addresses a single user; a bare id addresses a group.
func ParseRecipientTokens(s string) (userIDs, groupIDs []int64) {
	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(token, "0_"); ok {
			if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
				userIDs = append(userIDs, id)
			}
			continue
		}
		if id, err := strconv.ParseInt(token, 10, 64); err == nil {
			groupIDs = append(groupIDs, id)
		}
	}
	return userIDs, groupIDs
}

var mentionRe = regexp.MustCompile(`@\[(\d+)[^\]]*\]`)

// parseMentions extracts user ids from @[id name] markers in a comment.
func parseMentions(text string) []int64 {
	var ids []int64
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

type sendRequest struct {
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	ResponseTo int64  `json:"response_to"`
}

// SendMessage fans a message out to its recipients. Group tokens expand to
// the group's active members, duplicates collapse and the sender always
// receives a copy, already marked read.
func (h *MessagesHandler) SendMessage(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}

	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.ErrBadRequest("invalid message payload")
	}
	if req.Message == "" {
		return engine.ErrValidation("message is required")
	}

	userIDs, groupIDs := ParseRecipientTokens(req.To)
	if len(userIDs) == 0 && len(groupIDs) == 0 {
		return engine.ErrValidation("at least one recipient is required")
	}

	id, err := h.deliver(c.Context(), user, req.Subject, req.Message, "", req.ResponseTo, userIDs, groupIDs, c.IP())
	if err != nil {
		return err
	}

	row, err := h.messageByID(c.Context(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

// Inbox returns the user's messages, newest first, with the read flag and
// the unread count.
func (h *MessagesHandler) Inbox(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}

	d := h.Store.Dialect
	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf(`SELECT m.*, r.read, r.id AS recipient_id
FROM _messages m
JOIN _message_recipients r ON r.message_id = m.id
WHERE r.recipient_id = %s
ORDER BY m.id DESC`, d.Placeholder(1)),
		user.ID)
	if err != nil {
		return fmt.Errorf("load inbox: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	unread := 0
	for _, row := range rows {
		if !store.ToBool(row["read"]) {
			unread++
		}
	}
	return c.JSON(fiber.Map{"rows": rows, "total": len(rows), "unread": unread})
}

// GetMessage returns one of the user's messages and marks it read.
func (h *MessagesHandler) GetMessage(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.ErrBadRequest("invalid id")
	}

	d := h.Store.Dialect
	row, err := store.QueryRow(c.Context(), h.Store.DB,
		fmt.Sprintf(`SELECT m.*, r.read
FROM _messages m
JOIN _message_recipients r ON r.message_id = m.id
WHERE m.id = %s AND r.recipient_id = %s`,
			d.Placeholder(1), d.Placeholder(2)),
		id, user.ID)
	if err != nil {
		return engine.MapStoreError(err, "_messages")
	}

	_, err = store.Exec(c.Context(), h.Store.DB,
		fmt.Sprintf("UPDATE _message_recipients SET read = 1 WHERE message_id = %s AND recipient_id = %s",
			d.Placeholder(1), d.Placeholder(2)),
		id, user.ID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	row["read"] = int64(1)

	// Attach the thread when this message has responses.
	responses, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _messages WHERE response_to = %s ORDER BY id", d.Placeholder(1)),
		id)
	if err != nil {
		return fmt.Errorf("load responses: %w", err)
	}
	if responses != nil {
		row["responses"] = responses
	}
	return c.JSON(row)
}

// ListComments returns the comment thread attached to one record.
func (h *MessagesHandler) ListComments(c *fiber.Ctx) error {
	if _, err := engine.RequireUser(c); err != nil {
		return err
	}
	tableName := c.Params("table")
	if err := schema.ValidateTableName(tableName); err != nil {
		return engine.ErrBadRequest("invalid table name")
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.ErrBadRequest("invalid id")
	}

	d := h.Store.Dialect
	rows, err := store.QueryRows(c.Context(), h.Store.DB,
		fmt.Sprintf("SELECT * FROM _messages WHERE comment_metadata = %s ORDER BY id", d.Placeholder(1)),
		commentMetadata(tableName, int64(id)))
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"rows": rows, "total": len(rows)})
}

// AddComment attaches a comment to a record. Mentioned users receive the
// comment as a message.
func (h *MessagesHandler) AddComment(c *fiber.Ctx) error {
	user, err := engine.RequireUser(c)
	if err != nil {
		return err
	}
	tableName := c.Params("table")
	if err := schema.ValidateTableName(tableName); err != nil {
		return engine.ErrBadRequest("invalid table name")
	}
	id, err := c.ParamsInt("id")
	if err != nil {
		return engine.ErrBadRequest("invalid id")
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil {
		return engine.ErrBadRequest("invalid comment payload")
	}
	if req.Message == "" {
		return engine.ErrValidation("message is required")
	}

	subject := fmt.Sprintf("Comment on %s #%d", tableName, id)
	msgID, err := h.deliver(c.Context(), user, subject, req.Message,
		commentMetadata(tableName, int64(id)), 0, parseMentions(req.Message), nil, c.IP())
	if err != nil {
		return err
	}

	row, err := h.messageByID(c.Context(), msgID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (h *MessagesHandler) deliver(ctx context.Context, sender *schema.UserContext, subject, message, metadata string, responseTo int64, userIDs, groupIDs []int64, ip string) (int64, error) {
	recipients, err := FindActiveUserIDs(ctx, h.Store, userIDs, groupIDs)
	if err != nil {
		return 0, err
	}

	tx, err := h.Store.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	d := h.Store.Dialect
	var respond any
	if responseTo > 0 {
		respond = responseTo
	}
	id, err := store.InsertWithID(ctx, tx, d,
		fmt.Sprintf(`INSERT INTO _messages (from_id, subject, message, datetime, response_to, comment_metadata)
VALUES (%s, %s, %s, %s, %s, %s)`,
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
			d.NowExpr(), d.Placeholder(4), d.Placeholder(5)),
		sender.ID, subject, message, respond, metadata)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	seen := map[int64]bool{sender.ID: true}
	insertRecipient := fmt.Sprintf(
		"INSERT INTO _message_recipients (message_id, recipient_id, read) VALUES (%s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	if _, err := store.Exec(ctx, tx, insertRecipient, id, sender.ID, 1); err != nil {
		return 0, fmt.Errorf("insert sender copy: %w", err)
	}
	for _, rid := range recipients {
		if seen[rid] {
			continue
		}
		seen[rid] = true
		if _, err := store.Exec(ctx, tx, insertRecipient, id, rid, 0); err != nil {
			return 0, fmt.Errorf("insert recipient: %w", err)
		}
	}

	_, err = h.Recorder.Record(ctx, tx, activity.Entry{
		Action:     activity.ActionMessage,
		TableName:  "_messages",
		RowID:      id,
		UserID:     sender.ID,
		Identifier: subject,
		LoggedIP:   ip,
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit message: %w", err)
	}

	h.notifyByEmail(ctx, sender, subject, message, recipients)
	return id, nil
}

// notifyByEmail forwards the message to recipients who opted in. Delivery
// failures do not fail the send.
func (h *MessagesHandler) notifyByEmail(ctx context.Context, sender *schema.UserContext, subject, message string, recipients []int64) {
	if len(recipients) == 0 {
		return
	}

	d := h.Store.Dialect
	pb := d.NewParamBuilder()
	vals := make([]any, 0, len(recipients))
	for _, id := range recipients {
		if id != sender.ID {
			vals = append(vals, id)
		}
	}
	if len(vals) == 0 {
		return
	}
	inExpr := d.InExpr("id", pb, vals)
	rows, err := store.QueryRows(ctx, h.Store.DB,
		fmt.Sprintf("SELECT email FROM _users WHERE %s AND email_messages = 1", inExpr),
		pb.Params()...)
	if err != nil {
		return
	}
	for _, row := range rows {
		_ = h.Notifier.Send(store.ToString(row["email"]), subject, message)
	}
}

func (h *MessagesHandler) messageByID(ctx context.Context, id int64) (map[string]any, error) {
	d := h.Store.Dialect
	row, err := store.QueryRow(ctx, h.Store.DB,
		fmt.Sprintf("SELECT * FROM _messages WHERE id = %s", d.Placeholder(1)), id)
	if err != nil {
		return nil, engine.MapStoreError(err, "_messages")
	}
	return row, nil
}

func commentMetadata(tableName string, id int64) string {
	return fmt.Sprintf("%s:%d", tableName, id)
}
