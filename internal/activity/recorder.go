package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"slate-backend/internal/store"
)

// Actions recorded in the activity stream.
const (
	ActionAdd        = "ADD"
	ActionUpdate     = "UPDATE"
	ActionDelete     = "DELETE"
	ActionLogin      = "LOGIN"
	ActionMessage    = "MESSAGE"
	ActionFileUpload = "UPLOAD"
)

// FeedDays is the default lookback window for the activity feed.
const FeedDays = 30

// Entry is one activity row to record.
type Entry struct {
	Action     string
	TableName  string
	RowID      int64
	UserID     int64
	ParentID   *int64
	Data       map[string]any
	Identifier string
	LoggedIP   string
}

// Recorder writes and reads the activity stream.
type Recorder struct {
	Store *store.Store
}

func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{Store: s}
}

// Record writes one entry inside the caller's transaction and returns the
// activity id. The payload snapshot is stored as JSON.
func (r *Recorder) Record(ctx context.Context, q store.Querier, e Entry) (int64, error) {
	data := ""
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return 0, fmt.Errorf("marshal activity data: %w", err)
		}
		data = string(raw)
	}

	d := r.Store.Dialect
	sqlStr := fmt.Sprintf(
		`INSERT INTO _activity (action, table_name, row_id, user_id, parent_id, data, identifier, logged_ip, datetime)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4),
		d.Placeholder(5), d.Placeholder(6), d.Placeholder(7), d.Placeholder(8),
		d.NowExpr())

	var parent any
	if e.ParentID != nil {
		parent = *e.ParentID
	}
	id, err := store.InsertWithID(ctx, q, d, sqlStr,
		e.Action, e.TableName, e.RowID, e.UserID, parent, data, e.Identifier, e.LoggedIP)
	if err != nil {
		return 0, fmt.Errorf("record activity: %w", err)
	}
	return id, nil
}

// RecordLogin writes a login marker for the user.
func (r *Recorder) RecordLogin(ctx context.Context, userID int64, ip string) error {
	_, err := r.Record(ctx, r.Store.DB, Entry{
		Action:    ActionLogin,
		TableName: "_users",
		RowID:     userID,
		UserID:    userID,
		LoggedIP:  ip,
	})
	return err
}

// Feed returns recent activity, newest first, within the lookback window.
func (r *Recorder) Feed(ctx context.Context, days, limit int) ([]map[string]any, error) {
	if days <= 0 {
		days = FeedDays
	}
	if limit <= 0 {
		limit = 200
	}

	d := r.Store.Dialect
	var cutoff string
	if d.Name() == "sqlite" {
		cutoff = fmt.Sprintf("datetime('now', '-%d days')", days)
	} else {
		cutoff = fmt.Sprintf("NOW() - INTERVAL '%d days'", days)
	}

	sqlStr := fmt.Sprintf(
		"SELECT * FROM _activity WHERE datetime >= %s ORDER BY id DESC LIMIT %d",
		cutoff, limit)
	return store.QueryRows(ctx, r.Store.DB, sqlStr)
}

// Revisions returns the change history of one row, oldest first, so
// replaying the entries reconstructs the row's lifecycle.
func (r *Recorder) Revisions(ctx context.Context, tableName string, rowID int64) ([]map[string]any, error) {
	d := r.Store.Dialect
	sqlStr := fmt.Sprintf(
		"SELECT * FROM _activity WHERE table_name = %s AND row_id = %s ORDER BY id ASC",
		d.Placeholder(1), d.Placeholder(2))
	return store.QueryRows(ctx, r.Store.DB, sqlStr, tableName, rowID)
}
