package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"slate-backend/internal/activity"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// ActivityMode controls how a write is recorded in the activity stream.
type ActivityMode int

const (
	// ActivityParent records the entry immediately and links any child
	// entries produced by nested writes to it.
	ActivityParent ActivityMode = iota
	// ActivityChild defers the entry until the parent entry exists.
	ActivityChild
	// ActivityDisabled suppresses recording entirely.
	ActivityDisabled
)

// WriteHook runs before a row is written, with the payload still mutable.
// Collections use hooks for field derivation such as password hashing.
type WriteHook func(ctx context.Context, q store.Querier, payload map[string]any, isInsert bool) error

// Gateway is the dynamic record gateway. It reads and writes rows of any
// managed table using catalog descriptors, enforcing privileges and
// recording activity.
type Gateway struct {
	Store    *store.Store
	Catalog  *schema.Catalog
	Recorder *activity.Recorder

	writeHooks map[string]WriteHook
}

func NewGateway(s *store.Store, catalog *schema.Catalog, recorder *activity.Recorder) *Gateway {
	return &Gateway{
		Store:      s,
		Catalog:    catalog,
		Recorder:   recorder,
		writeHooks: make(map[string]WriteHook),
	}
}

// RegisterWriteHook attaches a pre-write hook to a table. One hook per
// table; a second registration replaces the first.
func (g *Gateway) RegisterWriteHook(table string, h WriteHook) {
	g.writeHooks[table] = h
}

// ResultSet is the collection read envelope.
type ResultSet struct {
	Rows   []map[string]any `json:"rows"`
	Total  int64            `json:"total"`
	Active int64            `json:"active"`
}

// GetEntries reads rows from a table with privileges applied. With an id
// filter the single hydrated row is returned; single-flag tables also
// collapse to one row.
func (g *Gateway) GetEntries(ctx context.Context, user *schema.UserContext, tableName string, p ListParams) (any, error) {
	t, err := g.describe(ctx, g.Store.DB, tableName)
	if err != nil {
		return nil, err
	}

	priv, err := g.Catalog.PrivilegeFor(ctx, g.Store.DB, user.GroupID, tableName)
	if err != nil {
		return nil, err
	}
	if err := Authorize(priv, OpView, tableName); err != nil {
		return nil, err
	}
	scope := ScopeFor(priv, OpView)

	q, err := BuildListQuery(g.Store.Dialect, t, p, scope, user)
	if err != nil {
		return nil, err
	}

	rows, err := store.QueryRows(ctx, g.Store.DB, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", tableName, err)
	}

	if err := g.hydrateRelations(ctx, user, t, rows, 0); err != nil {
		return nil, err
	}
	for _, row := range rows {
		FilterReadColumns(priv, row)
	}

	if p.ID > 0 || t.Single {
		if len(rows) == 0 {
			return nil, ErrRecordNotFound(tableName)
		}
		return rows[0], nil
	}

	countSQL, countParams := BuildCountsQuery(g.Store.Dialect, t)
	counts, err := store.QueryRow(ctx, g.Store.DB, countSQL, countParams...)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", tableName, err)
	}

	if rows == nil {
		rows = []map[string]any{}
	}
	return &ResultSet{
		Rows:   rows,
		Total:  store.ToInt64(counts["total"]),
		Active: store.ToInt64(counts["active"]),
	}, nil
}

// GetEntry reads one row by primary key.
func (g *Gateway) GetEntry(ctx context.Context, user *schema.UserContext, tableName string, id int64) (map[string]any, error) {
	res, err := g.GetEntries(ctx, user, tableName, ListParams{ID: id, IncludeInactive: true, PerPage: 1})
	if err != nil {
		return nil, err
	}
	row, ok := res.(map[string]any)
	if !ok {
		return nil, ErrRecordNotFound(tableName)
	}
	return row, nil
}

// WriteOptions qualify a record write.
type WriteOptions struct {
	SkipActivity bool
	LoggedIP     string

	// Action and Identifier, when set, override the recorded values of the
	// top-level activity entry. Used by collection extensions whose writes
	// carry a domain action, such as file uploads.
	Action     string
	Identifier string
}

// ManageRecordUpdate inserts or updates one record, resolving nested
// relational payloads, inside a single transaction. It returns the primary
// key of the written row.
func (g *Gateway) ManageRecordUpdate(ctx context.Context, user *schema.UserContext, tableName string, payload map[string]any, opts WriteOptions) (int64, error) {
	tx, err := g.Store.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	s := &writeSession{g: g, tx: tx, user: user, opts: opts}
	mode := ActivityParent
	if opts.SkipActivity {
		mode = ActivityDisabled
	}
	id, err := s.save(ctx, tableName, payload, mode)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s write: %w", tableName, err)
	}
	return id, nil
}

// ManageCollectionUpdate writes a batch of records, each as its own parent
// activity entry, inside one transaction.
func (g *Gateway) ManageCollectionUpdate(ctx context.Context, user *schema.UserContext, tableName string, records []map[string]any, opts WriteOptions) ([]int64, error) {
	tx, err := g.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	mode := ActivityParent
	if opts.SkipActivity {
		mode = ActivityDisabled
	}

	ids := make([]int64, 0, len(records))
	for _, payload := range records {
		s := &writeSession{g: g, tx: tx, user: user, opts: opts}
		id, err := s.save(ctx, tableName, payload, mode)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s batch: %w", tableName, err)
	}
	return ids, nil
}

// Delete removes a record. Tables with a status column are soft-deleted;
// repeating the delete is a no-op. Other tables lose the row physically.
// The mutation and its activity entry share one transaction. Returns the
// number of rows affected.
func (g *Gateway) Delete(ctx context.Context, user *schema.UserContext, tableName string, id int64, opts WriteOptions) (int64, error) {
	t, err := g.describe(ctx, g.Store.DB, tableName)
	if err != nil {
		return 0, err
	}

	priv, err := g.Catalog.PrivilegeFor(ctx, g.Store.DB, user.GroupID, tableName)
	if err != nil {
		return 0, err
	}
	if err := Authorize(priv, OpDelete, tableName); err != nil {
		return 0, err
	}

	d := g.Store.Dialect
	pk := t.PrimaryKey()

	if ScopeFor(priv, OpDelete) == ScopeOwn {
		row, err := store.QueryRow(ctx, g.Store.DB,
			fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", t.Name, pk, d.Placeholder(1)), id)
		if err != nil {
			return 0, MapStoreError(err, tableName)
		}
		if !OwnsRow(user, t, row) {
			return 0, ErrPermissionDenied(OpDelete, tableName)
		}
	}

	tx, err := g.Store.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var affected int64
	if t.HasStatusColumn() {
		affected, err = store.Exec(ctx, tx,
			fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s AND %s <> %s",
				t.Name, schema.StatusColumn, d.Placeholder(1), pk, d.Placeholder(2),
				schema.StatusColumn, d.Placeholder(3)),
			schema.StatusDeleted, id, schema.StatusDeleted)
	} else {
		affected, err = store.Exec(ctx, tx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = %s", t.Name, pk, d.Placeholder(1)), id)
	}
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", tableName, err)
	}

	if affected > 0 && !opts.SkipActivity {
		_, err = g.Recorder.Record(ctx, tx, activity.Entry{
			Action:    activity.ActionDelete,
			TableName: tableName,
			RowID:     id,
			UserID:    user.ID,
			LoggedIP:  opts.LoggedIP,
		})
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s delete: %w", tableName, err)
	}
	return affected, nil
}

func (g *Gateway) describe(ctx context.Context, q store.Querier, tableName string) (*schema.Table, error) {
	t, err := g.Catalog.Describe(ctx, q, tableName)
	if err == store.ErrNotFound {
		return nil, ErrTableNotFound(tableName)
	}
	if err != nil {
		return nil, MapStoreError(err, tableName)
	}
	return t, nil
}

// writeSession carries one transactional write tree. Child activity
// entries wait in pending until the parent entry provides their parent id.
type writeSession struct {
	g       *Gateway
	tx      *sql.Tx
	user    *schema.UserContext
	opts    WriteOptions
	pending []activity.Entry
}

func (s *writeSession) save(ctx context.Context, tableName string, payload map[string]any, mode ActivityMode) (int64, error) {
	g := s.g
	t, err := g.describe(ctx, s.tx, tableName)
	if err != nil {
		return 0, err
	}

	priv, err := g.Catalog.PrivilegeFor(ctx, s.tx, s.user.GroupID, tableName)
	if err != nil {
		return 0, err
	}
	if err := CheckWritePayload(priv, payload); err != nil {
		return 0, err
	}

	// Resolve nested many-to-one objects first so the foreign key can be
	// bound on this row.
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.RelationshipType != schema.RelManyToOne {
			continue
		}
		child, ok := payload[col.Name].(map[string]any)
		if !ok {
			continue
		}
		related := col.RelatedTable
		if related == "" {
			return 0, ErrValidation("column " + col.Name + " has no related table")
		}
		childID, err := s.save(ctx, related, child, ActivityChild)
		if err != nil {
			return 0, err
		}
		payload[col.Name] = childID
	}

	// Many-to-many alias payloads write junction rows after this row
	// exists.
	type m2mWrite struct {
		col   *schema.Column
		items []any
	}
	var junctions []m2mWrite
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.RelationshipType != schema.RelManyToMany {
			continue
		}
		raw, ok := payload[col.Name]
		if !ok {
			continue
		}
		delete(payload, col.Name)
		items, err := m2mItems(raw)
		if err != nil {
			return 0, ErrValidation("invalid payload for column " + col.Name)
		}
		junctions = append(junctions, m2mWrite{col: col, items: items})
	}

	pk := t.PrimaryKey()
	id := store.ToInt64(payload[pk])
	isInsert := true
	if id > 0 {
		exists, err := s.rowExists(ctx, t, id)
		if err != nil {
			return 0, err
		}
		isInsert = !exists
	}

	op := OpEdit
	if isInsert {
		op = OpAdd
	}
	if err := Authorize(priv, op, tableName); err != nil {
		return 0, err
	}
	if !isInsert && ScopeFor(priv, OpEdit) == ScopeOwn {
		row, err := store.QueryRow(ctx, s.tx,
			fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
				t.Name, pk, g.Store.Dialect.Placeholder(1)), id)
		if err != nil {
			return 0, MapStoreError(err, tableName)
		}
		if !OwnsRow(s.user, t, row) {
			return 0, ErrPermissionDenied(OpEdit, tableName)
		}
	}

	if isInsert {
		if owner := t.OwnerColumn(); owner != "" && owner != pk {
			if _, ok := payload[owner]; !ok {
				payload[owner] = s.user.ID
			}
		}
	}

	if hook := g.writeHooks[tableName]; hook != nil {
		if err := hook(ctx, s.tx, payload, isInsert); err != nil {
			return 0, err
		}
	}

	fields := writableFields(t, payload, pk)
	if isInsert {
		id, err = s.insertRow(ctx, t, payload, fields)
	} else {
		err = s.updateRow(ctx, t, payload, fields, id)
	}
	if err != nil {
		return 0, MapStoreError(err, tableName)
	}

	for _, jw := range junctions {
		if err := s.writeJunction(ctx, t, jw.col, id, jw.items); err != nil {
			return 0, err
		}
	}

	if mode != ActivityDisabled {
		action := activity.ActionUpdate
		if isInsert {
			action = activity.ActionAdd
		}
		identifier := identifierFor(t, payload)
		if mode == ActivityParent {
			if s.opts.Action != "" {
				action = s.opts.Action
			}
			if s.opts.Identifier != "" {
				identifier = s.opts.Identifier
			}
		}
		entry := activity.Entry{
			Action:     action,
			TableName:  tableName,
			RowID:      id,
			UserID:     s.user.ID,
			Data:       payload,
			Identifier: identifier,
			LoggedIP:   s.opts.LoggedIP,
		}
		switch mode {
		case ActivityParent:
			parentID, err := g.Recorder.Record(ctx, s.tx, entry)
			if err != nil {
				return 0, err
			}
			for _, child := range s.pending {
				child.ParentID = &parentID
				if _, err := g.Recorder.Record(ctx, s.tx, child); err != nil {
					return 0, err
				}
			}
			s.pending = nil
		case ActivityChild:
			s.pending = append(s.pending, entry)
		}
	}

	return id, nil
}

func (s *writeSession) rowExists(ctx context.Context, t *schema.Table, id int64) (bool, error) {
	d := s.g.Store.Dialect
	_, err := store.QueryRow(ctx, s.tx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
			t.PrimaryKey(), t.Name, t.PrimaryKey(), d.Placeholder(1)), id)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *writeSession) insertRow(ctx context.Context, t *schema.Table, payload map[string]any, fields []string) (int64, error) {
	d := s.g.Store.Dialect
	if len(fields) == 0 {
		return 0, ErrValidation("empty payload for " + t.Name)
	}

	pb := d.NewParamBuilder()
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		placeholders[i] = pb.Add(payload[f])
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(fields, ", "), strings.Join(placeholders, ", "))
	return store.InsertWithID(ctx, s.tx, d, sqlStr, pb.Params()...)
}

func (s *writeSession) updateRow(ctx context.Context, t *schema.Table, payload map[string]any, fields []string, id int64) error {
	if len(fields) == 0 {
		return nil
	}
	d := s.g.Store.Dialect
	pb := d.NewParamBuilder()
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = fmt.Sprintf("%s = %s", f, pb.Add(payload[f]))
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		t.Name, strings.Join(sets, ", "), t.PrimaryKey(), pb.Add(id))
	_, err := store.Exec(ctx, s.tx, sqlStr, pb.Params()...)
	if err != nil {
		return s.g.Store.Dialect.MapError(err)
	}
	return nil
}

// writeJunction replaces the junction rows binding a parent row to its
// many-to-many set. The existing rows are deleted and the payload's set is
// inserted.
func (s *writeSession) writeJunction(ctx context.Context, t *schema.Table, col *schema.Column, parentID int64, items []any) error {
	if col.JunctionTable == "" || col.JunctionKeyLeft == "" || col.JunctionKeyRight == "" {
		return ErrValidation("column " + col.Name + " has an incomplete junction definition")
	}
	if err := schema.ValidateTableName(col.JunctionTable); err != nil {
		return ErrBadRequest("invalid junction table")
	}

	d := s.g.Store.Dialect
	_, err := store.Exec(ctx, s.tx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			col.JunctionTable, col.JunctionKeyLeft, d.Placeholder(1)), parentID)
	if err != nil {
		return fmt.Errorf("clear junction %s: %w", col.JunctionTable, err)
	}

	for _, item := range items {
		var rightID int64
		switch v := item.(type) {
		case map[string]any:
			// Junction entries may wrap the related row under "data".
			if data, ok := v["data"].(map[string]any); ok {
				v = data
			}
			childID, err := s.save(ctx, col.RelatedTable, v, ActivityChild)
			if err != nil {
				return err
			}
			rightID = childID
		default:
			rightID = store.ToInt64(v)
		}
		if rightID <= 0 {
			return ErrValidation("invalid related id for column " + col.Name)
		}

		_, err := store.Exec(ctx, s.tx,
			fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
				col.JunctionTable, col.JunctionKeyLeft, col.JunctionKeyRight,
				d.Placeholder(1), d.Placeholder(2)),
			parentID, rightID)
		if err != nil {
			return fmt.Errorf("insert junction %s: %w", col.JunctionTable, err)
		}
	}
	return nil
}

// writableFields selects the payload keys that map to physical columns.
// The primary key is excluded; unknown keys are dropped rather than
// rejected.
func writableFields(t *schema.Table, payload map[string]any, pk string) []string {
	var fields []string
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Alias || col.Name == pk {
			continue
		}
		if _, ok := payload[col.Name]; ok {
			fields = append(fields, col.Name)
		}
	}
	return fields
}

func m2mItems(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case map[string]any:
		if rows, ok := v["rows"].([]any); ok {
			return rows, nil
		}
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported many-to-many payload")
}

func identifierFor(t *schema.Table, payload map[string]any) string {
	for i := range t.Columns {
		if t.Columns[i].Master {
			return store.ToString(payload[t.Columns[i].Name])
		}
	}
	return ""
}
