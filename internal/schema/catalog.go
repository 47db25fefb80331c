package schema

import (
	"context"
	"fmt"
	"sort"

	"slate-backend/internal/store"
)

// Catalog resolves table descriptors by merging physical introspection
// with the metadata tables, and manages schema mutations.
type Catalog struct {
	Store *store.Store
}

func NewCatalog(s *store.Store) *Catalog {
	return &Catalog{Store: s}
}

// Describe returns the full descriptor for a table. Physical columns come
// first in definition order; catalog-only alias columns (many-to-many) are
// appended. Explicit sort values reorder the result. Callers holding a
// transaction must pass it as q: the store may run on a single connection.
func (c *Catalog) Describe(ctx context.Context, q store.Querier, tableName string) (*Table, error) {
	if err := ValidateTableName(tableName); err != nil {
		return nil, err
	}

	exists, err := c.Store.Dialect.TableExists(ctx, q, tableName)
	if err != nil {
		return nil, fmt.Errorf("check table %s: %w", tableName, err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	physical, err := c.Store.Dialect.TableColumns(ctx, q, tableName)
	if err != nil {
		return nil, fmt.Errorf("introspect table %s: %w", tableName, err)
	}

	metas, err := c.columnMetas(ctx, q, tableName)
	if err != nil {
		return nil, err
	}

	t, err := c.tableMeta(ctx, q, tableName)
	if err != nil {
		return nil, err
	}

	for _, pc := range physical {
		col := Column{
			TableName: tableName,
			Name:      pc.Name,
			DataType:  pc.Type,
			Sort:      SortSentinel,
		}
		if meta, ok := metas[pc.Name]; ok {
			applyMeta(&col, meta)
			delete(metas, pc.Name)
		}
		t.Columns = append(t.Columns, col)
	}

	// Remaining metadata rows describe alias columns with no physical
	// backing. Only relational aliases are honored.
	aliasNames := make([]string, 0, len(metas))
	for name := range metas {
		aliasNames = append(aliasNames, name)
	}
	sort.Strings(aliasNames)
	for _, name := range aliasNames {
		meta := metas[name]
		if meta.RelationshipType != RelManyToMany {
			continue
		}
		col := Column{
			TableName: tableName,
			Name:      name,
			DataType:  "ALIAS",
			Sort:      SortSentinel,
			Alias:     true,
		}
		applyMeta(&col, meta)
		t.Columns = append(t.Columns, col)
	}

	sort.SliceStable(t.Columns, func(i, j int) bool {
		return t.Columns[i].Sort < t.Columns[j].Sort
	})

	return t, nil
}

// ListTables returns descriptors for all non-system tables, without columns.
func (c *Catalog) ListTables(ctx context.Context, q store.Querier) ([]*Table, error) {
	names, err := c.Store.Dialect.ListTables(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var tables []*Table
	for _, name := range names {
		if store.IsSystemTable(name) {
			continue
		}
		t, err := c.tableMeta(ctx, q, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (c *Catalog) tableMeta(ctx context.Context, q store.Querier, tableName string) (*Table, error) {
	t := &Table{Name: tableName}

	d := c.Store.Dialect
	row, err := store.QueryRow(ctx, q,
		fmt.Sprintf("SELECT * FROM _tables WHERE table_name = %s", d.Placeholder(1)),
		tableName)
	if err == store.ErrNotFound {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("table meta %s: %w", tableName, err)
	}

	t.Hidden = store.ToBool(row["hidden"])
	t.Single = store.ToBool(row["single"])
	t.IsJunctionTable = store.ToBool(row["is_junction_table"])
	t.Footer = store.ToBool(row["footer"])
	t.PrimaryColumn = store.ToString(row["primary_column"])
	return t, nil
}

func (c *Catalog) columnMetas(ctx context.Context, q store.Querier, tableName string) (map[string]Column, error) {
	d := c.Store.Dialect
	rows, err := store.QueryRows(ctx, q,
		fmt.Sprintf("SELECT * FROM _columns WHERE table_name = %s", d.Placeholder(1)),
		tableName)
	if err != nil {
		return nil, fmt.Errorf("column metas %s: %w", tableName, err)
	}

	metas := make(map[string]Column, len(rows))
	for _, row := range rows {
		col := Column{
			ID:               store.ToInt64(row["id"]),
			TableName:        tableName,
			Name:             store.ToString(row["column_name"]),
			DataType:         store.ToString(row["data_type"]),
			UI:               store.ToString(row["ui"]),
			RelationshipType: store.ToString(row["relationship_type"]),
			RelatedTable:     store.ToString(row["related_table"]),
			JunctionTable:    store.ToString(row["junction_table"]),
			JunctionKeyLeft:  store.ToString(row["junction_key_left"]),
			JunctionKeyRight: store.ToString(row["junction_key_right"]),
			Required:         store.ToBool(row["required"]),
			HiddenInput:      store.ToBool(row["hidden_input"]),
			Master:           store.ToBool(row["master"]),
			Sort:             int(store.ToInt64(row["sort"])),
			Comment:          store.ToString(row["comment"]),
		}
		metas[col.Name] = col
	}
	return metas, nil
}

func applyMeta(col *Column, meta Column) {
	col.ID = meta.ID
	if meta.DataType != "" {
		col.DataType = meta.DataType
	}
	col.UI = meta.UI
	col.RelationshipType = meta.RelationshipType
	col.RelatedTable = meta.RelatedTable
	col.JunctionTable = meta.JunctionTable
	col.JunctionKeyLeft = meta.JunctionKeyLeft
	col.JunctionKeyRight = meta.JunctionKeyRight
	col.Required = meta.Required
	col.HiddenInput = meta.HiddenInput
	col.Master = meta.Master
	col.Sort = meta.Sort
	col.Comment = meta.Comment
}

// UpsertColumn registers or updates a column. A missing physical column is
// added through ALTER TABLE in the same transaction, except for alias
// columns which exist only in the catalog.
func (c *Catalog) UpsertColumn(ctx context.Context, col *Column) error {
	if err := ValidateTableName(col.TableName); err != nil {
		return err
	}
	if err := ValidateTableName(col.Name); err != nil {
		return ErrInvalidTableName
	}

	isAlias := col.RelationshipType == RelManyToMany

	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d := c.Store.Dialect
	if !isAlias {
		physical, err := d.TableColumns(ctx, tx, col.TableName)
		if err != nil {
			return fmt.Errorf("introspect table %s: %w", col.TableName, err)
		}
		found := false
		for _, pc := range physical {
			if pc.Name == col.Name {
				found = true
				break
			}
		}
		if !found {
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
				col.TableName, col.Name, d.ColumnType(col.DataType))
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("add column %s.%s: %w", col.TableName, col.Name, err)
			}
		}
	}

	if col.Sort <= 0 {
		col.Sort = SortSentinel
	}

	existing, err := store.QueryRow(ctx, tx,
		fmt.Sprintf("SELECT id FROM _columns WHERE table_name = %s AND column_name = %s",
			d.Placeholder(1), d.Placeholder(2)),
		col.TableName, col.Name)
	if err != nil && err != store.ErrNotFound {
		return err
	}

	if err == store.ErrNotFound {
		id, ierr := store.InsertWithID(ctx, tx, d,
			fmt.Sprintf(`INSERT INTO _columns
    (table_name, column_name, data_type, ui, relationship_type, related_table,
     junction_table, junction_key_left, junction_key_right, required,
     hidden_input, master, sort, comment)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4),
				d.Placeholder(5), d.Placeholder(6), d.Placeholder(7), d.Placeholder(8),
				d.Placeholder(9), d.Placeholder(10), d.Placeholder(11), d.Placeholder(12),
				d.Placeholder(13), d.Placeholder(14)),
			col.TableName, col.Name, col.DataType, col.UI, col.RelationshipType,
			col.RelatedTable, col.JunctionTable, col.JunctionKeyLeft,
			col.JunctionKeyRight, boolFlag(col.Required), boolFlag(col.HiddenInput),
			boolFlag(col.Master), col.Sort, col.Comment)
		if ierr != nil {
			return fmt.Errorf("insert column meta: %w", ierr)
		}
		col.ID = id
	} else {
		col.ID = store.ToInt64(existing["id"])
		_, uerr := store.Exec(ctx, tx,
			fmt.Sprintf(`UPDATE _columns SET
    data_type = %s, ui = %s, relationship_type = %s, related_table = %s,
    junction_table = %s, junction_key_left = %s, junction_key_right = %s,
    required = %s, hidden_input = %s, master = %s, sort = %s, comment = %s
WHERE id = %s`,
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4),
				d.Placeholder(5), d.Placeholder(6), d.Placeholder(7), d.Placeholder(8),
				d.Placeholder(9), d.Placeholder(10), d.Placeholder(11), d.Placeholder(12),
				d.Placeholder(13)),
			col.DataType, col.UI, col.RelationshipType, col.RelatedTable,
			col.JunctionTable, col.JunctionKeyLeft, col.JunctionKeyRight,
			boolFlag(col.Required), boolFlag(col.HiddenInput), boolFlag(col.Master),
			col.Sort, col.Comment, col.ID)
		if uerr != nil {
			return fmt.Errorf("update column meta: %w", uerr)
		}
	}

	return tx.Commit()
}

// UpsertTableMeta writes the presentation flags for a table.
func (c *Catalog) UpsertTableMeta(ctx context.Context, t *Table) error {
	if err := ValidateTableName(t.Name); err != nil {
		return err
	}

	d := c.Store.Dialect
	_, err := store.QueryRow(ctx, c.Store.DB,
		fmt.Sprintf("SELECT table_name FROM _tables WHERE table_name = %s", d.Placeholder(1)),
		t.Name)
	if err != nil && err != store.ErrNotFound {
		return err
	}

	if err == store.ErrNotFound {
		_, err = store.Exec(ctx, c.Store.DB,
			fmt.Sprintf(`INSERT INTO _tables
    (table_name, hidden, single, is_junction_table, footer, primary_column)
VALUES (%s, %s, %s, %s, %s, %s)`,
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
				d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
			t.Name, boolFlag(t.Hidden), boolFlag(t.Single),
			boolFlag(t.IsJunctionTable), boolFlag(t.Footer), t.PrimaryColumn)
		return err
	}

	_, err = store.Exec(ctx, c.Store.DB,
		fmt.Sprintf(`UPDATE _tables SET
    hidden = %s, single = %s, is_junction_table = %s, footer = %s, primary_column = %s
WHERE table_name = %s`,
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
			d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
		boolFlag(t.Hidden), boolFlag(t.Single), boolFlag(t.IsJunctionTable),
		boolFlag(t.Footer), t.PrimaryColumn, t.Name)
	return err
}

// CreateTable creates a minimal managed table with an auto-increment id and
// an active status column, and registers it in the catalog.
func (c *Catalog) CreateTable(ctx context.Context, name string) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}

	d := c.Store.Dialect
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id %s, %s INTEGER NOT NULL DEFAULT %d)",
		name, d.AutoIncrementPK(), StatusColumn, StatusActive)
	if _, err := c.Store.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	return c.UpsertTableMeta(ctx, &Table{Name: name})
}

// PrivilegeFor returns the grant row for a group on a table, or nil when no
// grant exists.
func (c *Catalog) PrivilegeFor(ctx context.Context, q store.Querier, groupID int64, tableName string) (*Privilege, error) {
	d := c.Store.Dialect
	row, err := store.QueryRow(ctx, q,
		fmt.Sprintf("SELECT * FROM _privileges WHERE group_id = %s AND table_name = %s",
			d.Placeholder(1), d.Placeholder(2)),
		groupID, tableName)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("privilege %d/%s: %w", groupID, tableName, err)
	}

	p := NewPrivilege(
		store.ToInt64(row["group_id"]),
		store.ToString(row["table_name"]),
		store.ToString(row["permissions"]),
		store.ToString(row["read_field_blacklist"]),
		store.ToString(row["write_field_blacklist"]),
	)
	p.ID = store.ToInt64(row["id"])
	p.StatusID = store.ToString(row["status_id"])
	return p, nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
