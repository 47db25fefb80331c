package schema

import (
	"errors"
	"regexp"
)

// Status column conventions. Tables that carry a "status" column get soft
// deletes and draft visibility; tables without one are hard-deleted.
const (
	StatusColumn = "status"

	StatusDeleted = 0
	StatusActive  = 1
	StatusDraft   = 2
)

// SortSentinel is the default sort value for columns that have never been
// reordered. It keeps unordered columns after explicitly ordered ones.
const SortSentinel = 99999

// Relationship types stored in the catalog.
const (
	RelNone       = ""
	RelManyToOne  = "MANYTOONE"
	RelManyToMany = "MANYTOMANY"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var ErrInvalidTableName = errors.New("invalid table name")

// ValidateTableName rejects identifiers that could smuggle SQL into
// interpolated table positions.
func ValidateTableName(name string) error {
	if name == "" || !tableNameRe.MatchString(name) {
		return ErrInvalidTableName
	}
	return nil
}

// Column describes a single column of a managed table, merging the physical
// definition with catalog metadata.
type Column struct {
	ID               int64  `json:"id,omitempty"`
	TableName        string `json:"table_name"`
	Name             string `json:"column_name"`
	DataType         string `json:"data_type"`
	UI               string `json:"ui,omitempty"`
	RelationshipType string `json:"relationship_type,omitempty"`
	RelatedTable     string `json:"related_table,omitempty"`
	JunctionTable    string `json:"junction_table,omitempty"`
	JunctionKeyLeft  string `json:"junction_key_left,omitempty"`
	JunctionKeyRight string `json:"junction_key_right,omitempty"`
	Required         bool   `json:"required"`
	HiddenInput      bool   `json:"hidden_input"`
	Master           bool   `json:"master"`
	Sort             int    `json:"sort"`
	Comment          string `json:"comment,omitempty"`

	// Alias marks columns that exist only in the catalog, with no backing
	// physical column (many-to-many relations).
	Alias bool `json:"alias,omitempty"`
}

// IsRelational reports whether the column resolves to related rows.
func (c *Column) IsRelational() bool {
	return c.RelationshipType == RelManyToOne || c.RelationshipType == RelManyToMany
}

// Table is the full descriptor of a managed table.
type Table struct {
	Name            string   `json:"table_name"`
	Hidden          bool     `json:"hidden"`
	Single          bool     `json:"single"`
	IsJunctionTable bool     `json:"is_junction_table"`
	Footer          bool     `json:"footer"`
	PrimaryColumn   string   `json:"primary_column"`
	Columns         []Column `json:"columns,omitempty"`
}

// GetColumn returns the named column, or nil.
func (t *Table) GetColumn(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	return t.GetColumn(name) != nil
}

// HasStatusColumn reports whether the table participates in soft deletes.
func (t *Table) HasStatusColumn() bool {
	return t.HasColumn(StatusColumn)
}

// PrimaryKey returns the primary key column name, defaulting to "id".
func (t *Table) PrimaryKey() string {
	if t.PrimaryColumn != "" {
		return t.PrimaryColumn
	}
	return "id"
}

// OwnerColumn returns the column that ties a row to its creating user, or
// "" when the table has no ownership notion. The users table owns itself
// through its primary key.
func (t *Table) OwnerColumn() string {
	if t.Name == "_users" {
		return t.PrimaryKey()
	}
	if t.HasColumn("user_id") {
		return "user_id"
	}
	return ""
}
