package store

import (
	"context"
	"fmt"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// ColumnType maps a catalog data type to the database DDL type.
	ColumnType(dataType string) string

	// AutoIncrementPK returns the DDL fragment for an auto-incrementing
	// integer primary key column.
	AutoIncrementPK() string

	// SystemTablesSQL returns the DDL statements for the system tables.
	SystemTablesSQL() []string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, q Querier, tableName string) (bool, error)

	// TableColumns returns the physical columns of a table in definition order.
	TableColumns(ctx context.Context, q Querier, tableName string) ([]PhysicalColumn, error)

	// ListTables returns all table names in the database.
	ListTables(ctx context.Context, q Querier) ([]string, error)

	// InExpr builds an IN expression, expanding one placeholder per
	// value. Empty value sets render as "1 = 0".
	InExpr(field string, pb ParamBuilder, values []any) string

	// SupportsReturning reports whether INSERT ... RETURNING works.
	SupportsReturning() bool

	// MapError inspects a driver error and returns a well-known sentinel
	// error if applicable.
	MapError(err error) error
}

// PhysicalColumn describes a column as it exists in physical storage.
type PhysicalColumn struct {
	Name string
	Type string
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns the placeholder string.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any

	// Count returns the number of parameters added so far.
	Count() int
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

// --- PostgreSQL ParamBuilder ---

type pgParamBuilder struct {
	params []any
	n      int
}

func (p *pgParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func (p *pgParamBuilder) Params() []any { return p.params }
func (p *pgParamBuilder) Count() int    { return p.n }

// --- SQLite ParamBuilder ---

type sqliteParamBuilder struct {
	params []any
	n      int
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", p.n)
}

func (p *sqliteParamBuilder) Params() []any { return p.params }
func (p *sqliteParamBuilder) Count() int    { return p.n }
