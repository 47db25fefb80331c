package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// DefaultPerPage caps unpaginated listings.
const DefaultPerPage = 200

// ListParams are the query options for a collection read.
type ListParams struct {
	ID              int64
	Columns         []string
	Sort            string
	SortOrder       string
	PerPage         int
	CurrentPage     int
	AdvWhere        []string
	AdvSearch       []string
	GroupBy         string
	IncludeInactive bool
	SkipActivityLog bool
}

// ParseListParams reads the query string into ListParams.
func ParseListParams(c *fiber.Ctx) ListParams {
	p := ListParams{
		Sort:        c.Query("sort", "id"),
		SortOrder:   strings.ToUpper(c.Query("sort_order", "ASC")),
		PerPage:     c.QueryInt("per_page", DefaultPerPage),
		CurrentPage: c.QueryInt("current_page", 0),
		GroupBy:     c.Query("group_by"),
	}
	if cols := c.Query("columns"); cols != "" {
		for _, col := range strings.Split(cols, ",") {
			col = strings.TrimSpace(col)
			if col != "" {
				p.Columns = append(p.Columns, col)
			}
		}
	}
	if id, err := strconv.ParseInt(c.Query("id"), 10, 64); err == nil {
		p.ID = id
	}
	if w := c.Query("adv_where"); w != "" {
		p.AdvWhere = append(p.AdvWhere, w)
	}
	if s := c.Query("adv_search"); s != "" {
		p.AdvSearch = append(p.AdvSearch, s)
	}
	if p.SortOrder != "DESC" {
		p.SortOrder = "ASC"
	}
	if p.PerPage <= 0 || p.PerPage > 1000 {
		p.PerPage = DefaultPerPage
	}
	p.IncludeInactive = c.Query("status") == "all" || c.QueryBool("include_inactive")
	p.SkipActivityLog = c.Query("skip_activity_log") == "1"
	return p
}

// ListQuery is a rendered SELECT with its parameters.
type ListQuery struct {
	SQL      string
	CountSQL string
	Params   []any
}

// BuildListQuery renders a filtered SELECT over a table. Visibility rules:
// deleted and draft rows are hidden unless IncludeInactive is set, and a
// view scope of own rows restricts to rows owned by the user.
func BuildListQuery(d store.Dialect, t *schema.Table, p ListParams, scope Scope, user *schema.UserContext) (*ListQuery, error) {
	pb := d.NewParamBuilder()
	var where []string

	if p.ID > 0 {
		where = append(where, fmt.Sprintf("%s = %s", t.PrimaryKey(), pb.Add(p.ID)))
	}

	if t.HasStatusColumn() && !p.IncludeInactive {
		where = append(where, fmt.Sprintf("%s = %s", schema.StatusColumn, pb.Add(schema.StatusActive)))
	} else if t.HasStatusColumn() {
		where = append(where, fmt.Sprintf("%s <> %s", schema.StatusColumn, pb.Add(schema.StatusDeleted)))
	}

	if scope == ScopeOwn {
		ownerCol := t.OwnerColumn()
		if ownerCol == "" {
			return nil, ErrPermissionDenied(OpView, t.Name)
		}
		where = append(where, fmt.Sprintf("%s = %s", ownerCol, pb.Add(user.ID)))
	}

	// Raw predicate passthrough. The legacy surface accepts prebuilt
	// fragments from trusted clients.
	for _, w := range p.AdvWhere {
		where = append(where, "("+w+")")
	}
	for _, s := range p.AdvSearch {
		where = append(where, "("+s+")")
	}

	selectCols := "*"
	if len(p.Columns) > 0 {
		var cols []string
		for _, col := range p.Columns {
			if err := schema.ValidateTableName(col); err != nil {
				return nil, ErrBadRequest("invalid column name: " + col)
			}
			cols = append(cols, col)
		}
		selectCols = strings.Join(cols, ", ")
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	groupClause := ""
	if p.GroupBy != "" {
		if err := schema.ValidateTableName(p.GroupBy); err != nil {
			return nil, ErrBadRequest("invalid group_by column")
		}
		groupClause = " GROUP BY " + p.GroupBy
	}

	sortCol := p.Sort
	if sortCol == "" {
		sortCol = t.PrimaryKey()
	}
	if err := schema.ValidateTableName(sortCol); err != nil {
		return nil, ErrBadRequest("invalid sort column")
	}

	limitClause := fmt.Sprintf(" LIMIT %d", p.PerPage)
	if p.CurrentPage > 0 {
		limitClause += fmt.Sprintf(" OFFSET %d", p.CurrentPage*p.PerPage)
	}

	q := &ListQuery{Params: pb.Params()}
	q.SQL = fmt.Sprintf("SELECT %s FROM %s%s%s ORDER BY %s %s%s",
		selectCols, t.Name, whereClause, groupClause, sortCol, p.SortOrder, limitClause)
	q.CountSQL = fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", t.Name, whereClause)
	return q, nil
}

// BuildCountsQuery renders the total and active counters for a table. The
// total excludes hard-deleted rows only; active counts status 1.
func BuildCountsQuery(d store.Dialect, t *schema.Table) (sqlStr string, params []any) {
	pb := d.NewParamBuilder()
	if !t.HasStatusColumn() {
		return fmt.Sprintf("SELECT COUNT(*) AS total, COUNT(*) AS active FROM %s", t.Name), nil
	}
	sqlStr = fmt.Sprintf(
		"SELECT COUNT(*) AS total, SUM(CASE WHEN %s = %s THEN 1 ELSE 0 END) AS active FROM %s WHERE %s <> %s",
		schema.StatusColumn, pb.Add(schema.StatusActive), t.Name,
		schema.StatusColumn, pb.Add(schema.StatusDeleted))
	return sqlStr, pb.Params()
}
