package engine

import (
	"context"
	"fmt"

	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// maxRelationDepth bounds recursive hydration so cyclic relations cannot
// loop.
const maxRelationDepth = 2

// hydrateRelations replaces relational column values with related rows.
// Many-to-one foreign keys become the related row; many-to-many aliases
// become a {"rows": [...]} set of junction entries. Broken relations are
// left as-is rather than failing the read. The caller's view grant on the
// related table gates each relation: no grant leaves the raw value, and
// the related grant's read blacklist is applied to attached rows.
func (g *Gateway) hydrateRelations(ctx context.Context, user *schema.UserContext, t *schema.Table, rows []map[string]any, depth int) error {
	if depth >= maxRelationDepth || len(rows) == 0 {
		return nil
	}

	for i := range t.Columns {
		col := &t.Columns[i]
		switch col.RelationshipType {
		case schema.RelManyToOne:
			if err := g.hydrateManyToOne(ctx, user, col, rows, depth); err != nil {
				return err
			}
		case schema.RelManyToMany:
			if err := g.hydrateManyToMany(ctx, user, t, col, rows, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// relatedPrivilege resolves the caller's grant on a relation's target
// table. A nil privilege with ok=false means the relation must stay
// unhydrated.
func (g *Gateway) relatedPrivilege(ctx context.Context, user *schema.UserContext, tableName string) (*schema.Privilege, bool, error) {
	priv, err := g.Catalog.PrivilegeFor(ctx, g.Store.DB, user.GroupID, tableName)
	if err != nil {
		return nil, false, err
	}
	if ScopeFor(priv, OpView) == ScopeNone {
		return nil, false, nil
	}
	return priv, true, nil
}

func (g *Gateway) hydrateManyToOne(ctx context.Context, user *schema.UserContext, col *schema.Column, rows []map[string]any, depth int) error {
	if col.RelatedTable == "" {
		return nil
	}
	related, err := g.Catalog.Describe(ctx, g.Store.DB, col.RelatedTable)
	if err != nil {
		// Dangling catalog entry, leave the raw foreign key in place.
		return nil
	}
	priv, ok, err := g.relatedPrivilege(ctx, user, related.Name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	idSet := make(map[int64]bool)
	for _, row := range rows {
		if id := store.ToInt64(row[col.Name]); id > 0 {
			idSet[id] = true
		}
	}
	if len(idSet) == 0 {
		return nil
	}

	ids := make([]any, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	d := g.Store.Dialect
	pb := d.NewParamBuilder()
	inExpr := d.InExpr(related.PrimaryKey(), pb, ids)
	relatedRows, err := store.QueryRows(ctx, g.Store.DB,
		fmt.Sprintf("SELECT * FROM %s WHERE %s", related.Name, inExpr), pb.Params()...)
	if err != nil {
		return fmt.Errorf("hydrate %s.%s: %w", col.TableName, col.Name, err)
	}
	if err := g.hydrateRelations(ctx, user, related, relatedRows, depth+1); err != nil {
		return err
	}

	byID := make(map[int64]map[string]any, len(relatedRows))
	for _, rr := range relatedRows {
		FilterReadColumns(priv, rr)
		byID[store.ToInt64(rr[related.PrimaryKey()])] = rr
	}
	for _, row := range rows {
		id := store.ToInt64(row[col.Name])
		if rr, ok := byID[id]; ok {
			row[col.Name] = rr
		}
	}
	return nil
}

func (g *Gateway) hydrateManyToMany(ctx context.Context, user *schema.UserContext, t *schema.Table, col *schema.Column, rows []map[string]any, depth int) error {
	if col.RelatedTable == "" || col.JunctionTable == "" ||
		col.JunctionKeyLeft == "" || col.JunctionKeyRight == "" {
		return nil
	}
	if schema.ValidateTableName(col.JunctionTable) != nil {
		return nil
	}
	related, err := g.Catalog.Describe(ctx, g.Store.DB, col.RelatedTable)
	if err != nil {
		return nil
	}
	priv, ok, err := g.relatedPrivilege(ctx, user, related.Name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	pk := t.PrimaryKey()
	parentIDs := make([]any, 0, len(rows))
	for _, row := range rows {
		if id := store.ToInt64(row[pk]); id > 0 {
			parentIDs = append(parentIDs, id)
		}
	}
	if len(parentIDs) == 0 {
		return nil
	}

	d := g.Store.Dialect
	pb := d.NewParamBuilder()
	inExpr := d.InExpr(col.JunctionKeyLeft, pb, parentIDs)
	junctionRows, err := store.QueryRows(ctx, g.Store.DB,
		fmt.Sprintf("SELECT * FROM %s WHERE %s", col.JunctionTable, inExpr), pb.Params()...)
	if err != nil {
		return fmt.Errorf("hydrate junction %s: %w", col.JunctionTable, err)
	}

	rightIDSet := make(map[int64]bool)
	for _, jr := range junctionRows {
		if id := store.ToInt64(jr[col.JunctionKeyRight]); id > 0 {
			rightIDSet[id] = true
		}
	}
	rightIDs := make([]any, 0, len(rightIDSet))
	for id := range rightIDSet {
		rightIDs = append(rightIDs, id)
	}

	byID := make(map[int64]map[string]any)
	if len(rightIDs) > 0 {
		pb = d.NewParamBuilder()
		inExpr = d.InExpr(related.PrimaryKey(), pb, rightIDs)
		relatedRows, err := store.QueryRows(ctx, g.Store.DB,
			fmt.Sprintf("SELECT * FROM %s WHERE %s", related.Name, inExpr), pb.Params()...)
		if err != nil {
			return fmt.Errorf("hydrate %s.%s: %w", col.TableName, col.Name, err)
		}
		if err := g.hydrateRelations(ctx, user, related, relatedRows, depth+1); err != nil {
			return err
		}
		for _, rr := range relatedRows {
			FilterReadColumns(priv, rr)
			byID[store.ToInt64(rr[related.PrimaryKey()])] = rr
		}
	}

	grouped := make(map[int64][]map[string]any)
	for _, jr := range junctionRows {
		left := store.ToInt64(jr[col.JunctionKeyLeft])
		right := store.ToInt64(jr[col.JunctionKeyRight])
		rr, ok := byID[right]
		if !ok {
			continue
		}
		grouped[left] = append(grouped[left], map[string]any{
			"id":   jr["id"],
			"data": rr,
		})
	}
	for _, row := range rows {
		id := store.ToInt64(row[pk])
		entries := grouped[id]
		if entries == nil {
			entries = []map[string]any{}
		}
		row[col.Name] = map[string]any{"rows": entries}
	}
	return nil
}
