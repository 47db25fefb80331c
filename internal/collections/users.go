package collections

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"

	"slate-backend/internal/auth"
	"slate-backend/internal/engine"
	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// AvatarURL derives the gravatar URL for an email address.
func AvatarURL(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?s=100", md5.Sum([]byte(normalized)))
}

// UserWriteHook derives stored user fields before a write. Plaintext
// passwords are replaced with their bcrypt hash and the avatar follows
// the email address.
func UserWriteHook(ctx context.Context, q store.Querier, payload map[string]any, isInsert bool) error {
	if email, ok := payload["email"].(string); ok && email != "" {
		if _, set := payload["avatar"]; !set {
			payload["avatar"] = AvatarURL(email)
		}
	}

	raw, ok := payload["password"]
	if !ok {
		return nil
	}
	password, _ := raw.(string)
	if password == "" {
		// An empty password on update means "leave it alone".
		delete(payload, "password")
		if isInsert {
			return engine.ErrValidation("password is required")
		}
		return nil
	}
	if strings.HasPrefix(password, "$2a$") || strings.HasPrefix(password, "$2b$") {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	payload["password"] = hash
	return nil
}

// FindActiveUserIDs resolves direct user ids and group memberships into the
// set of active user ids.
func FindActiveUserIDs(ctx context.Context, s *store.Store, userIDs, groupIDs []int64) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64

	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	if len(userIDs) > 0 {
		d := s.Dialect
		pb := d.NewParamBuilder()
		vals := make([]any, len(userIDs))
		for i, id := range userIDs {
			vals[i] = id
		}
		inExpr := d.InExpr("id", pb, vals)
		rows, err := store.QueryRows(ctx, s.DB,
			fmt.Sprintf("SELECT id FROM _users WHERE %s AND status = %s",
				inExpr, pb.Add(schema.StatusActive)), pb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("resolve users: %w", err)
		}
		for _, row := range rows {
			add(store.ToInt64(row["id"]))
		}
	}

	if len(groupIDs) > 0 {
		d := s.Dialect
		pb := d.NewParamBuilder()
		vals := make([]any, len(groupIDs))
		for i, id := range groupIDs {
			vals[i] = id
		}
		inExpr := d.InExpr("group_id", pb, vals)
		rows, err := store.QueryRows(ctx, s.DB,
			fmt.Sprintf("SELECT id FROM _users WHERE %s AND status = %s",
				inExpr, pb.Add(schema.StatusActive)), pb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("resolve groups: %w", err)
		}
		for _, row := range rows {
			add(store.ToInt64(row["id"]))
		}
	}

	return out, nil
}
