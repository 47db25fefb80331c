package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// systemTableStatements renders the system-table DDL for a dialect. pk is
// the auto-increment primary key fragment, ts the timestamp column type.
func systemTableStatements(pk, ts string) []string {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS _tables (
    table_name        TEXT PRIMARY KEY,
    hidden            INTEGER NOT NULL DEFAULT 0,
    single            INTEGER NOT NULL DEFAULT 0,
    is_junction_table INTEGER NOT NULL DEFAULT 0,
    footer            INTEGER NOT NULL DEFAULT 0,
    primary_column    TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS _columns (
    id                 {PK},
    table_name         TEXT NOT NULL,
    column_name        TEXT NOT NULL,
    data_type          TEXT NOT NULL DEFAULT '',
    ui                 TEXT NOT NULL DEFAULT '',
    relationship_type  TEXT NOT NULL DEFAULT '',
    related_table      TEXT NOT NULL DEFAULT '',
    junction_table     TEXT NOT NULL DEFAULT '',
    junction_key_left  TEXT NOT NULL DEFAULT '',
    junction_key_right TEXT NOT NULL DEFAULT '',
    required           INTEGER NOT NULL DEFAULT 0,
    hidden_input       INTEGER NOT NULL DEFAULT 0,
    master             INTEGER NOT NULL DEFAULT 0,
    sort               INTEGER NOT NULL DEFAULT 99999,
    comment            TEXT NOT NULL DEFAULT '',
    UNIQUE (table_name, column_name)
)`,
		`CREATE TABLE IF NOT EXISTS _privileges (
    id                    {PK},
    group_id              INTEGER NOT NULL,
    table_name            TEXT NOT NULL,
    permissions           TEXT NOT NULL DEFAULT '',
    read_field_blacklist  TEXT NOT NULL DEFAULT '',
    write_field_blacklist TEXT NOT NULL DEFAULT '',
    status_id             TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS _groups (
    id                       {PK},
    name                     TEXT NOT NULL,
    description              TEXT NOT NULL DEFAULT '',
    restrict_to_ip_whitelist INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE TABLE IF NOT EXISTS _users (
    id             {PK},
    status         INTEGER NOT NULL DEFAULT 1,
    email          TEXT NOT NULL UNIQUE,
    password       TEXT NOT NULL DEFAULT '',
    first_name     TEXT NOT NULL DEFAULT '',
    last_name      TEXT NOT NULL DEFAULT '',
    group_id       INTEGER NOT NULL DEFAULT 0,
    avatar         TEXT NOT NULL DEFAULT '',
    last_login     {TS},
    last_page      TEXT NOT NULL DEFAULT '',
    email_messages INTEGER NOT NULL DEFAULT 1
)`,
		`CREATE TABLE IF NOT EXISTS _activity (
    id         {PK},
    action     TEXT NOT NULL,
    table_name TEXT NOT NULL,
    row_id     INTEGER NOT NULL DEFAULT 0,
    user_id    INTEGER NOT NULL DEFAULT 0,
    parent_id  INTEGER,
    data       TEXT NOT NULL DEFAULT '',
    identifier TEXT NOT NULL DEFAULT '',
    logged_ip  TEXT NOT NULL DEFAULT '',
    datetime   {TS}
)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_row ON _activity (table_name, row_id)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_datetime ON _activity (datetime)`,
		`CREATE TABLE IF NOT EXISTS _preferences (
    id              {PK},
    user_id         INTEGER NOT NULL,
    table_name      TEXT NOT NULL,
    title           TEXT,
    columns_visible TEXT NOT NULL DEFAULT '',
    sort            TEXT NOT NULL DEFAULT 'id',
    sort_order      TEXT NOT NULL DEFAULT 'ASC',
    status_filter   TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_preferences_user_table ON _preferences (user_id, table_name)`,
		`CREATE TABLE IF NOT EXISTS _bookmarks (
    id         {PK},
    user_id    INTEGER NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    icon_class TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS _messages (
    id               {PK},
    from_id          INTEGER NOT NULL,
    subject          TEXT NOT NULL DEFAULT '',
    message          TEXT NOT NULL DEFAULT '',
    datetime         {TS},
    response_to      INTEGER,
    comment_metadata TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS _message_recipients (
    id           {PK},
    message_id   INTEGER NOT NULL,
    recipient_id INTEGER NOT NULL,
    read         INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_message_recipients_recipient ON _message_recipients (recipient_id)`,
		`CREATE TABLE IF NOT EXISTS _settings (
    id         {PK},
    collection TEXT NOT NULL DEFAULT 'global',
    name       TEXT NOT NULL,
    value      TEXT NOT NULL DEFAULT '',
    UNIQUE (collection, name)
)`,
		`CREATE TABLE IF NOT EXISTS _files (
    id              {PK},
    status          INTEGER NOT NULL DEFAULT 1,
    name            TEXT NOT NULL DEFAULT '',
    title           TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    caption         TEXT NOT NULL DEFAULT '',
    type            TEXT NOT NULL DEFAULT '',
    charset         TEXT NOT NULL DEFAULT '',
    tags            TEXT NOT NULL DEFAULT '',
    width           INTEGER NOT NULL DEFAULT 0,
    height          INTEGER NOT NULL DEFAULT 0,
    size            INTEGER NOT NULL DEFAULT 0,
    user_id         INTEGER NOT NULL DEFAULT 0,
    date_uploaded   {TS},
    storage_adapter TEXT NOT NULL DEFAULT 'local'
)`,
	}

	stmts := make([]string, len(ddl))
	for i, s := range ddl {
		s = strings.ReplaceAll(s, "{PK}", pk)
		s = strings.ReplaceAll(s, "{TS}", ts)
		stmts[i] = s
	}
	return stmts
}

// systemTables are created by Bootstrap and hidden from the privileges
// administration listing.
var systemTables = []string{
	"_tables", "_columns", "_privileges", "_groups", "_users", "_activity",
	"_preferences", "_bookmarks", "_messages", "_message_recipients",
	"_settings", "_files",
}

// IsSystemTable reports whether name is one of the bootstrap tables.
func IsSystemTable(name string) bool {
	for _, t := range systemTables {
		if t == name {
			return true
		}
	}
	return false
}

// fullPermissions is the complete grant token set, seeded for the root group.
const fullPermissions = "view,bigview,add,edit,bigedit,delete,bigdelete,alter"

// Bootstrap creates the system tables and seeds the root group, the admin
// user and the root privileges when the database is empty.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range s.Dialect.SystemTablesSQL() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
	}
	if err := s.seedRootGroup(ctx); err != nil {
		return fmt.Errorf("seed root group: %w", err)
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	if err := s.seedRootPrivileges(ctx); err != nil {
		return fmt.Errorf("seed root privileges: %w", err)
	}
	return nil
}

func (s *Store) seedRootGroup(ctx context.Context) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _groups").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	d := s.Dialect
	sqlStr := fmt.Sprintf(
		"INSERT INTO _groups (id, name, description) VALUES (%s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	_, err := s.DB.ExecContext(ctx, sqlStr, 1, "Administrators", "Root group")
	return err
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	d := s.Dialect
	sqlStr := fmt.Sprintf(
		"INSERT INTO _users (status, email, password, group_id) VALUES (%s, %s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))
	if _, err := s.DB.ExecContext(ctx, sqlStr, 1, "admin@localhost", string(hash), 1); err != nil {
		return err
	}

	log.Println("WARNING: Default admin user created (admin@localhost / changeme) - change the password immediately.")
	return nil
}

func (s *Store) seedRootPrivileges(ctx context.Context) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _privileges").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	d := s.Dialect
	sqlStr := fmt.Sprintf(
		"INSERT INTO _privileges (group_id, table_name, permissions) VALUES (%s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	for _, table := range systemTables {
		if _, err := s.DB.ExecContext(ctx, sqlStr, 1, table, fullPermissions); err != nil {
			return err
		}
	}
	return nil
}
