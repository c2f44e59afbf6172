package module

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// SQLLoader reads module source from a table of (name, source) rows. The
// database driver must be registered by the host.
type SQLLoader struct {
	db     *sql.DB
	driver string
	table  string
	query  string
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DriverName maps a configured database type to a registered driver name.
func DriverName(kind string) (string, error) {
	switch kind {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "sqlite3-cgo":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlserver", "mssql":
		return "sqlserver", nil
	default:
		return "", errors.Errorf("unsupported database type: %s", kind)
	}
}

// OpenDB opens and pings a connection for a module table.
func OpenDB(ctx context.Context, kind, dsn string) (*sql.DB, string, error) {
	driver, err := DriverName(kind)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", errors.Wrapf(err, "open %s", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", errors.Wrapf(err, "ping %s", driver)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, driver, nil
}

// NewSQLLoader reads from table on db. driver selects the placeholder style.
func NewSQLLoader(db *sql.DB, driver, table string) (*SQLLoader, error) {
	if table == "" {
		table = "quill_modules"
	}
	if !identRE.MatchString(table) {
		return nil, errors.Errorf("invalid module table name %q", table)
	}
	return &SQLLoader{
		db:     db,
		driver: driver,
		table:  table,
		query:  fmt.Sprintf("SELECT source FROM %s WHERE name = %s", table, placeholder(driver, 1)),
	}, nil
}

func placeholder(driver string, n int) string {
	switch driver {
	case "postgres", "pgx":
		return fmt.Sprintf("$%d", n)
	case "sqlserver", "mssql":
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

func (l *SQLLoader) Table() string { return l.table }

func (l *SQLLoader) Load(ctx context.Context, specifier string) (Source, error) {
	var text string
	err := l.db.QueryRowContext(ctx, l.query, specifier).Scan(&text)
	if err == sql.ErrNoRows {
		return Source{}, errors.Wrapf(ErrNotFound, "%s", specifier)
	}
	if err != nil {
		return Source{}, errors.Wrapf(err, "query module %s", specifier)
	}
	return Source{Name: specifier, Text: text, Origin: "sql:" + l.table + "/" + specifier}, nil
}

// EnsureSchema creates the module table if it does not exist.
func (l *SQLLoader) EnsureSchema(ctx context.Context) error {
	var stmt string
	switch l.driver {
	case "sqlserver", "mssql":
		stmt = fmt.Sprintf("IF OBJECT_ID(N'%[1]s', N'U') IS NULL CREATE TABLE %[1]s (name NVARCHAR(255) PRIMARY KEY, source NVARCHAR(MAX) NOT NULL)", l.table)
	default:
		stmt = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (name VARCHAR(255) PRIMARY KEY, source TEXT NOT NULL)", l.table)
	}
	_, err := l.db.ExecContext(ctx, stmt)
	return errors.Wrapf(err, "create table %s", l.table)
}

// Store inserts or replaces the source of a module.
func (l *SQLLoader) Store(ctx context.Context, name, source string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	del := fmt.Sprintf("DELETE FROM %s WHERE name = %s", l.table, placeholder(l.driver, 1))
	if _, err := tx.ExecContext(ctx, del, name); err != nil {
		return errors.Wrapf(err, "delete module %s", name)
	}
	ins := fmt.Sprintf("INSERT INTO %s (name, source) VALUES (%s, %s)", l.table, placeholder(l.driver, 1), placeholder(l.driver, 2))
	if _, err := tx.ExecContext(ctx, ins, name, source); err != nil {
		return errors.Wrapf(err, "insert module %s", name)
	}
	return errors.Wrap(tx.Commit(), "commit")
}
