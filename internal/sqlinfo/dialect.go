package sqlinfo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

// Dialect isolates the SQL differences between backing stores.
type Dialect interface {
	// Name is the configuration name, e.g. "sqlite".
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	QuoteIdentifier(name string) string
	// ColumnType returns the DDL type of a non-id column.
	ColumnType(t model.PropertyType) string
	// IDColumnType returns the DDL type of columns holding node ids.
	IDColumnType(storeAssigned bool) string
	// IdentityColumn returns the full definition of a store-assigned id column.
	IdentityColumn(quotedName string) string
	// IdentityFetch returns the statement reading the id just assigned.
	IdentityFetch(table, column string) string
	// ClobCast wraps a large-text column used in a comparison.
	ClobCast(expr string) string
	// ClobOrderBy wraps a large-text column used in ORDER BY.
	ClobOrderBy(expr string) string
	BooleanLiteral(b bool) string
	// Rebind rewrites "?" placeholders into the driver's syntax.
	Rebind(query string) string
	// TableExists returns a query counting tables named by its one parameter.
	TableExists() string
}

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgresql", "postgres", "pgx":
		return PostgreSQL{}, nil
	default:
		return nil, storage.NewConfigError("unknown dialect %q", name)
	}
}

// SQLite targets github.com/mattn/go-sqlite3.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }

func (SQLite) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnType uses declared types the driver recognizes when scanning:
// BOOLEAN comes back as bool and TIMESTAMP as time.Time.
func (SQLite) ColumnType(t model.PropertyType) string {
	switch t.Kind {
	case model.KindText:
		return "CLOB"
	case model.KindBoolean:
		return "BOOLEAN"
	case model.KindLong:
		return "INTEGER"
	case model.KindDouble:
		return "DOUBLE"
	case model.KindDateTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func (SQLite) IDColumnType(storeAssigned bool) string {
	if storeAssigned {
		return "INTEGER"
	}
	return "VARCHAR(36)"
}

// IdentityColumn uses AUTOINCREMENT so ids of deleted rows are never reused;
// other sessions may still hold invalidations for them.
func (SQLite) IdentityColumn(quotedName string) string {
	return quotedName + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (SQLite) IdentityFetch(table, column string) string {
	return "SELECT last_insert_rowid()"
}

func (SQLite) ClobCast(expr string) string { return expr }

func (SQLite) ClobOrderBy(expr string) string { return expr + " COLLATE BINARY" }

func (SQLite) BooleanLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (SQLite) Rebind(query string) string { return query }

func (SQLite) TableExists() string {
	return "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

// PostgreSQL targets github.com/jackc/pgx/v5/stdlib.
type PostgreSQL struct{}

func (PostgreSQL) Name() string       { return "postgresql" }
func (PostgreSQL) DriverName() string { return "pgx" }

func (PostgreSQL) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (PostgreSQL) ColumnType(t model.PropertyType) string {
	switch t.Kind {
	case model.KindText:
		return "TEXT"
	case model.KindBoolean:
		return "BOOLEAN"
	case model.KindLong:
		return "BIGINT"
	case model.KindDouble:
		return "DOUBLE PRECISION"
	case model.KindDateTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func (PostgreSQL) IDColumnType(storeAssigned bool) string {
	if storeAssigned {
		return "BIGINT"
	}
	return "VARCHAR(36)"
}

func (PostgreSQL) IdentityColumn(quotedName string) string {
	return quotedName + " BIGSERIAL PRIMARY KEY"
}

func (PostgreSQL) IdentityFetch(table, column string) string {
	return fmt.Sprintf("SELECT currval(pg_get_serial_sequence('%s', '%s'))", table, column)
}

func (PostgreSQL) ClobCast(expr string) string { return "CAST(" + expr + " AS VARCHAR)" }

func (PostgreSQL) ClobOrderBy(expr string) string { return expr + ` COLLATE "C"` }

func (PostgreSQL) TableExists() string {
	return "SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
}

func (PostgreSQL) BooleanLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Rebind numbers placeholders $1, $2, ... skipping quoted literals.
func (PostgreSQL) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
