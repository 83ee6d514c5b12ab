package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures what differs between the SQL databases the store runs on.
//
// Queries are written once with `?` placeholders and `{{table}}` markers; the
// dialect rewrites placeholders and qualifies table names.
type Dialect interface {
	// Name identifies the dialect in errors and logs.
	Name() string

	// Table returns the qualified name of a table.
	Table(name string) string

	// Rebind rewrites `?` placeholders into the dialect's bind syntax.
	Rebind(query string) string

	// IsUniqueViolation reports whether err is a unique or primary key violation.
	IsUniqueViolation(err error) bool

	// Migrations returns the dialect's schema migrations in version order.
	Migrations() ([]Migration, error)

	// Prepare runs before migrations, e.g. to create a schema.
	Prepare(ctx context.Context, db *sql.DB) error
}

// Tables lists every table the store uses, in the form they appear inside `{{ }}` markers.
var Tables = []string{
	"events",
	"snapshots",
	"audit_records",
	"calendar_entries",
	"approval_queue",
	"schema_migrations",
}

// RebindQuestion leaves `?` placeholders unchanged.
func RebindQuestion(query string) string {
	return query
}

// RebindDollar rewrites `?` placeholders into `$1, $2, ...`.
func RebindDollar(query string) string {
	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + n*2)
	arg := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		arg++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(arg))
	}
	return b.String()
}

// tableReplacer expands `{{name}}` markers into the dialect's table names.
func tableReplacer(d Dialect) *strings.Replacer {
	pairs := make([]string, 0, len(Tables)*2)
	for _, t := range Tables {
		pairs = append(pairs, "{{"+t+"}}", d.Table(t))
	}
	return strings.NewReplacer(pairs...)
}
