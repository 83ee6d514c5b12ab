package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialect struct{}

func (fakeDialect) Name() string                           { return "fake" }
func (fakeDialect) Table(name string) string               { return "app." + name }
func (fakeDialect) Rebind(q string) string                 { return RebindDollar(q) }
func (fakeDialect) IsUniqueViolation(error) bool           { return false }
func (fakeDialect) Migrations() ([]Migration, error)       { return nil, nil }
func (fakeDialect) Prepare(context.Context, *sql.DB) error { return nil }

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = $1"},
		{"VALUES (?, ?, ?)", "VALUES ($1, $2, $3)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RebindDollar(tt.in))
	}
	assert.Equal(t, "a = ?", RebindQuestion("a = ?"))
}

func TestStore_SQL(t *testing.T) {
	s := New(nil, fakeDialect{})

	got := s.sql(`SELECT * FROM {{events}} e JOIN {{audit_records}} a ON a.event_id = e.event_id WHERE e.aggregate_id = ?`)
	assert.Equal(t, `SELECT * FROM app.events e JOIN app.audit_records a ON a.event_id = e.event_id WHERE e.aggregate_id = $1`, got)
}

func TestLoadMigrations(t *testing.T) {
	t.Run("orders by version and keeps the up section", func(t *testing.T) {
		fsys := fstest.MapFS{
			"m/0002_read_models.sql": {Data: []byte("CREATE TABLE b (id INT);")},
			"m/0001_event_log.sql": {Data: []byte(
				"-- +migrate Up\nCREATE TABLE a (id INT);\n-- +migrate Down\nDROP TABLE a;\n")},
			"m/README.md": {Data: []byte("ignored")},
		}

		migrations, err := LoadMigrations(fsys, "m")
		require.NoError(t, err)
		require.Len(t, migrations, 2)

		assert.Equal(t, 1, migrations[0].Version)
		assert.Equal(t, "event_log", migrations[0].Name)
		assert.Contains(t, migrations[0].SQL, "CREATE TABLE a")
		assert.NotContains(t, migrations[0].SQL, "DROP TABLE")
		assert.Equal(t, "read_models", migrations[1].Name)
	})

	t.Run("rejects badly named files", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{"m/init.sql": {Data: []byte("")}}, "m")
		assert.ErrorContains(t, err, "NNNN_name.sql")

		_, err = LoadMigrations(fstest.MapFS{"m/x_init.sql": {Data: []byte("")}}, "m")
		assert.ErrorContains(t, err, "invalid version")
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{
			"m/0001_a.sql": {Data: []byte("")},
			"m/001_b.sql":  {Data: []byte("")},
		}, "m")
		assert.ErrorContains(t, err, "share version 1")
	})
}

func TestStatements(t *testing.T) {
	sql := `
-- events
CREATE TABLE a (id INT);

CREATE INDEX idx_a ON a (id);
`
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX idx_a ON a (id)"}, statements(sql))
	assert.Empty(t, statements("  \n-- only a comment\n"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestMillis(t *testing.T) {
	at := time.Date(2024, 1, 22, 8, 30, 0, 123_000_000, time.FixedZone("JST", 9*3600))
	assert.True(t, at.Equal(fromMillis(toMillis(at))))
	assert.Equal(t, time.UTC, fromMillis(toMillis(at)).Location())
}
