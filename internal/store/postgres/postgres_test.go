package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/alerts?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "alerts", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@db:6543/a?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "a", User: "u", Password: "p", SSLMode: "require"}))
}

func TestListQueryBuildsPlaceholdersInOrder(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	sql, args := newListQuery(`SELECT id FROM alerts WHERE owner_id = $1`, "o").
		apply(domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20}, "fired_at", "fired_at DESC")

	assert.Equal(t,
		`SELECT id FROM alerts WHERE owner_id = $1 AND fired_at >= $2 AND fired_at < $3 ORDER BY fired_at DESC LIMIT $4 OFFSET $5`,
		sql)
	assert.Equal(t, []any{"o", since, until, 10, 20}, args)
}

func TestListQueryWithoutOptions(t *testing.T) {
	sql, args := newListQuery(`SELECT id FROM audit_log WHERE 1=1`).
		apply(domain.ListOpts{}, "created_at", "created_at DESC")
	assert.Equal(t, `SELECT id FROM audit_log WHERE 1=1 ORDER BY created_at DESC`, sql)
	assert.Empty(t, args)
}

func TestMigrationsAreEmbeddedInOrder(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}
