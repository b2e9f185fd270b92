package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsStatementTimeoutOutOfRange(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "postgres://unused", StatementTimeoutMS: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")
}

func TestAppendStatementTimeout(t *testing.T) {
	assert.Equal(t,
		"postgres://h/db?options=-c%20statement_timeout%3D5000",
		appendStatementTimeout("postgres://h/db", 5000))
	assert.Equal(t,
		"postgres://h/db?sslmode=disable&options=-c%20statement_timeout%3D5000",
		appendStatementTimeout("postgres://h/db?sslmode=disable", 5000))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := Migrations.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_scan_cursors.up.sql", entries[0].Name())

}
