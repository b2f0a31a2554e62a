package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_ReportsSchemaVersion(t *testing.T) {
	setupTestDB(t)

	// already applied by TestMain, so this run is a no-op
	version, err := RunMigrations(context.Background(), testDSN)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version, "both health migrations are applied")
}

func TestRunMigrations_BadDSN(t *testing.T) {
	_, err := RunMigrations(context.Background(), "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health schema")
}
