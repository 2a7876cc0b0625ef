// SPDX-License-Identifier: Apache-2.0

package migrate_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duraq/duraq/pkg/migrate"
	"github.com/duraq/duraq/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestMigrateFromZeroAppliesEveryMigration(t *testing.T) {
	testutils.WithMigratedStoreInSchema(t, testutils.TestSchema(), func(store *migrate.Store, db *sql.DB) {
		version, err := store.CurrentVersion(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, version)

		var exists bool
		err = db.QueryRowContext(context.Background(), `SELECT EXISTS (
			SELECT 1 FROM pg_tables WHERE schemaname = $1 AND tablename = 'job'
		)`, testutils.TestSchema()).Scan(&exists)
		assert.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestCurrentVersionBeforeMigrateIsZero(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := migrate.New(ctx, connStr, testutils.TestSchema(), "development")
		assert.NoError(t, err)
		defer store.Close()

		version, err := store.CurrentVersion(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, version)
	})
}

func TestMigrateIsIdempotentFromCurrentVersion(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := migrate.New(ctx, connStr, testutils.TestSchema(), "development")
		assert.NoError(t, err)
		defer store.Close()

		applied, err := store.Migrate(ctx, 0)
		assert.NoError(t, err)
		assert.Equal(t, 1, applied)

		version, err := store.CurrentVersion(ctx)
		assert.NoError(t, err)

		applied, err = store.Migrate(ctx, version)
		assert.NoError(t, err)
		assert.Equal(t, 0, applied)
	})
}

func TestRollbackReturnsToPreviousVersion(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := migrate.New(ctx, connStr, testutils.TestSchema(), "development")
		assert.NoError(t, err)
		defer store.Close()

		_, err = store.Migrate(ctx, 0)
		assert.NoError(t, err)

		assert.NoError(t, store.Rollback(ctx))

		version, err := store.CurrentVersion(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, version)
	})
}

func TestNextAppliesExactlyOneMigration(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := migrate.New(ctx, connStr, testutils.TestSchema(), "development")
		assert.NoError(t, err)
		defer store.Close()

		assert.NoError(t, store.Next(ctx))

		version, err := store.CurrentVersion(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, version)

		err = store.Next(ctx)
		assert.ErrorIs(t, err, migrate.ErrNotFound)
	})
}

func TestSchemaVersionRecordsBinaryVersion(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := migrate.New(ctx, connStr, testutils.TestSchema(), "v1.4.2")
		assert.NoError(t, err)
		defer store.Close()

		version, err := store.SchemaVersion(ctx)
		assert.NoError(t, err)
		assert.Empty(t, version)

		_, err = store.Migrate(ctx, 0)
		assert.NoError(t, err)

		version, err = store.SchemaVersion(ctx)
		assert.NoError(t, err)
		assert.Equal(t, "v1.4.2", version)
	})
}

func TestCheckVersionCompatibility(t *testing.T) {
	compat, err := migrate.CheckVersionCompatibility("v1.2.0", "v1.1.0")
	assert.NoError(t, err)
	assert.Equal(t, migrate.VersionCompatOlder, compat)

	compat, err = migrate.CheckVersionCompatibility("v1.0.0", "v1.0.0")
	assert.NoError(t, err)
	assert.Equal(t, migrate.VersionCompatEqual, compat)

	_, err = migrate.CheckVersionCompatibility("v1.0.0", "v2.0.0")
	assert.ErrorIs(t, err, migrate.ErrSchemaNewerThanBinary)

	compat, err = migrate.CheckVersionCompatibility("development", "v1.0.0")
	assert.NoError(t, err)
	assert.Equal(t, migrate.VersionCompatSkipped, compat)
}
