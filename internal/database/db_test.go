package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packcycle/packcycle/internal/models"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	db, err := Open(Config{DSN: "file::memory:?_foreign_keys=1"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	require.True(t, db.Migrator().HasTable(&models.Timeline{}))
	require.True(t, db.Migrator().HasTable(&models.PackageRecord{}))
	require.True(t, db.Migrator().HasTable(&models.CacheEntry{}))
}

func TestPackageRecordTupleUniqueness(t *testing.T) {
	db, err := Open(Config{DSN: "file::memory:?_foreign_keys=1"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	record := models.PackageRecord{
		TimelineID: "tl-1",
		PeriodKey:  "period_1",
		UserID:     "user-1",
		Status:     models.PackagePending,
	}
	require.NoError(t, db.Create(&record).Error)

	duplicate := models.PackageRecord{
		TimelineID: "tl-1",
		PeriodKey:  "period_1",
		UserID:     "user-1",
		Status:     models.PackagePending,
	}
	require.Error(t, db.Create(&duplicate).Error, "natural key must be unique")
}

func TestSeedDataIsIdempotent(t *testing.T) {
	db, err := Open(Config{DSN: "file::memory:?_foreign_keys=1"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrateAndSeed(db))
	require.NoError(t, SeedData(db))

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("username = ?", "admin").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "pack", Name: "packcycle", Password: "s3cret"})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=localhost")
	require.Contains(t, dsn, "dbname=packcycle")
	require.Contains(t, dsn, "sslmode=disable")

	_, err = buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "pack", Password: "pw", Name: "packcycle"})
	require.NoError(t, err)
	require.Contains(t, dsn, "pack:pw@tcp(localhost:3306)/packcycle")
	require.Contains(t, dsn, "parseTime=True")
}
