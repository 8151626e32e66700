package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSchemaDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestMigrateCreatesTables(t *testing.T) {
	db := openSchemaDB(t)
	for _, table := range []string{"users", "loadouts", "images", "likes"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex(&LikeModel{}, "idx_likes_user_loadout"))
	assert.True(t, db.Migrator().HasIndex(&ImageModel{}, "idx_images_loadout_position"))
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := openSchemaDB(t)
	require.NoError(t, Migrate(db))
}

func TestSteamIDUnique(t *testing.T) {
	db := openSchemaDB(t)
	require.NoError(t, db.Exec(`INSERT INTO users (steam_id) VALUES (?)`, int64(76561198000000001)).Error)
	assert.Error(t, db.Exec(`INSERT INTO users (steam_id) VALUES (?)`, int64(76561198000000001)).Error)
}

func TestLikeUniquePerUserAndLoadout(t *testing.T) {
	db := openSchemaDB(t)
	require.NoError(t, db.Exec(`INSERT INTO users (steam_id) VALUES (1)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO loadouts (user_id, name, data) VALUES (1, 'a', 'x')`).Error)
	require.NoError(t, db.Exec(`INSERT INTO likes (user_id, loadout_id) VALUES (1, 1)`).Error)
	assert.Error(t, db.Exec(`INSERT INTO likes (user_id, loadout_id) VALUES (1, 1)`).Error)

	var n int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM loadouts WHERE created_at IS NOT NULL`).Scan(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestImagePositionConstraints(t *testing.T) {
	db := openSchemaDB(t)
	require.NoError(t, db.Exec(`INSERT INTO users (steam_id) VALUES (1)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO loadouts (user_id, name, data) VALUES (1, 'a', 'x')`).Error)
	require.NoError(t, db.Exec(`INSERT INTO images (url, loadout_id, position) VALUES ('u0', 1, 0)`).Error)
	assert.Error(t, db.Exec(`INSERT INTO images (url, loadout_id, position) VALUES ('u1', 1, 0)`).Error, "duplicate position")
	assert.Error(t, db.Exec(`INSERT INTO images (url, loadout_id, position) VALUES ('u2', 1, -1)`).Error, "negative position")
}
