package database

import (
	"time"

	"gorm.io/gorm"
)

// Table models used only for migrations. Runtime access goes through the
// prepared statements in queries.go.

type UserModel struct {
	ID      int32 `gorm:"primaryKey;autoIncrement"`
	SteamID int64 `gorm:"not null;uniqueIndex"`
}

func (UserModel) TableName() string { return "users" }

type LoadoutModel struct {
	ID        int32     `gorm:"primaryKey;autoIncrement"`
	UserID    int32     `gorm:"not null;index"`
	User      UserModel `gorm:"constraint:OnDelete:CASCADE"`
	Name      string    `gorm:"type:varchar(255);not null"`
	Data      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LoadoutModel) TableName() string { return "loadouts" }

type ImageModel struct {
	ID        int32        `gorm:"primaryKey;autoIncrement"`
	URL       string       `gorm:"column:url;type:text;not null"`
	LoadoutID int32        `gorm:"not null;uniqueIndex:idx_images_loadout_position"`
	Loadout   LoadoutModel `gorm:"constraint:OnDelete:CASCADE"`
	Position  int32        `gorm:"not null;check:position >= 0;uniqueIndex:idx_images_loadout_position"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ImageModel) TableName() string { return "images" }

type LikeModel struct {
	ID        int32        `gorm:"primaryKey;autoIncrement"`
	UserID    int32        `gorm:"not null;uniqueIndex:idx_likes_user_loadout"`
	User      UserModel    `gorm:"constraint:OnDelete:CASCADE"`
	LoadoutID int32        `gorm:"not null;uniqueIndex:idx_likes_user_loadout;index"`
	Loadout   LoadoutModel `gorm:"constraint:OnDelete:CASCADE"`
}

func (LikeModel) TableName() string { return "likes" }

// Migrate creates or updates every table the statements depend on.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserModel{}, &LoadoutModel{}, &ImageModel{}, &LikeModel{})
}
