package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errEmptyOpenID = errors.New("user_store.empty_open_id")

type userRecord struct {
	OpenID          string    `gorm:"column:open_id;primaryKey;size:128"`
	Name            string    `gorm:"column:name;not null;default:''"`
	Username        string    `gorm:"column:username;index;not null;default:''"`
	ProfileImageURL string    `gorm:"column:profile_image_url;not null;default:''"`
	LastSignedInAt  time.Time `gorm:"column:last_signed_in_at;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

func (record userRecord) user() *User {
	return &User{
		OpenID:          record.OpenID,
		Name:            record.Name,
		Username:        record.Username,
		ProfileImageURL: record.ProfileImageURL,
		LastSignedInAt:  record.LastSignedInAt.UTC(),
		CreatedAt:       record.CreatedAt.UTC(),
		UpdatedAt:       record.UpdatedAt.UTC(),
	}
}

// DatabaseUserStore persists users using GORM.
type DatabaseUserStore struct {
	database *Database
	now      func() time.Time
}

// NewDatabaseUserStore wraps an opened Database.
func NewDatabaseUserStore(database *Database) *DatabaseUserStore {
	return &DatabaseUserStore{
		database: database,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FindByOpenID loads a user.
func (store *DatabaseUserStore) FindByOpenID(ctx context.Context, openID string) (*User, error) {
	if strings.TrimSpace(openID) == "" {
		return nil, fmt.Errorf("user_store.find.%s: %w", store.database.driverLabel, errEmptyOpenID)
	}
	var record userRecord
	err := store.database.db.WithContext(ctx).Where("open_id = ?", openID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user_store.find.%s: %w", store.database.driverLabel, ErrUserNotFound)
		}
		return nil, fmt.Errorf("user_store.find.%s: %w", store.database.driverLabel, err)
	}
	return record.user(), nil
}

// Upsert inserts the user or updates its profile columns on conflict.
func (store *DatabaseUserStore) Upsert(ctx context.Context, user User) (*User, error) {
	if strings.TrimSpace(user.OpenID) == "" {
		return nil, fmt.Errorf("user_store.upsert.%s: %w", store.database.driverLabel, errEmptyOpenID)
	}
	now := store.now()
	if user.LastSignedInAt.IsZero() {
		user.LastSignedInAt = now
	}
	record := userRecord{
		OpenID:          user.OpenID,
		Name:            user.Name,
		Username:        user.Username,
		ProfileImageURL: user.ProfileImageURL,
		LastSignedInAt:  user.LastSignedInAt.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := store.database.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "open_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "username", "profile_image_url", "last_signed_in_at", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("user_store.upsert.%s: %w", store.database.driverLabel, err)
	}
	return store.FindByOpenID(ctx, user.OpenID)
}

// TouchLastSignedIn updates the activity timestamp.
func (store *DatabaseUserStore) TouchLastSignedIn(ctx context.Context, openID string, signedInAt time.Time) error {
	result := store.database.db.WithContext(ctx).Model(&userRecord{}).
		Where("open_id = ?", openID).
		Updates(map[string]any{"last_signed_in_at": signedInAt.UTC(), "updated_at": store.now()})
	if result.Error != nil {
		return fmt.Errorf("user_store.touch.%s: %w", store.database.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user_store.touch.%s: %w", store.database.driverLabel, ErrUserNotFound)
	}
	return nil
}
