package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type pkceRecordRow struct {
	State        string    `gorm:"column:state;primaryKey;size:64"`
	CodeVerifier string    `gorm:"column:code_verifier;not null"`
	CallbackURL  string    `gorm:"column:callback_url;not null"`
	ExpiresAt    time.Time `gorm:"column:expires_at;index;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (pkceRecordRow) TableName() string {
	return "oauth_pkce_data"
}

func (row pkceRecordRow) record() PKCERecord {
	return PKCERecord{
		State:        row.State,
		CodeVerifier: row.CodeVerifier,
		CallbackURL:  row.CallbackURL,
		ExpiresAt:    row.ExpiresAt.UTC(),
	}
}

// DatabasePKCEStore is the SQL durable tier backed by GORM.
type DatabasePKCEStore struct {
	database *Database
}

// OpenDatabasePKCEStore migrates the PKCE table on database and wraps it as a durable tier.
// The table layout matches the one authkitpg creates, so either may own a shared Postgres database.
func OpenDatabasePKCEStore(ctx context.Context, database *Database) (*DatabasePKCEStore, error) {
	if err := database.db.WithContext(ctx).AutoMigrate(&pkceRecordRow{}); err != nil {
		return nil, fmt.Errorf("database.migrate.%s: pkce: %w", database.driverLabel, err)
	}
	return &DatabasePKCEStore{database: database}, nil
}

// Name labels the tier in logs.
func (store *DatabasePKCEStore) Name() string {
	return "sql." + store.database.driverLabel
}

// Save upserts the record.
func (store *DatabasePKCEStore) Save(ctx context.Context, record PKCERecord) error {
	row := pkceRecordRow{
		State:        record.State,
		CodeVerifier: record.CodeVerifier,
		CallbackURL:  record.CallbackURL,
		ExpiresAt:    record.ExpiresAt.UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.database.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("pkce_store.save.%s: %w", store.database.driverLabel, err)
	}
	return nil
}

// Load reads the record without deleting it.
func (store *DatabasePKCEStore) Load(ctx context.Context, state string) (PKCERecord, error) {
	var row pkceRecordRow
	err := store.database.db.WithContext(ctx).Where("state = ?", state).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PKCERecord{}, ErrStateNotFound
		}
		return PKCERecord{}, fmt.Errorf("pkce_store.load.%s: %w", store.database.driverLabel, err)
	}
	return row.record(), nil
}

// Take reads then deletes the record. Only the caller whose DELETE affects the row wins.
func (store *DatabasePKCEStore) Take(ctx context.Context, state string) (PKCERecord, error) {
	var taken PKCERecord
	err := store.database.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var row pkceRecordRow
		if findErr := transaction.Where("state = ?", state).Take(&row).Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return ErrStateNotFound
			}
			return findErr
		}
		result := transaction.Where("state = ?", state).Delete(&pkceRecordRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrStateNotFound
		}
		taken = row.record()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return PKCERecord{}, ErrStateNotFound
		}
		return PKCERecord{}, fmt.Errorf("pkce_store.take.%s: %w", store.database.driverLabel, err)
	}
	return taken, nil
}

// Remove deletes the record; a missing record is not an error.
func (store *DatabasePKCEStore) Remove(ctx context.Context, state string) error {
	if err := store.database.db.WithContext(ctx).Where("state = ?", state).Delete(&pkceRecordRow{}).Error; err != nil {
		return fmt.Errorf("pkce_store.remove.%s: %w", store.database.driverLabel, err)
	}
	return nil
}

// DeleteExpired removes rows past their deadline and returns how many were dropped.
func (store *DatabasePKCEStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := store.database.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&pkceRecordRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("pkce_store.delete_expired.%s: %w", store.database.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}
