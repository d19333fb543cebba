package model

import (
	"time"

	"gorm.io/gorm"
)

// RefreshToken is the persisted record of an issued long-lived token.
// Only the SHA-256 digest of the token is stored; the plaintext value is
// handed to the client once and never written anywhere.
type RefreshToken struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	UserID    uint           `json:"user_id" gorm:"index;not null"`
	TokenHash string         `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt time.Time      `json:"expires_at"`
	Revoked   bool           `json:"revoked" gorm:"default:false"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// IsExpired checks if the token is expired
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsValid checks if the token is valid (not expired and not revoked)
func (t *RefreshToken) IsValid() bool {
	return !t.Revoked && !t.IsExpired()
}

// PurgeExpiredRefreshTokens physically deletes tokens past their expiry.
// Revocation elsewhere only flags rows; this on-demand sweep is the only
// place rows are removed.
func PurgeExpiredRefreshTokens(db *gorm.DB) (int64, error) {
	result := db.Unscoped().Where("expires_at < ?", time.Now()).Delete(&RefreshToken{})
	return result.RowsAffected, result.Error
}

// CountActiveRefreshTokens counts tokens that can still authenticate, the
// source of truth the live-token gauge is reconciled from.
func CountActiveRefreshTokens(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&RefreshToken{}).
		Where("revoked = ? AND expires_at > ?", false, time.Now()).
		Count(&count).Error
	return count, err
}

// RevokeAllRefreshTokensForUser cascade-revokes every live token a user
// holds, used when an account is deactivated or removed.
func RevokeAllRefreshTokensForUser(db *gorm.DB, userID uint) error {
	return db.Model(&RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
}
