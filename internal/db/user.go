package db

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User is a visitor identified by a client-supplied user id. Rows are
// created on first attributed activity and never deleted.
type User struct {
	ID uint `gorm:"primaryKey"`

	UserID string `gorm:"uniqueIndex;size:128;not null"`

	FirstVisit time.Time `gorm:"not null"`
	LastVisit  time.Time `gorm:"index;not null"`
	VisitCount int64     `gorm:"not null"`

	IPAddress string `gorm:"size:64"`
	UserAgent string `gorm:"size:512"`
}

// Visit describes one attributed activity for user and session bookkeeping.
type Visit struct {
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
	Referrer  string
	At        time.Time
}

// TouchUser records activity for v.UserID. It inserts the user on first
// sighting and otherwise bumps last_visit and visit_count. It reports
// whether the row was created by this call. Concurrent first sightings are
// resolved by the unique index: the loser falls through to the update.
func TouchUser(tx *gorm.DB, v Visit) (bool, error) {
	at := v.At.UTC()
	u := User{
		UserID:     v.UserID,
		FirstVisit: at,
		LastVisit:  at,
		VisitCount: 1,
		IPAddress:  v.IPAddress,
		UserAgent:  v.UserAgent,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&u)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	if err := tx.Model(&User{}).Where("user_id = ?", v.UserID).Updates(map[string]any{
		"last_visit":  at,
		"visit_count": gorm.Expr("visit_count + 1"),
	}).Error; err != nil {
		return false, err
	}

	if v.IPAddress != "" {
		if err := tx.Model(&User{}).
			Where("user_id = ? AND (ip_address = '' OR ip_address IS NULL)", v.UserID).
			Update("ip_address", v.IPAddress).Error; err != nil {
			return false, err
		}
	}
	if v.UserAgent != "" {
		if err := tx.Model(&User{}).
			Where("user_id = ? AND (user_agent = '' OR user_agent IS NULL)", v.UserID).
			Update("user_agent", v.UserAgent).Error; err != nil {
			return false, err
		}
	}
	return false, nil
}
