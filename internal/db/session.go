package db

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Session is one browsing session. PageViews always equals the number of
// PageView rows carrying the session id once a tracking transaction commits.
type Session struct {
	ID uint `gorm:"primaryKey"`

	SessionID string `gorm:"uniqueIndex;size:64;not null"`
	UserID    string `gorm:"index;size:128"`

	IPAddress string `gorm:"size:64"`
	UserAgent string `gorm:"size:512"`
	Referrer  string `gorm:"size:2048"`

	StartTime time.Time `gorm:"index;not null"`
	EndTime   time.Time `gorm:"index;not null"`

	PageViews int64 `gorm:"not null"`

	// Duration in seconds, only written by the session duration call.
	Duration float64 `gorm:"not null"`
}

// TouchSession creates the session for v.SessionID or refreshes its end
// time. countPageView controls whether this activity is a page view: new
// sessions then start at one page view and existing ones are incremented.
// An anonymous session picks up v.UserID the first time one is supplied.
//
// The result is true when the session was created, or when this is the
// first page view of a session that so far only had events.
func TouchSession(tx *gorm.DB, v Visit, countPageView bool) (bool, error) {
	at := v.At.UTC()
	var views int64
	if countPageView {
		views = 1
	}
	s := Session{
		SessionID: v.SessionID,
		UserID:    v.UserID,
		IPAddress: v.IPAddress,
		UserAgent: v.UserAgent,
		Referrer:  v.Referrer,
		StartTime: at,
		EndTime:   at,
		PageViews: views,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoNothing: true,
	}).Create(&s)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	firstView := false
	updates := map[string]any{"end_time": at}
	if countPageView {
		var prev int64
		if err := tx.Model(&Session{}).
			Select("page_views").
			Where("session_id = ?", v.SessionID).
			Scan(&prev).Error; err != nil {
			return false, err
		}
		firstView = prev == 0
		updates["page_views"] = gorm.Expr("page_views + 1")
	}
	if err := tx.Model(&Session{}).Where("session_id = ?", v.SessionID).Updates(updates).Error; err != nil {
		return false, err
	}

	if v.UserID != "" {
		if err := tx.Model(&Session{}).
			Where("session_id = ? AND (user_id = '' OR user_id IS NULL)", v.SessionID).
			Update("user_id", v.UserID).Error; err != nil {
			return false, err
		}
	}
	return firstView, nil
}

// MarkSessionActive moves the end time of an existing session forward to
// at. Unknown sessions are left alone.
func MarkSessionActive(tx *gorm.DB, sessionID string, at time.Time) error {
	at = at.UTC()
	return tx.Model(&Session{}).
		Where("session_id = ? AND end_time < ?", sessionID, at).
		Update("end_time", at).Error
}

// SetSessionDuration overwrites the duration and end time of a session.
// A session id that does not exist is not an error.
func SetSessionDuration(db *gorm.DB, sessionID string, seconds float64, at time.Time) error {
	return db.Model(&Session{}).Where("session_id = ?", sessionID).Updates(map[string]any{
		"duration": seconds,
		"end_time": at.UTC(),
	}).Error
}
