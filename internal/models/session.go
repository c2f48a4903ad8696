package models

import "time"

// Session is a refresh token family. Only SHA-256 digests of refresh tokens are stored; the
// digest replaced by the latest rotation is kept to detect replays.
type Session struct {
	BaseModel

	UserID              string     `gorm:"size:36;not null;index" json:"user_id"`
	RefreshTokenHash    string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	PreviousRefreshHash *string    `gorm:"uniqueIndex;size:64" json:"-"`
	ExpiresAt           time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt          time.Time  `json:"last_used_at"`
	RevokedAt           *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the session has been revoked.
func (s Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Expired reports whether now is past the session expiry.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Active reports whether the session can still be refreshed at now.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked() && !s.Expired(now)
}

// Purgeable reports whether the session ended more than retention before now.
func (s Session) Purgeable(now time.Time, retention time.Duration) bool {
	if retention < 0 {
		retention = 0
	}
	ended := s.ExpiresAt
	if s.RevokedAt != nil && s.RevokedAt.Before(ended) {
		ended = *s.RevokedAt
	}
	return now.After(ended.Add(retention))
}

// PreviousRefreshValue returns the superseded refresh digest or an empty string.
func (s Session) PreviousRefreshValue() string { return deref(s.PreviousRefreshHash) }

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	s.PreviousRefreshHash = clonePtr(s.PreviousRefreshHash)
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		s.RevokedAt = &at
	}
	return s
}
