package models

import "time"

// Challenge is a single-use, time-boxed proof of ownership for a contact address.
// Its ID doubles as the magic-link reference; only a hash of the code is stored.
type Challenge struct {
	BaseModel

	// OwnerID is empty while the contact does not yet belong to a user.
	OwnerID     string      `gorm:"size:36;index" json:"owner_id,omitempty"`
	Contact     string      `gorm:"size:320;not null;index" json:"contact"`
	ContactKind ContactKind `gorm:"size:16;not null" json:"contact_kind"`
	Channel     Channel     `gorm:"size:16;not null" json:"channel"`
	CodeHash    string      `gorm:"size:64;not null" json:"-"`
	ExpiresAt   time.Time   `gorm:"index" json:"expires_at"`
	Consumed    bool        `gorm:"not null;index" json:"consumed"`
	ConsumedAt  *time.Time  `json:"consumed_at,omitempty"`
}

// Expired reports whether now is past the challenge expiry.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Pending reports whether the challenge can still be confirmed at now.
func (c Challenge) Pending(now time.Time) bool {
	return !c.Consumed && !c.Expired(now)
}

// Purgeable reports whether now is more than retention past the challenge expiry. Consumed
// challenges age from ExpiresAt as well.
func (c Challenge) Purgeable(now time.Time, retention time.Duration) bool {
	if retention < 0 {
		retention = 0
	}
	return now.After(c.ExpiresAt.Add(retention))
}

// Clone returns a deep copy of the challenge.
func (c Challenge) Clone() Challenge {
	if c.ConsumedAt != nil {
		at := *c.ConsumedAt
		c.ConsumedAt = &at
	}
	return c
}
