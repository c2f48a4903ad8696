package store

import "github.com/charlesng35/idcore/internal/models"

// Unique index and filter names shared by every store variant.
const (
	IndexUsername = "username"
	IndexEmail    = "email"
	IndexPhone    = "phone"

	IndexRefreshToken         = "refresh_token"
	IndexPreviousRefreshToken = "previous_refresh_token"

	FieldContact  = "contact"
	FieldOwnerID  = "owner_id"
	FieldConsumed = "consumed"
	FieldChannel  = "channel"
	FieldUserID   = "user_id"
)

// UserSchema declares users with unique username, email and phone.
func UserSchema() Schema[models.User] {
	return Schema[models.User]{
		Name:  "users",
		ID:    func(u models.User) string { return u.ID },
		SetID: func(u *models.User, id string) { u.ID = id },
		Clone: func(u models.User) models.User { return u.Clone() },
		Unique: []Index[models.User]{
			{Name: IndexUsername, Column: "username", Key: models.User.UsernameValue},
			{Name: IndexEmail, Column: "email", Key: models.User.EmailValue},
			{Name: IndexPhone, Column: "phone", Key: models.User.PhoneValue},
		},
		Fields: []Field[models.User]{
			{Name: "email_verified", Column: "email_verified", Value: func(u models.User) any { return u.EmailVerified }},
			{Name: "phone_verified", Column: "phone_verified", Value: func(u models.User) any { return u.PhoneVerified }},
		},
	}
}

// ChallengeSchema declares verification challenges, filterable by contact, owner and state.
func ChallengeSchema() Schema[models.Challenge] {
	return Schema[models.Challenge]{
		Name:  "challenges",
		ID:    func(c models.Challenge) string { return c.ID },
		SetID: func(c *models.Challenge, id string) { c.ID = id },
		Clone: func(c models.Challenge) models.Challenge { return c.Clone() },
		Fields: []Field[models.Challenge]{
			{Name: FieldContact, Column: "contact", Value: func(c models.Challenge) any { return c.Contact }},
			{Name: FieldOwnerID, Column: "owner_id", Value: func(c models.Challenge) any { return c.OwnerID }},
			{Name: FieldConsumed, Column: "consumed", Value: func(c models.Challenge) any { return c.Consumed }},
			{Name: FieldChannel, Column: "channel", Value: func(c models.Challenge) any { return string(c.Channel) }},
		},
	}
}

// SessionSchema declares refresh sessions, addressable by current and superseded token digest.
func SessionSchema() Schema[models.Session] {
	return Schema[models.Session]{
		Name:  "sessions",
		ID:    func(s models.Session) string { return s.ID },
		SetID: func(s *models.Session, id string) { s.ID = id },
		Clone: func(s models.Session) models.Session { return s.Clone() },
		Unique: []Index[models.Session]{
			{Name: IndexRefreshToken, Column: "refresh_token_hash", Key: func(s models.Session) string { return s.RefreshTokenHash }},
			{Name: IndexPreviousRefreshToken, Column: "previous_refresh_hash", Key: models.Session.PreviousRefreshValue},
		},
		Fields: []Field[models.Session]{
			{Name: FieldUserID, Column: "user_id", Value: func(s models.Session) any { return s.UserID }},
		},
	}
}
