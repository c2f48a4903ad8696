package models

// User is an identity record. Username, Email and Phone are optional but unique when set;
// at least one of Email or Phone is always present.
type User struct {
	BaseModel

	Username      *string `gorm:"uniqueIndex;size:64" json:"username,omitempty"`
	Email         *string `gorm:"uniqueIndex;size:320" json:"email,omitempty"`
	EmailVerified bool    `gorm:"not null" json:"email_verified"`
	Phone         *string `gorm:"uniqueIndex;size:32" json:"phone,omitempty"`
	PhoneVerified bool    `gorm:"not null" json:"phone_verified"`

	// PasswordHash is empty for federation-only accounts.
	PasswordHash string `json:"-"`
}

// Contact reports which contact methods the user carries.
func (u User) Contact() ContactKind {
	switch {
	case u.Email != nil && u.Phone != nil:
		return ContactBoth
	case u.Phone != nil:
		return ContactPhone
	default:
		return ContactEmail
	}
}

// HasContact reports whether at least one contact method is present.
func (u User) HasContact() bool {
	return deref(u.Email) != "" || deref(u.Phone) != ""
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// UsernameValue returns the username or an empty string.
func (u User) UsernameValue() string { return deref(u.Username) }

// EmailValue returns the email address or an empty string.
func (u User) EmailValue() string { return deref(u.Email) }

// PhoneValue returns the phone number or an empty string.
func (u User) PhoneValue() string { return deref(u.Phone) }

// Owns reports whether address is one of the user's contacts of the given kind.
func (u User) Owns(kind ContactKind, address string) bool {
	switch kind {
	case ContactEmail:
		return address != "" && deref(u.Email) == address
	case ContactPhone:
		return address != "" && deref(u.Phone) == address
	default:
		return false
	}
}

// Verified reports whether the contact of the given kind has been verified.
func (u User) Verified(kind ContactKind) bool {
	switch kind {
	case ContactEmail:
		return u.Email != nil && u.EmailVerified
	case ContactPhone:
		return u.Phone != nil && u.PhoneVerified
	case ContactBoth:
		return u.Verified(ContactEmail) && u.Verified(ContactPhone)
	default:
		return false
	}
}

// MarkVerified flips the verified flag for address when the user owns it.
func (u *User) MarkVerified(kind ContactKind, address string) bool {
	if !u.Owns(kind, address) {
		return false
	}
	if kind == ContactEmail {
		u.EmailVerified = true
	} else {
		u.PhoneVerified = true
	}
	return true
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	u.Username = clonePtr(u.Username)
	u.Email = clonePtr(u.Email)
	u.Phone = clonePtr(u.Phone)
	return u
}

// StringPtr returns a pointer to value, or nil for an empty string.
func StringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func clonePtr(value *string) *string {
	if value == nil {
		return nil
	}
	cpy := *value
	return &cpy
}
