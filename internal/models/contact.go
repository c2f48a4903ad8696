package models

import (
	"errors"
	"net/mail"
	"strings"
)

// ContactKind describes which contact methods a record carries.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
	ContactBoth  ContactKind = "both"
)

// Channel is the medium a verification code travels over.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "voice"
	ChannelWhatsApp Channel = "whatsapp"
)

var (
	// ErrInvalidContact is returned for addresses that are neither an email nor a phone number.
	ErrInvalidContact = errors.New("contact: invalid address")
	// ErrChannelMismatch is returned when a channel cannot reach the given contact kind.
	ErrChannelMismatch = errors.New("contact: channel cannot reach address")
)

// Reaches reports whether the channel can deliver to a contact of the given kind.
func (c Channel) Reaches(kind ContactKind) bool {
	switch c {
	case ChannelEmail:
		return kind == ContactEmail
	case ChannelSMS, ChannelVoice, ChannelWhatsApp:
		return kind == ContactPhone
	default:
		return false
	}
}

// DefaultChannel returns the channel used when a request does not name one.
func DefaultChannel(kind ContactKind) Channel {
	if kind == ContactPhone {
		return ChannelSMS
	}
	return ChannelEmail
}

// NormalizeEmail lower-cases and trims an email address, validating its shape.
func NormalizeEmail(value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", ErrInvalidContact
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return "", ErrInvalidContact
	}
	return value, nil
}

// NormalizePhone strips common separators and checks for digits with an optional leading '+'.
func NormalizePhone(value string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(value) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", ErrInvalidContact
		}
	}

	phone := b.String()
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", ErrInvalidContact
	}
	return phone, nil
}

// ClassifyContact normalises an address and reports whether it is an email or a phone number.
func ClassifyContact(value string) (ContactKind, string, error) {
	if strings.Contains(value, "@") {
		email, err := NormalizeEmail(value)
		return ContactEmail, email, err
	}
	phone, err := NormalizePhone(value)
	return ContactPhone, phone, err
}
