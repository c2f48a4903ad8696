package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	kept := BaseModel{ID: "fixed"}
	require.NoError(t, kept.BeforeCreate(nil))
	require.Equal(t, "fixed", kept.ID)
}

func TestUserContactVariant(t *testing.T) {
	require.Equal(t, ContactEmail, User{Email: StringPtr("a@b.com")}.Contact())
	require.Equal(t, ContactPhone, User{Phone: StringPtr("+15550001111")}.Contact())
	require.Equal(t, ContactBoth, User{Email: StringPtr("a@b.com"), Phone: StringPtr("+15550001111")}.Contact())

	require.False(t, User{}.HasContact())
	require.True(t, User{Phone: StringPtr("+15550001111")}.HasContact())
}

func TestUserMarkVerified(t *testing.T) {
	user := User{Email: StringPtr("a@b.com"), Phone: StringPtr("+15550001111")}

	require.False(t, user.MarkVerified(ContactEmail, "other@b.com"))
	require.False(t, user.EmailVerified)

	require.True(t, user.MarkVerified(ContactEmail, "a@b.com"))
	require.True(t, user.Verified(ContactEmail))
	require.False(t, user.Verified(ContactBoth))

	require.True(t, user.MarkVerified(ContactPhone, "+15550001111"))
	require.True(t, user.Verified(ContactBoth))
}

func TestUserCloneIsDeep(t *testing.T) {
	user := User{Username: StringPtr("alice"), Email: StringPtr("a@b.com")}
	cpy := user.Clone()
	*cpy.Username = "mallory"

	require.Equal(t, "alice", user.UsernameValue())
	require.Equal(t, "mallory", cpy.UsernameValue())
}

func TestStringPtr(t *testing.T) {
	require.Nil(t, StringPtr(""))
	require.Equal(t, "x", *StringPtr("x"))
}

func TestClassifyContact(t *testing.T) {
	cases := []struct {
		in   string
		kind ContactKind
		want string
		ok   bool
	}{
		{" A@B.com ", ContactEmail, "a@b.com", true},
		{"not-an-email@", ContactEmail, "", false},
		{"+1 (555) 000-1111", ContactPhone, "+15550001111", true},
		{"5550001111", ContactPhone, "5550001111", true},
		{"55+50001111", ContactPhone, "", false},
		{"12345", ContactPhone, "", false},
		{"call me", ContactPhone, "", false},
	}

	for _, tc := range cases {
		kind, got, err := ClassifyContact(tc.in)
		require.Equal(t, tc.kind, kind, tc.in)
		if !tc.ok {
			require.ErrorIs(t, err, ErrInvalidContact, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestChannelReaches(t *testing.T) {
	require.True(t, ChannelEmail.Reaches(ContactEmail))
	require.False(t, ChannelEmail.Reaches(ContactPhone))
	require.True(t, ChannelSMS.Reaches(ContactPhone))
	require.True(t, ChannelWhatsApp.Reaches(ContactPhone))
	require.True(t, ChannelVoice.Reaches(ContactPhone))
	require.False(t, Channel("pigeon").Reaches(ContactPhone))

	require.Equal(t, ChannelSMS, DefaultChannel(ContactPhone))
	require.Equal(t, ChannelEmail, DefaultChannel(ContactEmail))
}

func TestChallengeState(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Challenge{ExpiresAt: now.Add(time.Hour)}

	require.True(t, c.Pending(now))
	require.False(t, c.Expired(now.Add(time.Hour)))
	require.True(t, c.Expired(now.Add(time.Hour+time.Second)))

	c.Consumed = true
	c.ConsumedAt = &now
	require.False(t, c.Pending(now))

	require.False(t, c.Purgeable(now.Add(2*time.Hour), 24*time.Hour))
	require.False(t, c.Purgeable(now.Add(25*time.Hour), 24*time.Hour))
	require.True(t, c.Purgeable(now.Add(25*time.Hour+time.Second), 24*time.Hour))
	require.True(t, c.Purgeable(now.Add(2*time.Hour), -time.Hour))

	cpy := c.Clone()
	later := now.Add(time.Minute)
	*cpy.ConsumedAt = later
	require.True(t, c.ConsumedAt.Equal(now))
}

func TestSessionState(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	previous := "digest-1"
	s := Session{ExpiresAt: now.Add(time.Hour), PreviousRefreshHash: &previous}

	require.True(t, s.Active(now))
	require.False(t, s.Active(now.Add(time.Hour+time.Second)))
	require.False(t, s.Purgeable(now.Add(2*time.Hour), 24*time.Hour))
	require.True(t, s.Purgeable(now.Add(26*time.Hour), 24*time.Hour))
	require.Equal(t, "digest-1", s.PreviousRefreshValue())

	revokedAt := now.Add(time.Minute)
	s.RevokedAt = &revokedAt
	require.True(t, s.Revoked())
	require.False(t, s.Active(now.Add(2*time.Minute)))
	require.True(t, s.Purgeable(now.Add(25*time.Hour), 24*time.Hour))

	cpy := s.Clone()
	*cpy.PreviousRefreshHash = "changed"
	*cpy.RevokedAt = now
	require.Equal(t, "digest-1", s.PreviousRefreshValue())
	require.True(t, s.RevokedAt.Equal(revokedAt))
	require.Empty(t, Session{}.PreviousRefreshValue())
}
