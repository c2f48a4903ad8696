package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	from     string
	rcpts    []string
	data     bytes.Buffer
	quit     bool
	closed   bool
	rcptErr  error
	authUsed bool
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (c *fakeSMTPClient) Mail(from string) error {
	c.from = from
	return nil
}

func (c *fakeSMTPClient) Rcpt(to string) error {
	if c.rcptErr != nil {
		return c.rcptErr
	}
	c.rcpts = append(c.rcpts, to)
	return nil
}

func (c *fakeSMTPClient) Data() (io.WriteCloser, error) { return nopWriteCloser{&c.data}, nil }

func (c *fakeSMTPClient) Quit() error {
	c.quit = true
	return nil
}

func (c *fakeSMTPClient) Close() error {
	c.closed = true
	return nil
}

func (c *fakeSMTPClient) StartTLS(*tls.Config) error { return nil }

func (c *fakeSMTPClient) Auth(smtp.Auth) error {
	c.authUsed = true
	return nil
}

func (c *fakeSMTPClient) Extension(string) (bool, string) { return false, "" }

func newFakeMailer(t *testing.T, cfg SMTPSettings, client *fakeSMTPClient) *smtpMailer {
	t.Helper()
	mailer, err := NewSMTPMailer(cfg)
	require.NoError(t, err)

	sm := mailer.(*smtpMailer)
	sm.now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	sm.dialFn = func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
		local, remote := net.Pipe()
		t.Cleanup(func() { _ = remote.Close() })
		return local, client, nil
	}
	return sm
}

func enabledSettings() SMTPSettings {
	return SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
	}
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"test@example.com"},
		Subject: "Test",
		Body:    "Hello",
	})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerSendDeliversMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	cfg := enabledSettings()
	cfg.Username = "mailer"
	mailer := newFakeMailer(t, cfg, client)

	err := mailer.Send(context.Background(), Message{
		To:      []string{"user@example.com", " user@example.com "},
		Subject: "Your code",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	require.Equal(t, "no-reply@example.com", client.from)
	require.Equal(t, []string{"user@example.com"}, client.rcpts)
	require.True(t, client.quit)
	require.True(t, client.closed)
	require.True(t, client.authUsed)

	data := client.data.String()
	require.Contains(t, data, "Subject: Your code\r\n")
	require.Contains(t, data, "Date: Fri, 01 Mar 2024 08:00:00 +0000\r\n")
	require.Contains(t, data, "@example.com>\r\n")
	require.True(t, strings.HasSuffix(data, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPMailerSendPropagatesRecipientRejection(t *testing.T) {
	client := &fakeSMTPClient{rcptErr: errors.New("550 mailbox unavailable")}
	mailer := newFakeMailer(t, enabledSettings(), client)

	err := mailer.Send(context.Background(), Message{To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "rcpt to user@example.com")
	require.False(t, client.quit)
}

func TestSMTPMailerDeadlinePrefersContext(t *testing.T) {
	mailer := newFakeMailer(t, enabledSettings(), &fakeSMTPClient{})
	base := mailer.now()

	require.Equal(t, base.Add(10*time.Second), mailer.deadline(context.Background()))

	ctx, cancel := context.WithDeadline(context.Background(), base.Add(time.Second))
	defer cancel()
	require.Equal(t, base.Add(time.Second), mailer.deadline(ctx))
}

func TestFormatMessage(t *testing.T) {
	sent := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	content := formatMessage("from@example.com", []string{"to@example.com"}, "Subject\r\nBreak", "Body", sent)

	require.Contains(t, content, "From: from@example.com")
	require.Contains(t, content, "Subject: Subject  Break")
	require.Contains(t, content, "Message-ID: <")
	require.Contains(t, content, "@example.com>")
	require.True(t, strings.HasSuffix(content, "\r\n\r\nBody"))
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	cfg := enabledSettings()
	cfg.UseTLS = true
	mailer, err := NewSMTPMailer(cfg)
	require.NoError(t, err)

	sm, ok := mailer.(*smtpMailer)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, sm.cfg.Timeout)
}

func TestSMTPMailerSendRequiresRecipients(t *testing.T) {
	mailer, err := NewSMTPMailer(enabledSettings())
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"   ", "\t"},
		Subject: "No recipients",
		Body:    "Body",
	})
	require.ErrorContains(t, err, "at least one recipient")
}

func TestSMTPMailerSendValidatesAddresses(t *testing.T) {
	cfg := enabledSettings()
	cfg.From = ""
	mailer, err := NewSMTPMailer(cfg)
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "sender address is required")

	err = mailer.Send(context.Background(), Message{From: "invalid-from", To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "invalid from address")

	err = mailer.Send(context.Background(), Message{From: "a@example.com", To: []string{"user@example.com", "bad-address"}})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestUniqueAddresses(t *testing.T) {
	addresses := []string{"alice@example.com", "bob@example.com", " alice@example.com ", "", "bob@example.com"}
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, uniqueAddresses(addresses))
}
