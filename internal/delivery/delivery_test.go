package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/pkg/mail"
)

type captureMailer struct {
	messages []mail.Message
	err      error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.messages = append(m.messages, msg)
	return m.err
}

func sampleDelivery(channel models.Channel, to string) services.Delivery {
	return services.Delivery{
		ChallengeID: "challenge-1",
		Channel:     channel,
		To:          to,
		Code:        "482913",
		Link:        "https://id.example.com/verify/challenge-1?code=482913",
		ExpiresAt:   time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestEmailDelivererSendsCodeAndLink(t *testing.T) {
	mailer := &captureMailer{}
	d, err := NewEmailDeliverer(mailer, WithProductName("Acme"), WithFrom("codes@acme.test"))
	require.NoError(t, err)

	require.NoError(t, d.Deliver(context.Background(), sampleDelivery(models.ChannelEmail, "a@b.com")))
	require.Len(t, mailer.messages, 1)

	msg := mailer.messages[0]
	require.Equal(t, []string{"a@b.com"}, msg.To)
	require.Equal(t, "codes@acme.test", msg.From)
	require.Equal(t, "Your Acme verification code", msg.Subject)
	require.Contains(t, msg.Body, "482913")
	require.Contains(t, msg.Body, "https://id.example.com/verify/challenge-1?code=482913")
	require.Contains(t, msg.Body, "Fri, 02 Feb 2024 09:00:00 UTC")
}

func TestEmailDelivererErrors(t *testing.T) {
	_, err := NewEmailDeliverer(nil)
	require.Error(t, err)

	mailer := &captureMailer{err: mail.ErrSMTPDisabled}
	d, err := NewEmailDeliverer(mailer)
	require.NoError(t, err)

	err = d.Deliver(context.Background(), sampleDelivery(models.ChannelEmail, "a@b.com"))
	require.ErrorIs(t, err, mail.ErrSMTPDisabled)

	err = d.Deliver(context.Background(), sampleDelivery(models.ChannelSMS, "+15550001111"))
	require.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestLogDelivererNeverLogsCode(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := NewLogDeliverer(zap.New(core))

	require.NoError(t, d.Deliver(context.Background(), sampleDelivery(models.ChannelSMS, "+15550001111")))
	require.Equal(t, 1, logs.Len())

	entry := logs.All()[0]
	fields := entry.ContextMap()
	require.Equal(t, "********1111", fields["to"])
	require.Equal(t, "sms", fields["channel"])
	for _, value := range fields {
		if s, ok := value.(string); ok {
			require.False(t, strings.Contains(s, "482913"))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Deliver(ctx, sampleDelivery(models.ChannelSMS, "+15550001111")), context.Canceled)
}

func TestMaskAddress(t *testing.T) {
	require.Equal(t, "a****@b.com", MaskAddress("alice@b.com"))
	require.Equal(t, "*@b.com", MaskAddress("a@b.com"))
	require.Equal(t, "***", MaskAddress("123"))
	require.Equal(t, "********1111", MaskAddress("+15550001111"))
}

func TestMultiRoutesByChannel(t *testing.T) {
	var routed []string
	record := func(name string) services.Deliverer {
		return services.DelivererFunc(func(_ context.Context, d services.Delivery) error {
			routed = append(routed, name+":"+string(d.Channel))
			return nil
		})
	}

	m := NewMulti(map[models.Channel]services.Deliverer{
		models.ChannelEmail: record("email"),
		models.ChannelSMS:   nil,
	}, record("fallback"))

	ctx := context.Background()
	require.NoError(t, m.Deliver(ctx, sampleDelivery(models.ChannelEmail, "a@b.com")))
	require.NoError(t, m.Deliver(ctx, sampleDelivery(models.ChannelSMS, "+15550001111")))
	require.Equal(t, []string{"email:email", "fallback:sms"}, routed)

	strict := NewMulti(map[models.Channel]services.Deliverer{models.ChannelEmail: record("email")}, nil)
	err := strict.Deliver(ctx, sampleDelivery(models.ChannelVoice, "+15550001111"))
	require.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestMultiPropagatesDeliveryErrors(t *testing.T) {
	boom := errors.New("provider down")
	m := NewMulti(map[models.Channel]services.Deliverer{
		models.ChannelEmail: services.DelivererFunc(func(context.Context, services.Delivery) error { return boom }),
	}, nil)

	require.ErrorIs(t, m.Deliver(context.Background(), sampleDelivery(models.ChannelEmail, "a@b.com")), boom)
}
