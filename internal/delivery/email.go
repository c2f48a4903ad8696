// Package delivery provides the outbound transports for verification codes.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/pkg/mail"
)

const defaultProductName = "idcore"

// ErrUnsupportedChannel is returned when a deliverer receives a channel it cannot serve.
var ErrUnsupportedChannel = errors.New("delivery: unsupported channel")

// EmailOption customises the EmailDeliverer.
type EmailOption func(*EmailDeliverer)

// WithProductName sets the name used in subjects and bodies.
func WithProductName(name string) EmailOption {
	return func(d *EmailDeliverer) {
		if name = strings.TrimSpace(name); name != "" {
			d.product = name
		}
	}
}

// WithFrom overrides the sender address configured on the mailer.
func WithFrom(from string) EmailOption {
	return func(d *EmailDeliverer) {
		d.from = strings.TrimSpace(from)
	}
}

// EmailDeliverer sends verification codes as plain-text email.
type EmailDeliverer struct {
	mailer  mail.Mailer
	from    string
	product string
}

// NewEmailDeliverer wraps a mailer.
func NewEmailDeliverer(mailer mail.Mailer, opts ...EmailOption) (*EmailDeliverer, error) {
	if mailer == nil {
		return nil, errors.New("delivery: mailer is required")
	}
	d := &EmailDeliverer{mailer: mailer, product: defaultProductName}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *EmailDeliverer) Deliver(ctx context.Context, msg services.Delivery) error {
	if msg.Channel != models.ChannelEmail {
		return fmt.Errorf("%w: %s over email", ErrUnsupportedChannel, msg.Channel)
	}

	err := d.mailer.Send(ctx, mail.Message{
		From:    d.from,
		To:      []string{msg.To},
		Subject: fmt.Sprintf("Your %s verification code", d.product),
		Body:    d.body(msg),
	})
	if err != nil {
		return fmt.Errorf("delivery: send email: %w", err)
	}
	return nil
}

func (d *EmailDeliverer) body(msg services.Delivery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your %s verification code is %s.\n\n", d.product, msg.Code)
	if msg.Link != "" {
		fmt.Fprintf(&b, "You can also confirm this address by visiting:\n%s\n\n", msg.Link)
	}
	fmt.Fprintf(&b, "The code expires at %s.\n", msg.ExpiresAt.UTC().Format(time.RFC1123))
	b.WriteString("If you did not request this code, you can ignore this message.\n")
	return b.String()
}
