package services

import (
	"context"
	"time"

	"github.com/charlesng35/idcore/internal/models"
)

// Delivery is one outbound verification message.
type Delivery struct {
	ChallengeID string
	Channel     models.Channel
	Kind        models.ContactKind
	To          string
	Code        string
	Link        string
	ExpiresAt   time.Time
}

// Deliverer transmits verification codes out of band.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, d Delivery) error

func (f DelivererFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }
