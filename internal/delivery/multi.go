package delivery

import (
	"context"
	"fmt"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
)

// Multi routes each delivery to the deliverer registered for its channel.
type Multi struct {
	routes   map[models.Channel]services.Deliverer
	fallback services.Deliverer
}

// NewMulti builds a router. fallback may be nil, in which case unrouted channels fail.
func NewMulti(routes map[models.Channel]services.Deliverer, fallback services.Deliverer) *Multi {
	copied := make(map[models.Channel]services.Deliverer, len(routes))
	for channel, d := range routes {
		if d != nil {
			copied[channel] = d
		}
	}
	return &Multi{routes: copied, fallback: fallback}
}

func (m *Multi) Deliver(ctx context.Context, msg services.Delivery) error {
	if d, ok := m.routes[msg.Channel]; ok {
		return d.Deliver(ctx, msg)
	}
	if m.fallback != nil {
		return m.fallback.Deliver(ctx, msg)
	}
	return fmt.Errorf("%w: no route for %s", ErrUnsupportedChannel, msg.Channel)
}
