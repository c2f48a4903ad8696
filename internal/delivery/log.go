package delivery

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/pkg/logger"
)

// LogDeliverer records deliveries in the log instead of sending them. It serves channels that
// have no transport configured. Codes and links are never written.
type LogDeliverer struct {
	log *zap.Logger
}

// NewLogDeliverer returns a LogDeliverer; a nil logger uses the "delivery" module logger.
func NewLogDeliverer(log *zap.Logger) *LogDeliverer {
	if log == nil {
		log = logger.WithModule("delivery")
	}
	return &LogDeliverer{log: log}
}

func (d *LogDeliverer) Deliver(ctx context.Context, msg services.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Info("verification code delivery suppressed",
		zap.String("challenge_id", msg.ChallengeID),
		zap.String("channel", string(msg.Channel)),
		zap.String("to", MaskAddress(msg.To)),
		zap.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// MaskAddress hides most of an email local part or phone number.
func MaskAddress(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		local, domain := addr[:at], addr[at:]
		if len(local) <= 1 {
			return "*" + domain
		}
		return local[:1] + strings.Repeat("*", len(local)-1) + domain
	}
	if len(addr) <= 4 {
		return strings.Repeat("*", len(addr))
	}
	return strings.Repeat("*", len(addr)-4) + addr[len(addr)-4:]
}
