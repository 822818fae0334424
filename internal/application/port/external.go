package port

import (
	"context"

	"github.com/garyjia/civic-workflow/internal/domain/entity"
)

// OutboundSender delivers a notification over an external messaging channel.
// Delivery is best-effort.
type OutboundSender interface {
	SendOutbound(ctx context.Context, recipientID string, n *entity.Notification) error
}
