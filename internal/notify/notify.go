// Package notify stands in for the external push/email collaborator.
// Deliveries are fire-and-forget: a failed notification is logged and
// never affects the transaction that triggered it.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/online-store/internal/order"
)

// LogNotifier writes notification events to the log. It is the default
// wiring until a real provider is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) OrderCreated(ctx context.Context, o *order.Order) {
	log.Info().
		Str("event", "order_created").
		Str("order_number", o.OrderNumber).
		Int("item_count", o.ItemCount()).
		Msg("notify: order confirmation queued")
}

func (n *LogNotifier) OrderStatusChanged(ctx context.Context, o *order.Order, from, to order.Status) {
	log.Info().
		Str("event", "order_status_changed").
		Str("order_number", o.OrderNumber).
		Stringer("from", from).
		Stringer("to", to).
		Msg("notify: status notification queued")
}
