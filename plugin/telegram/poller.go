package telegram

import (
	"context"
	"log/slog"
	"time"
)

// UpdateHandler receives each inbound update in arrival order.
type UpdateHandler func(ctx context.Context, update *Update)

// Poll long-polls the Bot API and feeds updates to handler until ctx is
// canceled. Poll errors are logged and retried after a short pause so a
// transient network failure does not kill the consumer.
func (c *Client) Poll(ctx context.Context, handler UpdateHandler) {
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := c.GetUpdates(ctx, offset, 50*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to poll updates", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for i := range updates {
			update := updates[i]
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			handler(ctx, &update)
		}
	}
}
