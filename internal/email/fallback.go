package email

import (
	"context"
	"fmt"
	"log/slog"
)

// fallbackSender wraps two Sender implementations. It calls the primary first;
// if that returns an error it logs the failure and tries the secondary.
type fallbackSender struct {
	primary   Sender
	secondary Sender
	logger    *slog.Logger
}

// NewFallbackSender returns a Sender that calls primary and, on failure,
// falls back to secondary. If primary is nil it goes straight to secondary;
// if secondary is nil the primary is returned unwrapped.
func NewFallbackSender(primary, secondary Sender, logger *slog.Logger) Sender {
	if secondary == nil {
		return primary
	}
	return &fallbackSender{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

func (f *fallbackSender) Send(ctx context.Context, msg Message) (string, error) {
	if f.primary != nil {
		id, err := f.primary.Send(ctx, msg)
		if err == nil {
			return id, nil
		}
		f.logger.Warn("email: primary sender failed, trying secondary",
			"error", err,
			"tag", msg.Tag,
		)
	}

	id, err := f.secondary.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("email: all senders failed: %w", err)
	}
	return id, nil
}
