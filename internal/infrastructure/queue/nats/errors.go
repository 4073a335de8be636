package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

// publishError gives a publish failure its error kind. A broker that is
// away or reconnecting is temporary; a request the broker cannot accept is
// invalid input.
func publishError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("nats publish: %w", err)
	}
	switch {
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	case errors.Is(err, nats.ErrBadSubject),
		errors.Is(err, nats.ErrMaxPayload),
		errors.Is(err, nats.ErrInvalidMsg):
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", err)
	default:
		return fmt.Errorf("nats publish: %w", err)
	}
}
