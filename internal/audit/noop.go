package audit

import (
	"context"

	"bx-funddesk/internal/funds"
)

// NoopPublisher is used when no broker is configured, e.g. local
// development and tests.
type NoopPublisher struct{}

func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (NoopPublisher) Publish(ctx context.Context, ev funds.AuditEvent) error {
	return nil
}
