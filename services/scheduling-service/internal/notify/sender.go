package notify

import (
	"context"

	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
)

// Sender delivers (or hands off) a reminder for an appointment whose reminder
// was just marked dispatched. The scheduling core only does the bookkeeping;
// transport is entirely the sender's concern.
type Sender interface {
	Send(ctx context.Context, appt model.Appointment) error
	ProviderID() string
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "notify-noop"
}

func (s *NoopSender) Send(_ context.Context, _ model.Appointment) error {
	return nil
}
