package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink publishes events to NATS subjects of the form
// builds.{session_id}.{type}.
type NATSSink struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSSink creates a NATS-backed event sink.
func NewNATSSink(nc *nats.Conn, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{nc: nc, logger: logger}
}

// Publish marshals the event and publishes it. The timestamp is stamped
// here when the caller left it zero.
func (s *NATSSink) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("builds.%s.%s", ev.SessionID, ev.Type)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}

	s.logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("session_id", ev.SessionID),
	)
	return nil
}
