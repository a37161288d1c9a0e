package poller

import (
	"context"
	"log/slog"

	"dealwatch/internal/domain"
)

// ChangeSink receives committed change records after every cycle.
// Publish is called from the scheduling goroutine; records are ordered by
// (detected_at, entity_id, snapshot_version, sequence).
type ChangeSink interface {
	Publish(ctx context.Context, changes []*domain.ChangeRecord) error
}

// SinkFunc adapts a function to ChangeSink.
type SinkFunc func(ctx context.Context, changes []*domain.ChangeRecord) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, changes []*domain.ChangeRecord) error {
	return f(ctx, changes)
}

// LogSink writes one log line per change.
type LogSink struct {
	Logger *slog.Logger
}

// Publish logs each change summary at info level.
func (s LogSink) Publish(ctx context.Context, changes []*domain.ChangeRecord) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, c := range changes {
		logger.InfoContext(ctx, c.Summary(),
			slog.String("entity_id", c.EntityID),
			slog.String("kind", c.Kind.String()),
			slog.Int64("version", c.SnapshotVersion),
			slog.String("change_id", c.ID),
		)
	}
	return nil
}
