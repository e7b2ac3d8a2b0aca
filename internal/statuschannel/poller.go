package statuschannel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/session"
)

// StatusSource reads the current status of a session.
type StatusSource interface {
	CurrentStatus(ctx context.Context, sessionID string) (session.Status, string, error)
}

// Poller is the polling fallback for stores without change notification.
// It emits an event only when the status or reason changed since the last
// emitted one.
type Poller struct {
	source   StatusSource
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewPoller polls source every interval.
func NewPoller(source StatusSource, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{source: source, interval: interval, logger: logger.Named("status_poller"), now: time.Now}
}

// Subscribe implements ports.StatusSubscriber.
func (p *Poller) Subscribe(ctx context.Context, sessionID string) (<-chan ports.StatusEvent, error) {
	if _, _, err := p.source.CurrentStatus(ctx, sessionID); err != nil {
		return nil, err
	}

	out := make(chan ports.StatusEvent, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		var last *ports.StatusEvent
		for {
			status, reason, err := p.source.CurrentStatus(ctx, sessionID)
			switch {
			case err != nil && ctx.Err() == nil:
				p.logger.Warn("status poll failed", zap.String("session_id", sessionID), zap.Error(err))
			case err == nil && (last == nil || last.Status != status || last.Reason != reason):
				event := ports.StatusEvent{SessionID: sessionID, Status: status, Reason: reason, At: p.now().UnixMilli()}
				select {
				case out <- event:
					last = &event
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// NopPublisher discards events; observers of a Poller read the store.
type NopPublisher struct{}

// Publish implements ports.StatusPublisher.
func (NopPublisher) Publish(context.Context, ports.StatusEvent) error { return nil }
