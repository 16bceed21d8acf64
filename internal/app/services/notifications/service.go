// Package notifications records per-account events and feeds the
// notification tray.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/chain/monitor"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// Service persists and serves notifications.
type Service struct {
	store storage.NotificationStore
	log   *logger.Logger
}

// New constructs the service.
func New(store storage.NotificationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{store: store, log: log}
}

// Notify records a notification for an account. Failures are logged, not
// returned, so callers never block on the tray.
func (s *Service) Notify(ctx context.Context, account string, kind notification.Kind, actor, ref, body string) {
	account = strings.ToLower(strings.TrimSpace(account))
	if account == "" {
		return
	}
	n := notification.Notification{
		Account: account,
		Kind:    kind,
		Actor:   strings.ToLower(strings.TrimSpace(actor)),
		Ref:     ref,
		Body:    body,
	}
	if _, err := s.store.CreateNotification(ctx, n); err != nil {
		s.log.WithError(err).WithField("account", account).Error("store notification")
	}
}

// List returns an account's notifications, newest first.
func (s *Service) List(ctx context.Context, account string, unreadOnly bool, limit int) ([]notification.Notification, error) {
	return s.store.ListNotifications(ctx, strings.ToLower(strings.TrimSpace(account)), unreadOnly, limit)
}

// MarkRead marks the given notifications read; with no IDs it marks all of
// the account's unread ones. Returns the number affected.
func (s *Service) MarkRead(ctx context.Context, account string, ids []string) (int, error) {
	return s.store.MarkNotificationsRead(ctx, strings.ToLower(strings.TrimSpace(account)), ids)
}

// Prune deletes notifications older than the retention window.
func (s *Service) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	return s.store.PruneNotifications(ctx, olderThan)
}

// EventSink turns chain monitor events into notifications and forwards them
// to the next publisher, normally the realtime channel.
type EventSink struct {
	svc  *Service
	next monitor.Publisher
}

// NewEventSink wraps the service; next may be nil.
func NewEventSink(svc *Service, next monitor.Publisher) *EventSink {
	return &EventSink{svc: svc, next: next}
}

// Publish stores a notification for the affected account, then forwards the
// event unchanged.
func (e *EventSink) Publish(ctx context.Context, ev monitor.Event) error {
	switch ev.Kind {
	case monitor.EventReply:
		e.svc.Notify(ctx, ev.Account, notification.KindReply, ev.Actor,
			ev.Ref, fmt.Sprintf("%s replied to your post", ev.Actor))
	case monitor.EventTransfer:
		e.svc.Notify(ctx, ev.Account, notification.KindTransfer, ev.Actor,
			ev.TxID, "escrow transfer received")
	case monitor.EventComment, monitor.EventCustomJSON:
		// Not tray events; broadcast only.
	}

	if e.next != nil {
		return e.next.Publish(ctx, ev)
	}
	return nil
}
