package engine

import (
	"context"
	"strconv"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/repo"
)

func (e Engine) ListNotifications(ctx context.Context, actor auth.Actor, unreadOnly bool, cursor int64, limit int) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, repo.NotificationFilters{
		RecipientIDs: actor.Inboxes(),
		UnreadOnly:   unreadOnly,
		Cursor:       cursor,
		Limit:        limit,
	})
}

func (e Engine) UnreadCount(ctx context.Context, actor auth.Actor) (int, error) {
	return e.Repo.CountUnreadNotifications(ctx, actor.Inboxes())
}

// MarkNotificationRead marks one of the actor's notifications read. Someone
// else's notification reads as not found.
func (e Engine) MarkNotificationRead(ctx context.Context, actor auth.Actor, id int64) (domain.Notification, error) {
	if err := e.Repo.MarkNotificationRead(ctx, id, actor.Inboxes(), e.stamp()); err != nil {
		return domain.Notification{}, storeErr("notification", strconv.FormatInt(id, 10), err)
	}
	return e.Repo.GetNotification(ctx, id)
}

func (e Engine) MarkAllNotificationsRead(ctx context.Context, actor auth.Actor) (int64, error) {
	return e.Repo.MarkAllNotificationsRead(ctx, actor.Inboxes(), e.stamp())
}

// ListEvents reads the audit log. Admin only.
func (e Engine) ListEvents(ctx context.Context, actor auth.Actor, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if !actor.IsAdmin() && actor.Role != domain.RoleSystem {
		return nil, auth.ForbiddenError{Kind: "event", Action: domain.ActionRead, Reason: "the audit log is admin only"}
	}
	if cursor > 0 {
		return e.Repo.LatestEventsFrom(ctx, limit, cursor, evtType, entityKind, entityID)
	}
	return e.Repo.LatestEvents(ctx, limit, evtType, entityKind, entityID)
}
