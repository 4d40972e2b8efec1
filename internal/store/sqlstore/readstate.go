package sqlstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pliu/parley/internal/models"
)

// unreadPredicate selects the messages viewer has not read yet. Channel
// messages count for everyone but their sender; direct messages only for
// their recipient.
func unreadPredicate(target models.Target, viewer int64) (string, []any) {
	if target.IsChannel() {
		return "channel_id = ? AND sender_id <> ? AND is_read = FALSE", []any{target.ID(), viewer}
	}
	return "sender_id = ? AND recipient_id = ? AND is_read = FALSE", []any{target.ID(), viewer}
}

// MarkRead flags every unread message of the conversation as read for
// reader and returns how many rows changed. Calling it again returns 0.
func (s *SQLStore) MarkRead(ctx context.Context, target models.Target, reader int64) (int, error) {
	if !target.Valid() {
		return 0, models.ErrInvalidTarget
	}
	unlock, err := s.locks.Lock(ctx, target.LockKey(reader))
	if err != nil {
		return 0, err
	}
	defer unlock()

	return markRead(ctx, s.timed(s.db), s.rebind, target, reader, 0)
}

// markRead runs the single conditional UPDATE, bounded by horizon when it is
// positive.
func markRead(ctx context.Context, q querier, rebind func(string) string, target models.Target, reader, horizon int64) (int, error) {
	pred, args := unreadPredicate(target, reader)
	query := "UPDATE messages SET is_read = TRUE WHERE " + pred
	if horizon > 0 {
		query += " AND id <= ?"
		args = append(args, horizon)
	}
	res, err := q.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLStore) UnreadCount(ctx context.Context, target models.Target, viewer int64) (int, error) {
	if !target.Valid() {
		return 0, models.ErrInvalidTarget
	}
	pred, args := unreadPredicate(target, viewer)
	var n int
	err := s.timed(s.db).QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM messages WHERE "+pred), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// Sync lists the messages after afterID and marks the conversation read up
// to the same horizon, in one transaction under the conversation lock. The
// returned messages carry the read flag as it was before this call.
func (s *SQLStore) Sync(ctx context.Context, target models.Target, reader, afterID int64) ([]models.Message, error) {
	if !target.Valid() {
		return nil, models.ErrInvalidTarget
	}
	unlock, err := s.locks.Lock(ctx, target.LockKey(reader))
	if err != nil {
		return nil, err
	}
	defer unlock()

	messages := []models.Message{}
	marked := 0
	err = s.withTx(ctx, func(q querier) error {
		pred, args := targetPredicate(target, reader)
		var horizon int64
		if err := q.QueryRowContext(ctx, s.rebind("SELECT COALESCE(MAX(id), 0) FROM messages WHERE "+pred), args...).Scan(&horizon); err != nil {
			return fmt.Errorf("read horizon: %w", err)
		}
		if horizon == 0 {
			return nil
		}
		if horizon > afterID {
			var err error
			messages, err = listSince(ctx, q, s.rebind, target, reader, afterID, horizon)
			if err != nil {
				return err
			}
		}
		var err error
		marked, err = markRead(ctx, q, s.rebind, target, reader, horizon)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(messages) > 0 || marked > 0 {
		slog.Debug("message_event", "event", "synced", "target", target.String(), "reader", reader,
			"after_id", afterID, "returned", len(messages), "marked", marked)
	}
	return messages, nil
}

const correspondentsQuery = `
	SELECT CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END AS peer,
		SUM(CASE WHEN recipient_id = ? AND is_read = FALSE THEN 1 ELSE 0 END) AS unread
	FROM messages
	WHERE recipient_id IS NOT NULL AND (sender_id = ? OR recipient_id = ?)
	GROUP BY peer
	ORDER BY MAX(id) DESC
`

const channelUnreadQuery = `
	SELECT m.channel_id, COUNT(msg.id)
	FROM memberships m
	LEFT JOIN messages msg
		ON msg.channel_id = m.channel_id AND msg.sender_id <> ? AND msg.is_read = FALSE
	WHERE m.user_id = ?
	GROUP BY m.channel_id
	ORDER BY m.channel_id
`

// UnreadSummary reports unread counts for every direct correspondent and
// every channel viewer belongs to. Both halves come from one transaction.
func (s *SQLStore) UnreadSummary(ctx context.Context, viewer int64) (*models.UnreadSummary, error) {
	summary := &models.UnreadSummary{
		PerUser:    []models.UnreadCount{},
		PerChannel: []models.UnreadCount{},
	}
	err := s.withTx(ctx, func(q querier) error {
		var err error
		summary.PerUser, err = scanCounts(ctx, q, s.rebind(correspondentsQuery), viewer, viewer, viewer, viewer)
		if err != nil {
			return fmt.Errorf("direct unread: %w", err)
		}
		summary.PerChannel, err = scanCounts(ctx, q, s.rebind(channelUnreadQuery), viewer, viewer)
		if err != nil {
			return fmt.Errorf("channel unread: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func scanCounts(ctx context.Context, q querier, query string, args ...any) ([]models.UnreadCount, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []models.UnreadCount{}
	for rows.Next() {
		var c models.UnreadCount
		if err := rows.Scan(&c.ID, &c.UnreadCount); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
