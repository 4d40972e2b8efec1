package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pliu/parley/internal/models"
)

const messageColumns = "id, sender_id, channel_id, recipient_id, content, file_url, file_name, file_size, file_type, file_digest, client_token, created_at, is_read"

// scanMessage reads one message row. Direct targets are expressed from
// viewer's side: the target is always the other party.
func scanMessage(row rowScanner, viewer int64) (*models.Message, error) {
	var (
		m           models.Message
		channelID   sql.NullInt64
		recipientID sql.NullInt64
		fileURL     sql.NullString
		fileName    sql.NullString
		fileSize    sql.NullInt64
		fileType    sql.NullString
		fileDigest  sql.NullString
		clientToken sql.NullString
		createdAt   string
	)
	err := row.Scan(&m.ID, &m.SenderID, &channelID, &recipientID, &m.Content,
		&fileURL, &fileName, &fileSize, &fileType, &fileDigest, &clientToken, &createdAt, &m.Read)
	if err != nil {
		return nil, err
	}

	switch {
	case channelID.Valid:
		m.Target = models.ChannelTarget(channelID.Int64)
	case m.SenderID == viewer:
		m.Target = models.DirectTarget(recipientID.Int64)
	default:
		m.Target = models.DirectTarget(m.SenderID)
	}
	if fileURL.Valid {
		m.Attachment = &models.Attachment{
			URL:      fileURL.String,
			Name:     fileName.String,
			Size:     fileSize.Int64,
			Category: fileType.String,
			Digest:   fileDigest.String,
		}
	}
	m.ClientToken = clientToken.String
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

// targetPredicate returns the WHERE fragment selecting every message of the
// conversation, in both directions for a direct target.
func targetPredicate(target models.Target, viewer int64) (string, []any) {
	if target.IsChannel() {
		return "channel_id = ?", []any{target.ID()}
	}
	peer := target.ID()
	return "((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
		[]any{viewer, peer, peer, viewer}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Append admits a message into the log. The target lock is held for the whole
// transaction so ids within one conversation commit in order.
func (s *SQLStore) Append(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if !in.Target.Valid() {
		return nil, models.ErrInvalidTarget
	}
	if in.Target.IsDirect() && in.Target.ID() == in.SenderID {
		return nil, fmt.Errorf("%w: cannot message yourself", models.ErrInvalidTarget)
	}
	if strings.TrimSpace(in.Content) == "" && in.Attachment == nil {
		return nil, models.ErrEmptyMessage
	}

	unlock, err := s.locks.Lock(ctx, in.Target.LockKey(in.SenderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var msg *models.Message
	replayed := false
	err = s.withTx(ctx, func(q querier) error {
		if in.ClientToken != "" {
			query := s.rebind("SELECT " + messageColumns + " FROM messages WHERE sender_id = ? AND client_token = ?")
			existing, err := scanMessage(q.QueryRowContext(ctx, query, in.SenderID, in.ClientToken), in.SenderID)
			if err == nil {
				msg, replayed = existing, true
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		sender, err := getUser(ctx, q, s.rebind, in.SenderID)
		if err != nil {
			return err
		}
		var channelID, recipientID sql.NullInt64
		if in.Target.IsChannel() {
			ch, err := getChannel(ctx, q, s.rebind, in.Target.ID())
			if err != nil {
				return err
			}
			// Membership is read again under the transaction so a concurrent
			// revoke or removal cannot slip a message through.
			member, err := getMembership(ctx, q, s.rebind, ch.ID, in.SenderID)
			if errors.Is(err, models.ErrNotAMember) {
				return fmt.Errorf("%w: not a member of channel %d", models.ErrForbidden, ch.ID)
			}
			if err != nil {
				return err
			}
			if !member.CanSend && !sender.IsSuperuser {
				return fmt.Errorf("%w: no send permission in channel %d", models.ErrForbidden, ch.ID)
			}
			if in.Attachment != nil && in.Attachment.Size > ch.MaxFileSize {
				return &models.AttachmentTooLargeError{Quota: ch.MaxFileSize, Size: in.Attachment.Size}
			}
			channelID = sql.NullInt64{Int64: ch.ID, Valid: true}
		} else {
			if _, err := getUser(ctx, q, s.rebind, in.Target.ID()); err != nil {
				return err
			}
			recipientID = sql.NullInt64{Int64: in.Target.ID(), Valid: true}
		}

		m := models.Message{
			SenderID:    in.SenderID,
			Target:      in.Target,
			Content:     strings.TrimSpace(in.Content),
			Attachment:  in.Attachment,
			CreatedAt:   s.stamp(),
			ClientToken: in.ClientToken,
		}
		var fileURL, fileName, fileType, fileDigest sql.NullString
		var fileSize sql.NullInt64
		if a := m.Attachment; a != nil {
			fileURL = sql.NullString{String: a.URL, Valid: true}
			fileName = nullString(a.Name)
			fileSize = sql.NullInt64{Int64: a.Size, Valid: true}
			fileType = nullString(a.Category)
			fileDigest = nullString(a.Digest)
		}

		query := s.rebind(`INSERT INTO messages (sender_id, channel_id, recipient_id, content, file_url, file_name, file_size, file_type, file_digest, client_token, created_at, is_read)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE) RETURNING id`)
		err = q.QueryRowContext(ctx, query,
			m.SenderID, channelID, recipientID, m.Content,
			fileURL, fileName, fileSize, fileType, fileDigest,
			nullString(m.ClientToken), formatTime(m.CreatedAt),
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		msg = &m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replayed {
		slog.Info("message_event", "event", "message_replayed", "id", msg.ID, "sender_id", msg.SenderID, "target", msg.Target.String())
	} else {
		slog.Info("message_event", "event", "message_appended", "id", msg.ID, "sender_id", msg.SenderID,
			"target", msg.Target.String(), "has_attachment", msg.Attachment != nil)
	}
	return msg, nil
}

// ListSince returns the conversation's messages with id > afterID, oldest
// first.
func (s *SQLStore) ListSince(ctx context.Context, target models.Target, viewer, afterID int64) ([]models.Message, error) {
	if !target.Valid() {
		return nil, models.ErrInvalidTarget
	}
	return listSince(ctx, s.timed(s.db), s.rebind, target, viewer, afterID, 0)
}

func (s *SQLStore) ListAll(ctx context.Context, target models.Target, viewer int64) ([]models.Message, error) {
	return s.ListSince(ctx, target, viewer, 0)
}

// listSince lists afterID < id, bounded above by horizon when horizon > 0.
func listSince(ctx context.Context, q querier, rebind func(string) string, target models.Target, viewer, afterID, horizon int64) ([]models.Message, error) {
	pred, args := targetPredicate(target, viewer)
	query := "SELECT " + messageColumns + " FROM messages WHERE " + pred + " AND id > ?"
	args = append(args, afterID)
	if horizon > 0 {
		query += " AND id <= ?"
		args = append(args, horizon)
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows, viewer)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}
