package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pliu/parley/internal/models"
)

const channelColumns = "id, name, creator_id, is_group, max_file_size, avatar_url, created_at"

func scanChannel(row rowScanner) (*models.Channel, error) {
	var c models.Channel
	var createdAt string
	if err := row.Scan(&c.ID, &c.Name, &c.CreatorID, &c.IsGroup, &c.MaxFileSize, &c.AvatarURL, &createdAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// CreateChannel inserts the channel and the creator's sending membership in
// one transaction.
func (s *SQLStore) CreateChannel(ctx context.Context, creatorID int64, in models.NewChannel) (*models.Channel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidChannel)
	}
	sizeMB := in.MaxFileSizeMB
	if sizeMB == 0 {
		sizeMB = models.DefaultMaxFileSizeMB
	}
	maxFileSize, err := quotaBytes(sizeMB)
	if err != nil {
		return nil, err
	}
	if in.AvatarURL == "" {
		in.AvatarURL = models.DefaultChannelAvatar
	}

	var ch *models.Channel
	err = s.withTx(ctx, func(q querier) error {
		if _, err := getUser(ctx, q, s.rebind, creatorID); err != nil {
			return err
		}
		now := s.stamp()
		c := models.Channel{
			Name:        name,
			CreatorID:   creatorID,
			IsGroup:     in.IsGroup,
			MaxFileSize: maxFileSize,
			AvatarURL:   in.AvatarURL,
			CreatedAt:   now,
		}
		err := q.QueryRowContext(ctx, s.rebind(`INSERT INTO channels (name, creator_id, is_group, max_file_size, avatar_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			c.Name, c.CreatorID, c.IsGroup, c.MaxFileSize, c.AvatarURL, formatTime(now),
		).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}
		if _, err := q.ExecContext(ctx, s.rebind(`INSERT INTO memberships (channel_id, user_id, can_send, joined_at) VALUES (?, ?, ?, ?)`),
			c.ID, creatorID, true, formatTime(now)); err != nil {
			return fmt.Errorf("insert creator membership: %w", err)
		}
		ch = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// quotaBytes converts a quota in MB to bytes. Values outside
// 1..MaxFileSizeMBLimit are rejected before the multiplication can overflow.
func quotaBytes(mb int64) (int64, error) {
	if mb <= 0 || mb > models.MaxFileSizeMBLimit {
		return 0, fmt.Errorf("%w: max file size must be between 1 and %d MB", models.ErrInvalidChannel, models.MaxFileSizeMBLimit)
	}
	return mb * models.MB, nil
}

func (s *SQLStore) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	return getChannel(ctx, s.timed(s.db), s.rebind, id)
}

func getChannel(ctx context.Context, q querier, rebind func(string) string, id int64) (*models.Channel, error) {
	c, err := scanChannel(q.QueryRowContext(ctx, rebind("SELECT "+channelColumns+" FROM channels WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d: %w", id, models.ErrNotFound)
	}
	return c, err
}

// UpdateChannel applies the non-nil fields of patch.
func (s *SQLStore) UpdateChannel(ctx context.Context, id int64, patch models.ChannelPatch) (*models.Channel, error) {
	var sets []string
	var args []any
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", models.ErrInvalidChannel)
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if patch.MaxFileSizeMB != nil {
		maxFileSize, err := quotaBytes(*patch.MaxFileSizeMB)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "max_file_size = ?")
		args = append(args, maxFileSize)
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *patch.AvatarURL)
	}

	var ch *models.Channel
	err := s.withTx(ctx, func(q querier) error {
		if len(sets) > 0 {
			args = append(args, id)
			res, err := q.ExecContext(ctx, s.rebind("UPDATE channels SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
			if err != nil {
				return fmt.Errorf("update channel: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("channel %d: %w", id, models.ErrNotFound)
			}
		}
		var err error
		ch, err = getChannel(ctx, q, s.rebind, id)
		return err
	})
	return ch, err
}

func (s *SQLStore) AddMember(ctx context.Context, channelID, userID int64, canSend bool) (*models.Membership, error) {
	var m *models.Membership
	err := s.withTx(ctx, func(q querier) error {
		if _, err := getChannel(ctx, q, s.rebind, channelID); err != nil {
			return err
		}
		if _, err := getUser(ctx, q, s.rebind, userID); err != nil {
			return err
		}
		if _, err := getMembership(ctx, q, s.rebind, channelID, userID); err == nil {
			return models.ErrAlreadyMember
		} else if !errors.Is(err, models.ErrNotAMember) {
			return err
		}

		now := s.stamp()
		_, err := q.ExecContext(ctx, s.rebind(`INSERT INTO memberships (channel_id, user_id, can_send, joined_at) VALUES (?, ?, ?, ?)`),
			channelID, userID, canSend, formatTime(now))
		if isUniqueViolation(err) {
			return models.ErrAlreadyMember
		}
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		m = &models.Membership{ChannelID: channelID, UserID: userID, CanSend: canSend, JoinedAt: now}
		return nil
	})
	return m, err
}

func (s *SQLStore) SetSendPermission(ctx context.Context, channelID, userID int64, allowed bool) error {
	res, err := s.timed(s.db).ExecContext(ctx, s.rebind("UPDATE memberships SET can_send = ? WHERE channel_id = ? AND user_id = ?"),
		allowed, channelID, userID)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotAMember
	}
	return nil
}

// RemoveMember deletes a membership. The creator's membership is permanent.
func (s *SQLStore) RemoveMember(ctx context.Context, channelID, userID int64) error {
	return s.withTx(ctx, func(q querier) error {
		ch, err := getChannel(ctx, q, s.rebind, channelID)
		if err != nil {
			return err
		}
		if ch.CreatorID == userID {
			return fmt.Errorf("%w: the channel creator cannot leave", models.ErrForbidden)
		}
		res, err := q.ExecContext(ctx, s.rebind("DELETE FROM memberships WHERE channel_id = ? AND user_id = ?"), channelID, userID)
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotAMember
		}
		return nil
	})
}

func (s *SQLStore) GetMembership(ctx context.Context, channelID, userID int64) (*models.Membership, error) {
	return getMembership(ctx, s.timed(s.db), s.rebind, channelID, userID)
}

func getMembership(ctx context.Context, q querier, rebind func(string) string, channelID, userID int64) (*models.Membership, error) {
	m := models.Membership{ChannelID: channelID, UserID: userID}
	var joinedAt string
	err := q.QueryRowContext(ctx, rebind("SELECT can_send, joined_at FROM memberships WHERE channel_id = ? AND user_id = ?"),
		channelID, userID).Scan(&m.CanSend, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotAMember
	}
	if err != nil {
		return nil, err
	}
	m.JoinedAt = parseTime(joinedAt)
	return &m, nil
}

func (s *SQLStore) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM memberships WHERE channel_id = ? AND user_id = ?)")
	err := s.timed(s.db).QueryRowContext(ctx, query, channelID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) CanSend(ctx context.Context, channelID, userID int64) (bool, error) {
	m, err := s.GetMembership(ctx, channelID, userID)
	if errors.Is(err, models.ErrNotAMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.CanSend, nil
}

func (s *SQLStore) ListMembers(ctx context.Context, channelID int64) ([]models.Member, error) {
	query := s.rebind(`
		SELECT u.id, u.username, u.email, u.password, u.display_name, u.avatar_url, u.is_superuser, m.can_send
		FROM users u
		JOIN memberships m ON u.id = m.user_id
		WHERE m.channel_id = ?
		ORDER BY m.joined_at, u.id
	`)
	rows, err := s.timed(s.db).QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		u := &m.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.DisplayName, &u.AvatarURL, &u.IsSuperuser, &m.CanSend); err != nil {
			return nil, err
		}
		u.Password = ""
		u.Email = maskEmail(u.Email)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLStore) ListChannels(ctx context.Context, userID int64) ([]models.Channel, error) {
	return s.queryChannels(ctx, `
		SELECT c.id, c.name, c.creator_id, c.is_group, c.max_file_size, c.avatar_url, c.created_at
		FROM channels c
		JOIN memberships m ON c.id = m.channel_id
		WHERE m.user_id = ?
		ORDER BY c.id
	`, userID)
}

// SearchChannels returns userID's channels whose name contains query,
// ignoring case.
func (s *SQLStore) SearchChannels(ctx context.Context, userID int64, query string) ([]models.Channel, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return s.queryChannels(ctx, `
		SELECT c.id, c.name, c.creator_id, c.is_group, c.max_file_size, c.avatar_url, c.created_at
		FROM channels c
		JOIN memberships m ON c.id = m.channel_id
		WHERE m.user_id = ? AND LOWER(c.name) LIKE ? ESCAPE '\'
		ORDER BY c.id
	`, userID, "%"+escapeLike(strings.ToLower(query))+"%")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike quotes the LIKE wildcards in a user-supplied fragment.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (s *SQLStore) queryChannels(ctx context.Context, query string, args ...any) ([]models.Channel, error) {
	rows, err := s.timed(s.db).QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}
