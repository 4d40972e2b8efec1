package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pliu/parley/internal/models"
)

const userColumns = "id, username, email, password, display_name, avatar_url, phone, is_superuser"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.DisplayName, &u.AvatarURL, &u.Phone, &u.IsSuperuser); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := models.CheckPhone(user.Phone); err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO users (username, email, password, display_name, avatar_url, phone, is_superuser)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.timed(s.db).QueryRowContext(ctx, query,
		user.Username, user.Email, user.Password, user.DisplayName, user.AvatarURL, user.Phone, user.IsSuperuser,
	).Scan(&user.ID)
	if isUniqueViolation(err) {
		return models.ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE username = ?")
	u, err := scanUser(s.timed(s.db).QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, models.ErrNotFound)
	}
	return u, err
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return getUser(ctx, s.timed(s.db), s.rebind, id)
}

func getUser(ctx context.Context, q querier, rebind func(string) string, id int64) (*models.User, error) {
	query := rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	u, err := scanUser(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return u, err
}

// GetUsersByIDs returns the users that exist among ids. Missing ids are
// simply absent from the map.
func (s *SQLStore) GetUsersByIDs(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	users := make(map[int64]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE id IN (" + placeholders + ")")
	rows, err := s.timed(s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users[u.ID] = *u
	}
	return users, rows.Err()
}

// SearchUsers matches usernames by substring or an exact email address.
func (s *SQLStore) SearchUsers(ctx context.Context, queryStr string, exclude int64) ([]models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE (username LIKE ? OR LOWER(email) = LOWER(?)) AND id <> ? ORDER BY username LIMIT 10")
	rows, err := s.timed(s.db).QueryContext(ctx, query, "%"+queryStr+"%", queryStr, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		u.Email = maskEmail(u.Email)
		u.Password = ""
		u.Phone = ""
		users = append(users, *u)
	}
	return users, rows.Err()
}

// FindUsers returns the users other than exclude whose username, email or
// phone equals query, ignoring case.
func (s *SQLStore) FindUsers(ctx context.Context, queryStr string, exclude int64) ([]models.User, error) {
	queryStr = strings.TrimSpace(queryStr)
	if queryStr == "" {
		return nil, nil
	}
	query := s.rebind("SELECT " + userColumns + ` FROM users
		WHERE (LOWER(username) = LOWER(?) OR LOWER(email) = LOWER(?) OR phone = ?) AND id <> ?
		ORDER BY username`)
	rows, err := s.timed(s.db).QueryContext(ctx, query, queryStr, queryStr, queryStr, exclude)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		u.Password = ""
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateProfile applies the non-nil fields of patch and returns the updated
// user.
func (s *SQLStore) UpdateProfile(ctx context.Context, id int64, patch models.ProfilePatch) (*models.User, error) {
	var sets []string
	var args []any
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if err := models.CheckDisplayName(name); err != nil {
			return nil, err
		}
		sets = append(sets, "display_name = ?")
		args = append(args, name)
	}
	if patch.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, strings.TrimSpace(*patch.Email))
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, strings.TrimSpace(*patch.AvatarURL))
	}
	if patch.Phone != nil {
		phone := strings.TrimSpace(*patch.Phone)
		if err := models.CheckPhone(phone); err != nil {
			return nil, err
		}
		sets = append(sets, "phone = ?")
		args = append(args, phone)
	}

	var user *models.User
	err := s.withTx(ctx, func(q querier) error {
		if len(sets) > 0 {
			args = append(args, id)
			res, err := q.ExecContext(ctx, s.rebind("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
			if err != nil {
				return fmt.Errorf("update profile: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
			}
		}
		var err error
		user, err = getUser(ctx, q, s.rebind, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SetPassword replaces the stored password hash.
func (s *SQLStore) SetPassword(ctx context.Context, id int64, hash string) error {
	res, err := s.timed(s.db).ExecContext(ctx, s.rebind("UPDATE users SET password = ? WHERE id = ?"), hash, id)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return email
	}
	local, domain := parts[0], parts[1]
	length := len(local)
	visible := 1
	if length > 2 {
		visible = min(length/2, 3)
	}
	return local[:visible] + strings.Repeat("*", length-visible) + "@" + domain
}
