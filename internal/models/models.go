package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultUserAvatar    = "/media/profiles/default.jpg"
	DefaultChannelAvatar = "/media/channels/default_channel.jpg"

	// DefaultMaxFileSizeMB is the attachment quota a channel gets when the
	// creator does not pick one.
	DefaultMaxFileSizeMB = 10
	// MaxFileSizeMBLimit bounds a channel quota (1 TiB) so the byte value
	// always fits in an int64.
	MaxFileSizeMBLimit = 1024 * 1024
	MB                 = 1024 * 1024

	MaxDisplayNameLength = 150
	MaxPhoneLength       = 15
)

type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Phone       string `json:"phone,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
	Password    string `json:"-"`
}

// ProfilePatch holds the profile fields a user may change about themselves.
// Nil fields are left untouched.
type ProfilePatch struct {
	DisplayName *string
	Email       *string
	AvatarURL   *string
	Phone       *string
}

// CheckPhone accepts an empty value or up to MaxPhoneLength digits, spaces
// and dashes with an optional leading +.
func CheckPhone(phone string) error {
	if len(phone) > MaxPhoneLength {
		return fmt.Errorf("%w: phone number is longer than %d characters", ErrInvalidProfile, MaxPhoneLength)
	}
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9', r == ' ', r == '-':
		case r == '+' && i == 0:
		default:
			return fmt.Errorf("%w: phone number contains %q", ErrInvalidProfile, r)
		}
	}
	return nil
}

// CheckDisplayName bounds the display name length.
func CheckDisplayName(name string) error {
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return fmt.Errorf("%w: display name is longer than %d characters", ErrInvalidProfile, MaxDisplayNameLength)
	}
	if strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("%w: display name must be a single line", ErrInvalidProfile)
	}
	return nil
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Avatar returns the avatar URL or the default profile image.
func (u User) Avatar() string {
	if u.AvatarURL != "" {
		return u.AvatarURL
	}
	return DefaultUserAvatar
}

type Channel struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CreatorID   int64     `json:"creator_id"`
	IsGroup     bool      `json:"is_group"`
	MaxFileSize int64     `json:"max_file_size"` // bytes
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// MaxFileSizeMB reports the quota in whole megabytes.
func (c Channel) MaxFileSizeMB() int64 {
	return c.MaxFileSize / MB
}

// NewChannel carries the fields a creator supplies.
type NewChannel struct {
	Name          string
	IsGroup       bool
	MaxFileSizeMB int64
	AvatarURL     string
}

// ChannelPatch holds optional updates; nil fields are left untouched.
type ChannelPatch struct {
	Name          *string
	MaxFileSizeMB *int64
	AvatarURL     *string
}

type Membership struct {
	ChannelID int64     `json:"channel_id"`
	UserID    int64     `json:"user_id"`
	CanSend   bool      `json:"can_send"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Member is a membership joined with the user it belongs to.
type Member struct {
	User    User `json:"user"`
	CanSend bool `json:"can_send"`
}

type Message struct {
	ID          int64       `json:"id"`
	SenderID    int64       `json:"sender_id"`
	Target      Target      `json:"-"`
	Content     string      `json:"content"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Read        bool        `json:"read"`
	ClientToken string      `json:"client_token,omitempty"`
}

// NewMessage is the input to an append.
type NewMessage struct {
	SenderID    int64
	Target      Target
	Content     string
	Attachment  *Attachment
	ClientToken string
}

// UnreadCount is one row of an unread summary.
type UnreadCount struct {
	ID          int64 `json:"id"`
	UnreadCount int   `json:"unread_count"`
}

type UnreadSummary struct {
	PerUser    []UnreadCount `json:"users"`
	PerChannel []UnreadCount `json:"channels"`
}
