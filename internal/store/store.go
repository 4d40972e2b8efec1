package store

import (
	"context"

	"github.com/pliu/parley/internal/models"
)

// Directory is the read-only identity view the messaging core needs.
type Directory interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) (map[int64]models.User, error)
	FindUsers(ctx context.Context, query string, exclude int64) ([]models.User, error)
}

// Registry owns channels and memberships.
type Registry interface {
	CreateChannel(ctx context.Context, creatorID int64, ch models.NewChannel) (*models.Channel, error)
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
	UpdateChannel(ctx context.Context, id int64, patch models.ChannelPatch) (*models.Channel, error)
	AddMember(ctx context.Context, channelID, userID int64, canSend bool) (*models.Membership, error)
	SetSendPermission(ctx context.Context, channelID, userID int64, allowed bool) error
	RemoveMember(ctx context.Context, channelID, userID int64) error
	GetMembership(ctx context.Context, channelID, userID int64) (*models.Membership, error)
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
	CanSend(ctx context.Context, channelID, userID int64) (bool, error)
	ListMembers(ctx context.Context, channelID int64) ([]models.Member, error)
	ListChannels(ctx context.Context, userID int64) ([]models.Channel, error)
	SearchChannels(ctx context.Context, userID int64, query string) ([]models.Channel, error)
}

// Messages is the append-only message log together with its read state.
// Direct targets are always interpreted from viewer's side.
type Messages interface {
	Append(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	ListSince(ctx context.Context, target models.Target, viewer, afterID int64) ([]models.Message, error)
	ListAll(ctx context.Context, target models.Target, viewer int64) ([]models.Message, error)
	MarkRead(ctx context.Context, target models.Target, reader int64) (int, error)
	UnreadCount(ctx context.Context, target models.Target, viewer int64) (int, error)
	Sync(ctx context.Context, target models.Target, reader, afterID int64) ([]models.Message, error)
	UnreadSummary(ctx context.Context, viewer int64) (*models.UnreadSummary, error)
}

// Accounts is the credential side of the user table, used by the auth
// handlers only.
type Accounts interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, exclude int64) ([]models.User, error)
	UpdateProfile(ctx context.Context, id int64, patch models.ProfilePatch) (*models.User, error)
	SetPassword(ctx context.Context, id int64, hash string) error
}

type Store interface {
	Directory
	Registry
	Messages
	Accounts
	Close() error
}
