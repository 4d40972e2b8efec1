// Package authz decides whether a user may send to, read, or manage a
// conversation. Decisions are returned as errors wrapping models.ErrForbidden
// (or ErrInvalidTarget / ErrNotFound for malformed requests); nil admits.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/pliu/parley/internal/models"
)

// Lookup is the read-only slice of the store the gate consults.
type Lookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
	GetMembership(ctx context.Context, channelID, userID int64) (*models.Membership, error)
}

type Gate struct {
	lookup Lookup
}

func New(lookup Lookup) *Gate {
	return &Gate{lookup: lookup}
}

// CanSendTo admits a direct message to an existing other user, or a channel
// message from a member who holds send permission. Superusers may send to
// any channel they belong to.
func (g *Gate) CanSendTo(ctx context.Context, userID int64, target models.Target) error {
	if !target.Valid() {
		return models.ErrInvalidTarget
	}
	if target.IsDirect() {
		if target.ID() == userID {
			return fmt.Errorf("%w: cannot message yourself", models.ErrInvalidTarget)
		}
		_, err := g.lookup.GetUserByID(ctx, target.ID())
		return err
	}

	if _, err := g.lookup.GetChannel(ctx, target.ID()); err != nil {
		return err
	}
	m, err := g.membership(ctx, target.ID(), userID)
	if err != nil {
		return err
	}
	if m.CanSend {
		return nil
	}
	u, err := g.lookup.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsSuperuser {
		return nil
	}
	return fmt.Errorf("%w: no send permission in channel %d", models.ErrForbidden, target.ID())
}

// CanRead admits either party of a direct conversation and any member of a
// channel.
func (g *Gate) CanRead(ctx context.Context, userID int64, target models.Target) error {
	if !target.Valid() {
		return models.ErrInvalidTarget
	}
	if target.IsDirect() {
		if target.ID() == userID {
			return fmt.Errorf("%w: cannot read a conversation with yourself", models.ErrInvalidTarget)
		}
		return nil
	}
	_, err := g.membership(ctx, target.ID(), userID)
	return err
}

// CanManage admits the channel creator and superusers.
func (g *Gate) CanManage(ctx context.Context, userID, channelID int64) error {
	ch, err := g.lookup.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.CreatorID == userID {
		return nil
	}
	u, err := g.lookup.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsSuperuser {
		return nil
	}
	return fmt.Errorf("%w: only the creator can manage channel %d", models.ErrForbidden, channelID)
}

func (g *Gate) membership(ctx context.Context, channelID, userID int64) (*models.Membership, error) {
	m, err := g.lookup.GetMembership(ctx, channelID, userID)
	if errors.Is(err, models.ErrNotAMember) {
		return nil, fmt.Errorf("%w: not a member of channel %d", models.ErrForbidden, channelID)
	}
	return m, err
}
