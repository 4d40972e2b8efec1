package authz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pliu/parley/internal/models"
)

type fakeLookup struct {
	users       map[int64]models.User
	channels    map[int64]models.Channel
	memberships map[[2]int64]models.Membership
}

func (f *fakeLookup) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return &u, nil
}

func (f *fakeLookup) GetChannel(_ context.Context, id int64) (*models.Channel, error) {
	c, ok := f.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (f *fakeLookup) GetMembership(_ context.Context, channelID, userID int64) (*models.Membership, error) {
	m, ok := f.memberships[[2]int64{channelID, userID}]
	if !ok {
		return nil, models.ErrNotAMember
	}
	return &m, nil
}

const (
	owner    = 1
	writer   = 2
	reader   = 3
	admin    = 4
	outsider = 5
	general  = 10
)

func newGate() *Gate {
	f := &fakeLookup{
		users: map[int64]models.User{
			owner:    {ID: owner, Username: "owner"},
			writer:   {ID: writer, Username: "writer"},
			reader:   {ID: reader, Username: "reader"},
			admin:    {ID: admin, Username: "admin", IsSuperuser: true},
			outsider: {ID: outsider, Username: "outsider"},
		},
		channels: map[int64]models.Channel{
			general: {ID: general, Name: "general", CreatorID: owner},
		},
		memberships: map[[2]int64]models.Membership{},
	}
	for _, m := range []models.Membership{
		{ChannelID: general, UserID: owner, CanSend: true},
		{ChannelID: general, UserID: writer, CanSend: true},
		{ChannelID: general, UserID: reader, CanSend: false},
		{ChannelID: general, UserID: admin, CanSend: false},
	} {
		f.memberships[[2]int64{m.ChannelID, m.UserID}] = m
	}
	return New(f)
}

func TestCanSendTo(t *testing.T) {
	g := newGate()
	ctx := context.Background()

	tests := []struct {
		name    string
		user    int64
		target  models.Target
		wantErr error
	}{
		{"direct to other user", writer, models.DirectTarget(reader), nil},
		{"direct to self", writer, models.DirectTarget(writer), models.ErrInvalidTarget},
		{"direct to unknown user", writer, models.DirectTarget(99), models.ErrNotFound},
		{"zero target", writer, models.Target{}, models.ErrInvalidTarget},
		{"channel writer", writer, models.ChannelTarget(general), nil},
		{"channel reader", reader, models.ChannelTarget(general), models.ErrForbidden},
		{"superuser without permission", admin, models.ChannelTarget(general), nil},
		{"non-member", outsider, models.ChannelTarget(general), models.ErrForbidden},
		{"unknown channel", writer, models.ChannelTarget(99), models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CanSendTo(ctx, tt.user, tt.target)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected admit, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCanRead(t *testing.T) {
	g := newGate()
	ctx := context.Background()

	if err := g.CanRead(ctx, reader, models.ChannelTarget(general)); err != nil {
		t.Errorf("Expected read-only member to read, got %v", err)
	}
	if err := g.CanRead(ctx, outsider, models.ChannelTarget(general)); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for outsider, got %v", err)
	}
	if err := g.CanRead(ctx, outsider, models.DirectTarget(writer)); err != nil {
		t.Errorf("Expected direct read to be admitted, got %v", err)
	}
	if err := g.CanRead(ctx, writer, models.DirectTarget(writer)); !errors.Is(err, models.ErrInvalidTarget) {
		t.Errorf("Expected ErrInvalidTarget for self conversation, got %v", err)
	}
}

func TestCanManage(t *testing.T) {
	g := newGate()
	ctx := context.Background()

	if err := g.CanManage(ctx, owner, general); err != nil {
		t.Errorf("Expected creator to manage, got %v", err)
	}
	if err := g.CanManage(ctx, admin, general); err != nil {
		t.Errorf("Expected superuser to manage, got %v", err)
	}
	if err := g.CanManage(ctx, writer, general); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for writer, got %v", err)
	}
	if err := g.CanManage(ctx, owner, 99); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
