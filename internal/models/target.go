package models

import (
	"fmt"
)

// TargetKind tells direct conversations and channels apart.
type TargetKind uint8

const (
	targetNone TargetKind = iota
	KindDirect
	KindChannel
)

// Target addresses a message: either a direct conversation with another user
// or a channel. The zero value is not a valid target.
type Target struct {
	kind TargetKind
	id   int64
}

// DirectTarget addresses the conversation with userID.
func DirectTarget(userID int64) Target {
	return Target{kind: KindDirect, id: userID}
}

// ChannelTarget addresses a channel.
func ChannelTarget(channelID int64) Target {
	return Target{kind: KindChannel, id: channelID}
}

// ParseTarget builds a target from the two optional wire fields. Exactly one
// must be set.
func ParseTarget(channelID, recipientID int64) (Target, error) {
	switch {
	case channelID > 0 && recipientID > 0:
		return Target{}, fmt.Errorf("%w: both channel_id and recipient_id set", ErrInvalidTarget)
	case channelID > 0:
		return ChannelTarget(channelID), nil
	case recipientID > 0:
		return DirectTarget(recipientID), nil
	default:
		return Target{}, fmt.Errorf("%w: channel_id or recipient_id required", ErrInvalidTarget)
	}
}

func (t Target) Kind() TargetKind { return t.kind }
func (t Target) IsDirect() bool   { return t.kind == KindDirect }
func (t Target) IsChannel() bool  { return t.kind == KindChannel }

// ID is the peer user id for a direct target and the channel id otherwise.
func (t Target) ID() int64 { return t.id }

func (t Target) Valid() bool {
	return t.kind != targetNone && t.id > 0
}

// LockKey identifies the conversation independent of which side is looking:
// a direct conversation between 3 and 7 has the same key for both users.
func (t Target) LockKey(viewer int64) string {
	if t.kind == KindChannel {
		return fmt.Sprintf("c:%d", t.id)
	}
	lo, hi := viewer, t.id
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("d:%d:%d", lo, hi)
}

func (t Target) String() string {
	switch t.kind {
	case KindDirect:
		return fmt.Sprintf("direct:%d", t.id)
	case KindChannel:
		return fmt.Sprintf("channel:%d", t.id)
	}
	return "invalid"
}
