// Package chat composes the store, the authorization gate, attachment
// storage and client notifications into the messaging operations the
// transport layer exposes.
package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/pliu/parley/internal/authz"
	"github.com/pliu/parley/internal/blob"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/store"
)

// Store is everything the service reads and writes.
type Store interface {
	store.Directory
	store.Registry
	store.Messages
}

// Notifier pushes wake-up hints to connected sessions.
type Notifier interface {
	Notify(ev models.Event, userIDs ...int64)
}

type Service struct {
	store          Store
	gate           *authz.Gate
	blobs          blob.Store
	notifier       Notifier
	defaultQuotaMB int64
}

type Option func(*Service)

// WithDefaultQuotaMB sets the attachment quota for channels created without
// one.
func WithDefaultQuotaMB(mb int64) Option {
	return func(s *Service) { s.defaultQuotaMB = mb }
}

func New(st Store, blobs blob.Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:          st,
		gate:           authz.New(st),
		blobs:          blobs,
		notifier:       notifier,
		defaultQuotaMB: models.DefaultMaxFileSizeMB,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload is an attachment as received from the client. Size is the declared
// length and is checked again while the bytes are copied.
type Upload struct {
	Name string
	Size int64
	Body io.Reader
}

type SendInput struct {
	SenderID    int64
	Target      models.Target
	Content     string
	ClientToken string
	File        *Upload
}

// Send authorizes, stores the attachment if any, and appends the message.
// A stored attachment is removed again when the append fails.
func (s *Service) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if !in.Target.Valid() {
		return nil, models.ErrInvalidTarget
	}
	if strings.TrimSpace(in.Content) == "" && in.File == nil {
		return nil, models.ErrEmptyMessage
	}
	if err := s.gate.CanSendTo(ctx, in.SenderID, in.Target); err != nil {
		return nil, err
	}

	var attachment *models.Attachment
	if in.File != nil {
		var quota int64
		if in.Target.IsChannel() {
			ch, err := s.store.GetChannel(ctx, in.Target.ID())
			if err != nil {
				return nil, err
			}
			quota = ch.MaxFileSize
		}
		var err error
		attachment, err = s.blobs.Put(ctx, in.File.Name, in.File.Body, in.File.Size, quota)
		if err != nil {
			return nil, err
		}
	}

	msg, err := s.store.Append(ctx, models.NewMessage{
		SenderID:    in.SenderID,
		Target:      in.Target,
		Content:     in.Content,
		Attachment:  attachment,
		ClientToken: in.ClientToken,
	})
	if err != nil {
		if attachment != nil {
			// cleanup must outlive a cancelled request
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), attachment.URL); delErr != nil {
				slog.Error("blob_cleanup_failed", "url", attachment.URL, "error", delErr)
			}
		}
		return nil, err
	}
	if attachment != nil && msg.Attachment != nil && msg.Attachment.URL != attachment.URL {
		// idempotent retry: the stored message already references an earlier upload
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), attachment.URL); delErr != nil {
			slog.Error("blob_cleanup_failed", "url", attachment.URL, "error", delErr)
		}
	}

	s.announce(ctx, msg)
	return msg, nil
}

func (s *Service) announce(ctx context.Context, msg *models.Message) {
	if s.notifier == nil {
		return
	}
	if msg.Target.IsDirect() {
		peer := msg.Target.ID()
		s.notifier.Notify(models.Event{Type: models.EventMessage, PeerID: msg.SenderID, ID: msg.ID}, peer)
		s.notifier.Notify(models.Event{Type: models.EventMessage, PeerID: peer, ID: msg.ID}, msg.SenderID)
		return
	}
	members, err := s.store.ListMembers(ctx, msg.Target.ID())
	if err != nil {
		slog.Warn("notify_members_failed", "channel_id", msg.Target.ID(), "error", err)
		return
	}
	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = m.User.ID
	}
	s.notifier.Notify(models.Event{Type: models.EventMessage, ChannelID: msg.Target.ID(), ID: msg.ID}, ids...)
}

// Batch is one sync response: the messages plus the users who sent them.
type Batch struct {
	Messages []models.Message
	Senders  map[int64]models.User
}

// Sync returns the messages after afterID and marks the conversation read
// for reader.
func (s *Service) Sync(ctx context.Context, reader int64, target models.Target, afterID int64) (*Batch, error) {
	if err := s.gate.CanRead(ctx, reader, target); err != nil {
		return nil, err
	}
	if target.IsDirect() {
		if _, err := s.store.GetUserByID(ctx, target.ID()); err != nil {
			return nil, err
		}
	}
	if afterID < 0 {
		afterID = 0
	}

	messages, err := s.store.Sync(ctx, target, reader, afterID)
	if err != nil {
		return nil, err
	}
	senders, err := s.senders(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &Batch{Messages: messages, Senders: senders}, nil
}

func (s *Service) senders(ctx context.Context, messages []models.Message) (map[int64]models.User, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, m := range messages {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			ids = append(ids, m.SenderID)
		}
	}
	return s.store.GetUsersByIDs(ctx, ids)
}

// Users resolves ids to users; unknown ids are absent from the map.
func (s *Service) Users(ctx context.Context, ids ...int64) (map[int64]models.User, error) {
	return s.store.GetUsersByIDs(ctx, ids)
}

func (s *Service) UnreadSummary(ctx context.Context, viewer int64) (*models.UnreadSummary, error) {
	return s.store.UnreadSummary(ctx, viewer)
}

type UserConversation struct {
	User        models.User `json:"user"`
	UnreadCount int         `json:"unread_count"`
}

type ChannelConversation struct {
	Channel     models.Channel `json:"channel"`
	UnreadCount int            `json:"unread_count"`
}

// Conversations lists the viewer's direct correspondents, most recent first,
// and channels, each with its unread count.
type Conversations struct {
	Users    []UserConversation    `json:"users"`
	Channels []ChannelConversation `json:"channels"`
}

func (s *Service) Conversations(ctx context.Context, viewer int64) (*Conversations, error) {
	summary, err := s.store.UnreadSummary(ctx, viewer)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(summary.PerUser))
	for i, c := range summary.PerUser {
		ids[i] = c.ID
	}
	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	channels, err := s.store.ListChannels(ctx, viewer)
	if err != nil {
		return nil, err
	}
	channelUnread := countsByID(summary.PerChannel)

	out := &Conversations{
		Users:    make([]UserConversation, 0, len(summary.PerUser)),
		Channels: make([]ChannelConversation, 0, len(channels)),
	}
	for _, c := range summary.PerUser {
		u, ok := users[c.ID]
		if !ok {
			continue
		}
		out.Users = append(out.Users, UserConversation{User: publicUser(u), UnreadCount: c.UnreadCount})
	}
	for _, ch := range channels {
		out.Channels = append(out.Channels, ChannelConversation{Channel: ch, UnreadCount: channelUnread[ch.ID]})
	}
	return out, nil
}

// Search finds other users whose username, email or phone equals query and
// the viewer's channels whose name contains it. Hits carry the same unread
// counts Conversations reports; users never messaged count zero.
func (s *Service) Search(ctx context.Context, viewer int64, query string) (*Conversations, error) {
	out := &Conversations{Users: []UserConversation{}, Channels: []ChannelConversation{}}
	query = strings.TrimSpace(query)
	if query == "" {
		return out, nil
	}

	users, err := s.store.FindUsers(ctx, query, viewer)
	if err != nil {
		return nil, err
	}
	channels, err := s.store.SearchChannels(ctx, viewer, query)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.UnreadSummary(ctx, viewer)
	if err != nil {
		return nil, err
	}
	userUnread := countsByID(summary.PerUser)
	channelUnread := countsByID(summary.PerChannel)

	for _, u := range users {
		out.Users = append(out.Users, UserConversation{User: publicUser(u), UnreadCount: userUnread[u.ID]})
	}
	for _, ch := range channels {
		out.Channels = append(out.Channels, ChannelConversation{Channel: ch, UnreadCount: channelUnread[ch.ID]})
	}
	slog.Debug("search", "viewer", viewer, "users", len(out.Users), "channels", len(out.Channels))
	return out, nil
}

func countsByID(counts []models.UnreadCount) map[int64]int {
	m := make(map[int64]int, len(counts))
	for _, c := range counts {
		m[c.ID] = c.UnreadCount
	}
	return m
}

// publicUser strips the fields only the account owner sees.
func publicUser(u models.User) models.User {
	u.Password = ""
	u.Email = ""
	u.Phone = ""
	return u
}

func (s *Service) CreateChannel(ctx context.Context, creatorID int64, in models.NewChannel) (*models.Channel, error) {
	if in.MaxFileSizeMB == 0 {
		in.MaxFileSizeMB = s.defaultQuotaMB
	}
	return s.store.CreateChannel(ctx, creatorID, in)
}

func (s *Service) GetChannel(ctx context.Context, viewer, channelID int64) (*models.Channel, error) {
	if err := s.gate.CanRead(ctx, viewer, models.ChannelTarget(channelID)); err != nil {
		return nil, err
	}
	return s.store.GetChannel(ctx, channelID)
}

func (s *Service) UpdateChannel(ctx context.Context, actorID, channelID int64, patch models.ChannelPatch) (*models.Channel, error) {
	if err := s.gate.CanManage(ctx, actorID, channelID); err != nil {
		return nil, err
	}
	return s.store.UpdateChannel(ctx, channelID, patch)
}

func (s *Service) ListChannels(ctx context.Context, viewer int64) ([]models.Channel, error) {
	return s.store.ListChannels(ctx, viewer)
}

func (s *Service) ListMembers(ctx context.Context, viewer, channelID int64) ([]models.Member, error) {
	if err := s.gate.CanRead(ctx, viewer, models.ChannelTarget(channelID)); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, channelID)
}

func (s *Service) AddMember(ctx context.Context, actorID, channelID, userID int64, canSend bool) (*models.Membership, error) {
	if err := s.gate.CanManage(ctx, actorID, channelID); err != nil {
		return nil, err
	}
	m, err := s.store.AddMember(ctx, channelID, userID, canSend)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Notify(models.Event{Type: models.EventChannel, ChannelID: channelID}, userID)
	}
	return m, nil
}

func (s *Service) SetSendPermission(ctx context.Context, actorID, channelID, userID int64, allowed bool) error {
	if err := s.gate.CanManage(ctx, actorID, channelID); err != nil {
		return err
	}
	return s.store.SetSendPermission(ctx, channelID, userID, allowed)
}

// RemoveMember lets a member leave, or a manager remove someone else.
func (s *Service) RemoveMember(ctx context.Context, actorID, channelID, userID int64) error {
	if actorID != userID {
		if err := s.gate.CanManage(ctx, actorID, channelID); err != nil {
			return err
		}
	}
	return s.store.RemoveMember(ctx, channelID, userID)
}
