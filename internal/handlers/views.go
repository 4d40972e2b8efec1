package handlers

import "github.com/pliu/parley/internal/models"

const timestampLayout = "2006-01-02 15:04"

type userJSON struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
}

func userView(u models.User) userJSON {
	return userJSON{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Name(),
		AvatarURL:   u.Avatar(),
		Email:       u.Email,
		Phone:       u.Phone,
		IsSuperuser: u.IsSuperuser,
	}
}

type messageJSON struct {
	ID           int64  `json:"id"`
	SenderID     int64  `json:"sender_id"`
	Sender       string `json:"sender"`
	SenderAvatar string `json:"sender_avatar"`
	Content      string `json:"content"`
	FileURL      string `json:"file_url,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	FileType     string `json:"file_type,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	Timestamp    string `json:"timestamp"`
	IsSent       bool   `json:"is_sent"`
	Read         bool   `json:"read"`
	ChannelID    int64  `json:"channel_id,omitempty"`
	PeerID       int64  `json:"peer_id,omitempty"`
}

// messageView renders m for viewer. is_sent marks the viewer's own messages.
func messageView(m models.Message, viewer int64, senders map[int64]models.User) messageJSON {
	sender := senders[m.SenderID]
	out := messageJSON{
		ID:           m.ID,
		SenderID:     m.SenderID,
		Sender:       sender.Name(),
		SenderAvatar: sender.Avatar(),
		Content:      m.Content,
		Timestamp:    m.CreatedAt.UTC().Format(timestampLayout),
		IsSent:       m.SenderID == viewer,
		Read:         m.Read,
	}
	if a := m.Attachment; a != nil {
		out.FileURL = a.URL
		out.FileName = a.Name
		out.FileType = a.Category
		out.FileSize = a.Size
	}
	if m.Target.IsChannel() {
		out.ChannelID = m.Target.ID()
	} else {
		out.PeerID = m.Target.ID()
	}
	return out
}

type channelJSON struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	CreatorID     int64  `json:"creator_id"`
	IsGroup       bool   `json:"is_group"`
	MaxFileSize   int64  `json:"max_file_size"`
	MaxFileSizeMB int64  `json:"max_file_size_mb"`
	AvatarURL     string `json:"avatar_url"`
	CreatedAt     string `json:"created_at"`
}

func channelView(c models.Channel) channelJSON {
	avatar := c.AvatarURL
	if avatar == "" {
		avatar = models.DefaultChannelAvatar
	}
	return channelJSON{
		ID:            c.ID,
		Name:          c.Name,
		CreatorID:     c.CreatorID,
		IsGroup:       c.IsGroup,
		MaxFileSize:   c.MaxFileSize,
		MaxFileSizeMB: c.MaxFileSizeMB(),
		AvatarURL:     avatar,
		CreatedAt:     c.CreatedAt.UTC().Format(timestampLayout),
	}
}

type memberJSON struct {
	User    userJSON `json:"user"`
	CanSend bool     `json:"can_send"`
}
