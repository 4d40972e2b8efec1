package models

const (
	EventMessage = "message"
	EventChannel = "channel"
)

// Event is a wake-up hint pushed to connected clients. It names the
// conversation that changed; clients fetch the content through sync.
type Event struct {
	Type      string `json:"type"`
	ChannelID int64  `json:"channel_id,omitempty"`
	PeerID    int64  `json:"peer_id,omitempty"`
	ID        int64  `json:"id"`
}
