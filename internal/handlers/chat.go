package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/pliu/parley/internal/chat"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/ws"
)

// maxUploadBytes bounds a multipart message request. Channel quotas are
// enforced separately while the file is stored.
const maxUploadBytes = 100 << 20

type ChatHandler struct {
	Service *chat.Service
	Hub     *ws.Hub
}

type SendMessageRequest struct {
	ChannelID   int64  `json:"channel_id"`
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
	ClientToken string `json:"client_token"`
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in, err := readSendInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.SenderID = userID
	if in.File != nil {
		if c, ok := in.File.Body.(io.Closer); ok {
			defer c.Close()
		}
	}

	msg, err := h.Service.Send(r.Context(), *in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	senders, err := h.Service.Users(r.Context(), msg.SenderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusCreated, messageView(*msg, userID, senders))
}

// readSendInput accepts either a JSON/CBOR body or a multipart form with an
// optional "file" part.
func readSendInput(w http.ResponseWriter, r *http.Request) (*chat.SendInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req SendMessageRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		target, err := models.ParseTarget(req.ChannelID, req.RecipientID)
		if err != nil {
			return nil, err
		}
		return &chat.SendInput{Target: target, Content: req.Content, ClientToken: req.ClientToken}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, badRequest("invalid form: %v", err)
	}
	channelID, err := formID(r, "channel_id")
	if err != nil {
		return nil, err
	}
	recipientID, err := formID(r, "recipient_id")
	if err != nil {
		return nil, err
	}
	target, err := models.ParseTarget(channelID, recipientID)
	if err != nil {
		return nil, err
	}

	in := &chat.SendInput{
		Target:      target,
		Content:     r.FormValue("content"),
		ClientToken: r.FormValue("client_token"),
	}
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return nil, badRequest("invalid file: %v", err)
	default:
		in.File = &chat.Upload{Name: header.Filename, Size: header.Size, Body: file}
	}
	return in, nil
}

func formID(r *http.Request, name string) (int64, error) {
	v := r.FormValue(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}

type syncResponse struct {
	Messages []messageJSON `json:"messages"`
}

// Sync serves GET /messages/sync?channel_id=|recipient_id=&after_id=.
func (h *ChatHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channelID, err := queryID(r, "channel_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	recipientID, err := queryID(r, "recipient_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	afterID, err := queryID(r, "after_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := models.ParseTarget(channelID, recipientID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	batch, err := h.Service.Sync(r.Context(), userID, target, afterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := syncResponse{Messages: make([]messageJSON, len(batch.Messages))}
	for i, m := range batch.Messages {
		out.Messages[i] = messageView(m, userID, batch.Senders)
	}
	writeResponse(w, r, http.StatusOK, out)
}

func (h *ChatHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.Service.UnreadSummary(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusOK, summary)
}

type userConversationJSON struct {
	User        userJSON `json:"user"`
	UnreadCount int      `json:"unread_count"`
}

type channelConversationJSON struct {
	Channel     channelJSON `json:"channel"`
	UnreadCount int         `json:"unread_count"`
}

type conversationsJSON struct {
	Users    []userConversationJSON    `json:"users"`
	Channels []channelConversationJSON `json:"channels"`
}

func conversationsView(conv *chat.Conversations) conversationsJSON {
	out := conversationsJSON{
		Users:    make([]userConversationJSON, len(conv.Users)),
		Channels: make([]channelConversationJSON, len(conv.Channels)),
	}
	for i, u := range conv.Users {
		out.Users[i] = userConversationJSON{User: userView(u.User), UnreadCount: u.UnreadCount}
	}
	for i, c := range conv.Channels {
		out.Channels[i] = channelConversationJSON{Channel: channelView(c.Channel), UnreadCount: c.UnreadCount}
	}
	return out
}

func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := h.Service.Conversations(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusOK, conversationsView(conv))
}

// Search serves GET /search?q=, shaped like /conversations.
func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := h.Service.Search(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusOK, conversationsView(conv))
}

// ServeWS attaches an authenticated websocket session to the hub.
func (h *ChatHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ws.ServeWs(h.Hub, w, r, userID)
}
