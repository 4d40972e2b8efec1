package handlers

import (
	"net/http"

	"github.com/pliu/parley/internal/chat"
	"github.com/pliu/parley/internal/models"
)

type ChannelHandler struct {
	Service *chat.Service
}

type CreateChannelRequest struct {
	Name          string `json:"name"`
	IsGroup       bool   `json:"is_group"`
	MaxFileSizeMB int64  `json:"max_file_size_mb"`
	AvatarURL     string `json:"avatar_url"`
}

type UpdateChannelRequest struct {
	Name          *string `json:"name"`
	MaxFileSizeMB *int64  `json:"max_file_size_mb"`
	AvatarURL     *string `json:"avatar_url"`
}

type AddMemberRequest struct {
	UserID  int64 `json:"user_id"`
	CanSend bool  `json:"can_send"`
}

type PermissionRequest struct {
	CanSend bool `json:"can_send"`
}

func (h *ChannelHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateChannelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ch, err := h.Service.CreateChannel(r.Context(), userID, models.NewChannel{
		Name:          req.Name,
		IsGroup:       req.IsGroup,
		MaxFileSizeMB: req.MaxFileSizeMB,
		AvatarURL:     req.AvatarURL,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusCreated, channelView(*ch))
}

func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channels, err := h.Service.ListChannels(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]channelJSON, len(channels))
	for i, c := range channels {
		out[i] = channelView(c)
	}
	writeResponse(w, r, http.StatusOK, out)
}

func (h *ChannelHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ch, err := h.Service.GetChannel(r.Context(), userID, channelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusOK, channelView(*ch))
}

func (h *ChannelHandler) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdateChannelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ch, err := h.Service.UpdateChannel(r.Context(), userID, channelID, models.ChannelPatch{
		Name:          req.Name,
		MaxFileSizeMB: req.MaxFileSizeMB,
		AvatarURL:     req.AvatarURL,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusOK, channelView(*ch))
}

func (h *ChannelHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req AddMemberRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		writeError(w, r, badRequest("user_id is required"))
		return
	}

	m, err := h.Service.AddMember(r.Context(), userID, channelID, req.UserID, req.CanSend)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, http.StatusCreated, m)
}

func (h *ChannelHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req PermissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Service.SetSendPermission(r.Context(), userID, channelID, memberID, req.CanSend); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Service.RemoveMember(r.Context(), userID, channelID, memberID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	members, err := h.Service.ListMembers(r.Context(), userID, channelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]memberJSON, len(members))
	for i, m := range members {
		out[i] = memberJSON{User: userView(m.User), CanSend: m.CanSend}
	}
	writeResponse(w, r, http.StatusOK, out)
}
