package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pliu/parley/internal/models"
)

func (s *testServer) channel(t *testing.T, token string, body map[string]any) channelJSON {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/channels", token, body)
	expectStatus(t, rr, http.StatusCreated)
	var ch channelJSON
	decodeJSON(t, rr, &ch)
	return ch
}

func TestCreateChannel(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user(t, "alice")

	ch := s.channel(t, alice, map[string]any{"name": "  general  ", "is_group": true})
	if ch.ID == 0 || ch.Name != "general" || ch.CreatorID != aliceID || !ch.IsGroup {
		t.Errorf("channel = %+v", ch)
	}
	if ch.MaxFileSizeMB != models.DefaultMaxFileSizeMB || ch.AvatarURL != models.DefaultChannelAvatar {
		t.Errorf("defaults = %d MB, %q", ch.MaxFileSizeMB, ch.AvatarURL)
	}

	for _, body := range []map[string]any{
		{"name": ""},
		{"name": "neg", "max_file_size_mb": -1},
		{"name": "huge", "max_file_size_mb": 1<<44 + 1},
	} {
		rr := s.do(t, http.MethodPost, "/channels", alice, body)
		expectStatus(t, rr, http.StatusBadRequest)
	}

	rr := s.do(t, http.MethodGet, "/channels", alice, nil)
	expectStatus(t, rr, http.StatusOK)
	var list []channelJSON
	decodeJSON(t, rr, &list)
	if len(list) != 1 || list[0].ID != ch.ID {
		t.Errorf("list = %+v", list)
	}

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/channels/%d", ch.ID), alice, nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestChannelVisibility(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")
	_, bob := s.user(t, "bob")
	ch := s.channel(t, alice, map[string]any{"name": "secret"})

	for _, path := range []string{
		fmt.Sprintf("/channels/%d", ch.ID),
		fmt.Sprintf("/channels/%d/members", ch.ID),
	} {
		rr := s.do(t, http.MethodGet, path, bob, nil)
		expectStatus(t, rr, http.StatusForbidden)
	}

	rr := s.do(t, http.MethodGet, "/channels", bob, nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "[]\n" {
		t.Errorf("bob channels = %q", rr.Body.String())
	}
}

func TestUpdateChannel(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")
	ch := s.channel(t, alice, map[string]any{"name": "before"})

	rr := s.do(t, http.MethodPost, fmt.Sprintf("/channels/%d/members", ch.ID), alice, AddMemberRequest{UserID: bobID, CanSend: true})
	expectStatus(t, rr, http.StatusCreated)

	path := fmt.Sprintf("/channels/%d", ch.ID)
	rr = s.do(t, http.MethodPatch, path, bob, map[string]any{"name": "hijacked"})
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(t, http.MethodPatch, path, alice, map[string]any{"max_file_size_mb": 25})
	expectStatus(t, rr, http.StatusOK)
	var got channelJSON
	decodeJSON(t, rr, &got)
	if got.Name != "before" || got.MaxFileSizeMB != 25 || got.MaxFileSize != 25*models.MB {
		t.Errorf("after quota patch = %+v", got)
	}

	rr = s.do(t, http.MethodPatch, path, alice, map[string]any{"name": "after"})
	expectStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &got)
	if got.Name != "after" || got.MaxFileSizeMB != 25 {
		t.Errorf("after rename = %+v", got)
	}

	for _, body := range []map[string]any{{"name": " "}, {"max_file_size_mb": 0}, {"max_file_size_mb": 9000000000000}} {
		rr = s.do(t, http.MethodPatch, path, alice, body)
		expectStatus(t, rr, http.StatusBadRequest)
	}

	rr = s.do(t, http.MethodPatch, "/channels/999", alice, map[string]any{"name": "ghost"})
	expectStatus(t, rr, http.StatusNotFound)
}

func TestChannelMembership(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")
	carolID, carol := s.user(t, "carol")
	ch := s.channel(t, alice, map[string]any{"name": "team"})
	members := fmt.Sprintf("/channels/%d/members", ch.ID)

	rr := s.do(t, http.MethodPost, members, alice, AddMemberRequest{UserID: bobID})
	expectStatus(t, rr, http.StatusCreated)
	var m models.Membership
	decodeJSON(t, rr, &m)
	if m.ChannelID != ch.ID || m.UserID != bobID || m.CanSend {
		t.Errorf("membership = %+v", m)
	}

	rr = s.do(t, http.MethodPost, members, alice, AddMemberRequest{UserID: bobID})
	expectStatus(t, rr, http.StatusConflict)
	rr = s.do(t, http.MethodPost, members, alice, AddMemberRequest{UserID: 999})
	expectStatus(t, rr, http.StatusNotFound)
	rr = s.do(t, http.MethodPost, members, alice, AddMemberRequest{})
	expectStatus(t, rr, http.StatusBadRequest)
	// only the creator manages membership
	rr = s.do(t, http.MethodPost, members, bob, AddMemberRequest{UserID: carolID})
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(t, http.MethodPut, fmt.Sprintf("%s/%d/permission", members, carolID), alice, PermissionRequest{CanSend: true})
	expectStatus(t, rr, http.StatusConflict)

	rr = s.do(t, http.MethodPost, members, alice, AddMemberRequest{UserID: carolID, CanSend: true})
	expectStatus(t, rr, http.StatusCreated)

	// carol leaves on her own; bob cannot remove alice
	rr = s.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", members, carolID), carol, nil)
	expectStatus(t, rr, http.StatusNoContent)
	rr = s.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", members, aliceID), bob, nil)
	expectStatus(t, rr, http.StatusForbidden)
	rr = s.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", members, aliceID), alice, nil)
	expectStatus(t, rr, http.StatusForbidden)
	rr = s.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", members, carolID), alice, nil)
	expectStatus(t, rr, http.StatusConflict)

	rr = s.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", members, bobID), alice, nil)
	expectStatus(t, rr, http.StatusNoContent)
	rr = s.do(t, http.MethodGet, members, bob, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(t, http.MethodGet, members, alice, nil)
	expectStatus(t, rr, http.StatusOK)
	var list []memberJSON
	decodeJSON(t, rr, &list)
	if len(list) != 1 || list[0].User.ID != aliceID || !list[0].CanSend {
		t.Errorf("members = %+v", list)
	}
}
