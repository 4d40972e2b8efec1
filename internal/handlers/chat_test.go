package handlers

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/pliu/parley/internal/models"
)

type unreadJSON struct {
	Users    []models.UnreadCount `json:"users"`
	Channels []models.UnreadCount `json:"channels"`
}

func (s *testServer) sync(t *testing.T, token, query string) []messageJSON {
	t.Helper()
	rr := s.do(t, http.MethodGet, "/messages/sync?"+query, token, nil)
	expectStatus(t, rr, http.StatusOK)
	var resp syncResponse
	decodeJSON(t, rr, &resp)
	return resp.Messages
}

func (s *testServer) unread(t *testing.T, token string) unreadJSON {
	t.Helper()
	rr := s.do(t, http.MethodGet, "/unread", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var resp unreadJSON
	decodeJSON(t, rr, &resp)
	return resp
}

// upload posts a multipart message with a file part of size bytes.
func (s *testServer) upload(t *testing.T, token string, fields map[string]string, fileName string, size int) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(bytes.Repeat([]byte("x"), size)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return s.serve(req)
}

func (s *testServer) mediaFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(s.mediaRoot, "messages"))
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestChannelConversation(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")

	rr := s.do(t, http.MethodPost, "/channels", alice, map[string]any{"name": "general", "is_group": true})
	expectStatus(t, rr, http.StatusCreated)
	var ch channelJSON
	decodeJSON(t, rr, &ch)

	rr = s.do(t, http.MethodPost, fmt.Sprintf("/channels/%d/members", ch.ID), alice, AddMemberRequest{UserID: bobID, CanSend: true})
	expectStatus(t, rr, http.StatusCreated)

	rr = s.do(t, http.MethodPost, "/messages", bob, SendMessageRequest{ChannelID: ch.ID, Content: "hi all"})
	expectStatus(t, rr, http.StatusCreated)
	var sent messageJSON
	decodeJSON(t, rr, &sent)
	if !sent.IsSent || sent.SenderID != bobID || sent.ChannelID != ch.ID || sent.Sender != "bob" {
		t.Errorf("sent = %+v", sent)
	}

	if got := s.unread(t, alice).Channels; len(got) != 1 || got[0].ID != ch.ID || got[0].UnreadCount != 1 {
		t.Errorf("alice channel unread = %+v, want 1", got)
	}

	query := fmt.Sprintf("channel_id=%d", ch.ID)
	msgs := s.sync(t, alice, query)
	if len(msgs) != 1 || msgs[0].ID != sent.ID || msgs[0].IsSent || msgs[0].Read {
		t.Fatalf("first sync = %+v", msgs)
	}
	if got := s.unread(t, alice).Channels; got[0].UnreadCount != 0 {
		t.Errorf("alice channel unread after sync = %d", got[0].UnreadCount)
	}

	msgs = s.sync(t, alice, fmt.Sprintf("%s&after_id=%d", query, sent.ID))
	if len(msgs) != 0 {
		t.Errorf("sync past cursor = %+v", msgs)
	}

	// a full resync reports the message as read now
	msgs = s.sync(t, alice, query)
	if len(msgs) != 1 || !msgs[0].Read {
		t.Errorf("resync = %+v", msgs)
	}

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/channels/%d/members", ch.ID), bob, nil)
	expectStatus(t, rr, http.StatusOK)
	var members []memberJSON
	decodeJSON(t, rr, &members)
	if len(members) != 2 || members[0].User.ID != aliceID || members[1].User.ID != bobID || !members[1].CanSend {
		t.Errorf("members = %+v", members)
	}
}

func TestDirectConversation(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")

	rr := s.do(t, http.MethodPost, "/messages", alice, SendMessageRequest{RecipientID: bobID, Content: "hey bob"})
	expectStatus(t, rr, http.StatusCreated)
	var sent messageJSON
	decodeJSON(t, rr, &sent)
	if sent.PeerID != bobID || sent.ChannelID != 0 || !sent.IsSent {
		t.Errorf("sent = %+v", sent)
	}

	if got := s.unread(t, bob).Users; len(got) != 1 || got[0].ID != aliceID || got[0].UnreadCount != 1 {
		t.Errorf("bob unread = %+v", got)
	}
	// the sender has nothing to read
	if got := s.unread(t, alice).Users; len(got) != 1 || got[0].UnreadCount != 0 {
		t.Errorf("alice unread = %+v", got)
	}

	msgs := s.sync(t, bob, fmt.Sprintf("recipient_id=%d", aliceID))
	if len(msgs) != 1 {
		t.Fatalf("bob sync = %+v", msgs)
	}
	if m := msgs[0]; m.ID != sent.ID || m.PeerID != aliceID || m.IsSent || m.Read || m.Content != "hey bob" {
		t.Errorf("bob sees %+v", m)
	}
	if got := s.unread(t, bob).Users; got[0].UnreadCount != 0 {
		t.Errorf("bob unread after sync = %d", got[0].UnreadCount)
	}

	rr = s.do(t, http.MethodGet, "/conversations", bob, nil)
	expectStatus(t, rr, http.StatusOK)
	var conv struct {
		Users    []userConversationJSON    `json:"users"`
		Channels []channelConversationJSON `json:"channels"`
	}
	decodeJSON(t, rr, &conv)
	if len(conv.Users) != 1 || conv.Users[0].User.ID != aliceID || conv.Users[0].User.Email != "" {
		t.Errorf("conversations users = %+v", conv.Users)
	}
	if conv.Channels == nil || len(conv.Channels) != 0 {
		t.Errorf("conversations channels = %+v", conv.Channels)
	}
}

func TestSendMessageRejections(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user(t, "alice")
	bobID, _ := s.user(t, "bob")

	cases := []struct {
		name string
		body any
		want int
	}{
		{"self", SendMessageRequest{RecipientID: aliceID, Content: "me"}, http.StatusBadRequest},
		{"no target", SendMessageRequest{Content: "nobody"}, http.StatusBadRequest},
		{"both targets", SendMessageRequest{RecipientID: bobID, ChannelID: 1, Content: "x"}, http.StatusBadRequest},
		{"empty", SendMessageRequest{RecipientID: bobID, Content: "   "}, http.StatusBadRequest},
		{"unknown recipient", SendMessageRequest{RecipientID: 999, Content: "hello?"}, http.StatusNotFound},
		{"unknown channel", SendMessageRequest{ChannelID: 999, Content: "hello?"}, http.StatusNotFound},
		{"malformed", "not an object", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/messages", alice, tc.body)
			expectStatus(t, rr, tc.want)
		})
	}
}

func TestSendMessageChannelPermissions(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")
	_, carol := s.user(t, "carol")

	rr := s.do(t, http.MethodPost, "/channels", alice, map[string]any{"name": "news"})
	expectStatus(t, rr, http.StatusCreated)
	var ch channelJSON
	decodeJSON(t, rr, &ch)

	// read-only member
	rr = s.do(t, http.MethodPost, fmt.Sprintf("/channels/%d/members", ch.ID), alice, AddMemberRequest{UserID: bobID})
	expectStatus(t, rr, http.StatusCreated)

	rr = s.do(t, http.MethodPost, "/messages", bob, SendMessageRequest{ChannelID: ch.ID, Content: "can I?"})
	expectStatus(t, rr, http.StatusForbidden)
	rr = s.do(t, http.MethodPost, "/messages", carol, SendMessageRequest{ChannelID: ch.ID, Content: "let me in"})
	expectStatus(t, rr, http.StatusForbidden)

	// bob can still read, carol cannot
	if msgs := s.sync(t, bob, fmt.Sprintf("channel_id=%d", ch.ID)); len(msgs) != 0 {
		t.Errorf("bob sync = %+v", msgs)
	}
	rr = s.do(t, http.MethodGet, fmt.Sprintf("/messages/sync?channel_id=%d", ch.ID), carol, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(t, http.MethodPut, fmt.Sprintf("/channels/%d/members/%d/permission", ch.ID, bobID), alice, PermissionRequest{CanSend: true})
	expectStatus(t, rr, http.StatusNoContent)
	rr = s.do(t, http.MethodPost, "/messages", bob, SendMessageRequest{ChannelID: ch.ID, Content: "now I can"})
	expectStatus(t, rr, http.StatusCreated)
}

func TestSendMessageAttachmentQuota(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")

	rr := s.do(t, http.MethodPost, "/channels", alice, map[string]any{"name": "tiny", "max_file_size_mb": 1})
	expectStatus(t, rr, http.StatusCreated)
	var ch channelJSON
	decodeJSON(t, rr, &ch)
	if ch.MaxFileSize != models.MB || ch.MaxFileSizeMB != 1 {
		t.Fatalf("channel quota = %d bytes, %d MB", ch.MaxFileSize, ch.MaxFileSizeMB)
	}
	fields := map[string]string{"channel_id": fmt.Sprint(ch.ID)}

	rr = s.upload(t, alice, fields, "big.png", int(models.MB)+1)
	expectStatus(t, rr, http.StatusRequestEntityTooLarge)
	var body errorBody
	decodeJSON(t, rr, &body)
	if body.QuotaBytes != models.MB || body.QuotaMB != 1 || !strings.Contains(body.Error, "1MB") {
		t.Errorf("413 body = %+v", body)
	}
	if n := s.mediaFiles(t); n != 0 {
		t.Errorf("rejected upload left %d files", n)
	}

	// exactly at the limit is accepted, with no text content
	rr = s.upload(t, alice, fields, "Photo.PNG", int(models.MB))
	expectStatus(t, rr, http.StatusCreated)
	var sent messageJSON
	decodeJSON(t, rr, &sent)
	if sent.FileSize != models.MB || sent.FileType != models.CategoryImage || sent.FileName != "Photo.PNG" {
		t.Errorf("attachment = %+v", sent)
	}
	if !strings.HasPrefix(sent.FileURL, "/media/messages/") || !strings.HasSuffix(sent.FileURL, ".png") {
		t.Errorf("file url = %q", sent.FileURL)
	}
	if n := s.mediaFiles(t); n != 1 {
		t.Errorf("stored %d files, want 1", n)
	}

	rr = s.do(t, http.MethodGet, sent.FileURL, alice, nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.Len() != int(models.MB) {
		t.Errorf("served %d bytes", rr.Body.Len())
	}
}

func TestSendMessageClientToken(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")

	req := SendMessageRequest{RecipientID: bobID, Content: "once", ClientToken: "tok-1"}
	var first, second messageJSON
	rr := s.do(t, http.MethodPost, "/messages", alice, req)
	expectStatus(t, rr, http.StatusCreated)
	decodeJSON(t, rr, &first)
	rr = s.do(t, http.MethodPost, "/messages", alice, req)
	expectStatus(t, rr, http.StatusCreated)
	decodeJSON(t, rr, &second)

	if first.ID != second.ID {
		t.Errorf("retry created a second message: %d, %d", first.ID, second.ID)
	}
	if got := s.unread(t, bob).Users; len(got) != 1 || got[0].UnreadCount != 1 {
		t.Errorf("bob unread = %+v", got)
	}
}

func TestCBOR(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")
	bobID, _ := s.user(t, "bob")

	data, err := cbor.Marshal(SendMessageRequest{RecipientID: bobID, Content: "compact"})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/cbor")
	req.Header.Set("Accept", "application/cbor")
	req.Header.Set("Authorization", "Bearer "+alice)
	rr := s.serve(req)
	expectStatus(t, rr, http.StatusCreated)

	if ct := rr.Header().Get("Content-Type"); ct != "application/cbor" {
		t.Errorf("Content-Type = %q", ct)
	}
	var sent messageJSON
	if err := cbor.Unmarshal(rr.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode cbor: %v", err)
	}
	if sent.Content != "compact" || sent.PeerID != bobID {
		t.Errorf("sent = %+v", sent)
	}
}

func TestSyncRejections(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user(t, "alice")

	for _, query := range []string{"", "channel_id=abc", "after_id=-1&recipient_id=2", "channel_id=1&recipient_id=2"} {
		rr := s.do(t, http.MethodGet, "/messages/sync?"+query, alice, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("sync?%s: status = %d, want 400", query, rr.Code)
		}
	}
	rr := s.do(t, http.MethodGet, "/messages/sync?recipient_id=999", alice, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestSearch(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user(t, "alice")
	bobID, bob := s.user(t, "bob")
	ch := s.channel(t, alice, map[string]any{"name": "Project Bob"})
	rr := s.do(t, http.MethodPost, fmt.Sprintf("/channels/%d/members", ch.ID), alice, AddMemberRequest{UserID: bobID, CanSend: true})
	expectStatus(t, rr, http.StatusCreated)

	rr = s.do(t, http.MethodPatch, "/me", bob, map[string]string{"phone": "+15550100"})
	expectStatus(t, rr, http.StatusOK)
	for _, content := range []string{"  ping  ", "pong"} {
		rr = s.do(t, http.MethodPost, "/messages", bob, SendMessageRequest{RecipientID: aliceID, Content: content})
		expectStatus(t, rr, http.StatusCreated)
	}

	rr = s.do(t, http.MethodGet, "/search?q=%2B15550100", alice, nil)
	expectStatus(t, rr, http.StatusOK)
	var res conversationsJSON
	decodeJSON(t, rr, &res)
	if len(res.Users) != 1 || res.Users[0].User.ID != bobID || res.Users[0].UnreadCount != 2 {
		t.Fatalf("search by phone = %+v", res)
	}
	if u := res.Users[0].User; u.Phone != "" || u.Email != "" {
		t.Errorf("search exposed contact details: %+v", u)
	}

	rr = s.do(t, http.MethodGet, "/search?q=bob", alice, nil)
	expectStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &res)
	if len(res.Users) != 1 || len(res.Channels) != 1 || res.Channels[0].Channel.ID != ch.ID || res.Channels[0].UnreadCount != 0 {
		t.Errorf("search by name = %+v", res)
	}

	// the stored content is trimmed
	msgs := s.sync(t, alice, fmt.Sprintf("recipient_id=%d", bobID))
	if len(msgs) != 2 || msgs[0].Content != "ping" {
		t.Errorf("synced = %+v", msgs)
	}

	rr = s.do(t, http.MethodGet, "/search", alice, nil)
	expectStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &res)
	if res.Users == nil || res.Channels == nil || len(res.Users)+len(res.Channels) != 0 {
		t.Errorf("empty search = %+v", res)
	}
}
