package sdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/ecommunity/pkg/identity"
)

type staticIds struct{}

func (staticIds) NextID() (string, error) { return "req-1", nil }

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]ClientOption{WithToken("tok"), WithAPIKey("key"), WithIDGenerator(staticIds{})}, opts...)
	c, err := NewClient(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "key", r.Header.Get("apikey"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-Id"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"conversations": []map[string]interface{}{
				{"id": "c1", "isGroup": false, "unreadCount": 2, "participants": []map[string]string{{"id": "u1", "name": "Ada"}}},
			},
		})
	})

	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].Id)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.Equal(t, "Ada", convs[0].Participants[0].Name)
}

func TestAdminRolePrefix(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/messages/m1", r.URL.Path)
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}, WithRole(identity.RoleAdmin))

	require.NoError(t, c.DeleteMessage(context.Background(), "m1"))
}

func TestCreateConversation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req CreateConversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"u2"}, req.ParticipantIds)
		assert.False(t, req.IsGroup)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"conversation": map[string]interface{}{"id": "c9"}})
	})

	conv, err := c.CreateConversation(context.Background(), &CreateConversationRequest{ParticipantIds: []string{"u2"}})
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.Id)
}

func TestListMessagesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		assert.Equal(t, "backward", r.URL.Query().Get("direction"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages":   []map[string]interface{}{{"id": "m1", "content": "hi", "createdAt": "2024-05-01T10:00:00Z"}},
			"nextCursor": "def",
			"hasMore":    true,
		})
	})

	page, err := c.ListMessages(context.Background(), "c1", &ListMessagesQuery{Cursor: "abc", Direction: "backward", Limit: 20})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "def", page.NextCursor)
	assert.True(t, page.HasMore)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), page.Messages[0].CreatedAt.UTC())
}

func TestSendMessageMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue(FormContent))
		assert.Equal(t, "m0", r.FormValue(FormReplyToMessageId))
		assert.Equal(t, "true", r.FormValue(FormEphemeral))

		var gif GifInfo
		require.NoError(t, json.Unmarshal([]byte(r.FormValue(FormGif)), &gif))
		assert.Equal(t, "g1", gif.Id)

		files := r.MultipartForm.File[FormAttachments]
		require.Len(t, files, 1)
		assert.Equal(t, "a.txt", files[0].Filename)
		f, err := files[0].Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "file-body", string(data))

		writeJSON(w, http.StatusCreated, map[string]interface{}{"message": map[string]string{"id": "m1"}})
	})

	msg, err := c.SendMessage(context.Background(), "c1", &SendMessageRequest{
		Content:          "hello",
		ReplyToMessageId: "m0",
		Gif:              &GifInfo{Id: "g1", URL: "https://gifs.example/g1.gif"},
		Ephemeral:        true,
		Files:            []*File{{Name: "a.txt", ContentType: "text/plain", Reader: strings.NewReader("file-body")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.Id)
}

func TestMessageIntents(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" "+strings.TrimSpace(string(body)))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	ctx := context.Background()
	require.NoError(t, c.MarkRead(ctx, "m1"))
	require.NoError(t, c.ToggleReaction(ctx, "m1", "👍"))
	require.NoError(t, c.EditMessage(ctx, "m1", "edited"))
	require.NoError(t, c.DeleteConversation(ctx, "c1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"POST /messages/m1/read ",
		`POST /messages/m1/reactions {"reaction":"👍"}`,
		`PUT /messages/m1 {"content":"edited"}`,
		"DELETE /conversations/c1 ",
	}, calls)
}

func TestErrorDecoding(t *testing.T) {
	tcases := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "error field", status: http.StatusBadRequest, body: `{"error":"content required"}`, wantMsg: "content required"},
		{name: "message field", status: http.StatusForbidden, body: `{"message":"nope"}`, wantMsg: "nope"},
		{name: "no body", status: http.StatusNotFound, body: "", wantMsg: "Not Found"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := c.GetMessage(context.Background(), "m1")
			require.Error(t, err)
			assert.Equal(t, tc.status, StatusOf(err))
			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.wantMsg, apiErr.Msg)
		})
	}
}

func TestStorageSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/object/sign/attachments/c1/file.png", r.URL.Path)
		var req SignURLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(3600), req.ExpiresIn)
		writeJSON(w, http.StatusOK, SignURLResponse{SignedURL: "/object/sign/attachments/c1/file.png?token=t"})
	}))
	defer srv.Close()

	s, err := NewStorageClient(srv.URL, "attachments", WithIDGenerator(staticIds{}), WithRole(identity.RoleAdmin))
	require.NoError(t, err)

	u, err := s.CreateSignedURL(context.Background(), "c1/file.png", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/object/sign/attachments/c1/file.png?token=t", u)

	_, err = s.CreateSignedURL(context.Background(), "", time.Hour)
	assert.Error(t, err)
}
