package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// newGmailTestServer serves a mailbox listing split across pages of one
// message each, keyed by page token.
func newGmailTestServer(t *testing.T, pages map[string]*gmail.ListMessagesResponse) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Query().Get("pageToken")]
		if !ok {
			http.Error(w, "unknown page token", http.StatusBadRequest)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		msg := &gmail.Message{
			Id: id,
			Payload: &gmail.MessagePart{
				MimeType: "text/plain",
				Headers: []*gmail.MessagePartHeader{
					{Name: "Subject", Value: "RE: Truckstop SUCCESS"},
					{Name: "Message-ID", Value: fmt.Sprintf("<%s@vendor.example.com>", id)},
				},
				Body: &gmail.MessagePartBody{
					Data: base64.URLEncoding.EncodeToString([]byte("body of " + id)),
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(msg))
	})
	return httptest.NewServer(mux)
}

func newTestGmailFetcher(t *testing.T, serverURL string) *GmailFetcher {
	t.Helper()

	svc, err := gmail.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(serverURL))
	require.NoError(t, err)

	return &GmailFetcher{
		service:   svc,
		userEmail: "me",
		lastCheck: time.Now().Add(-time.Hour),
	}
}

func TestGmailFetchFollowsPageTokens(t *testing.T) {
	ts := newGmailTestServer(t, map[string]*gmail.ListMessagesResponse{
		"": {
			Messages:      []*gmail.Message{{Id: "m1"}},
			NextPageToken: "page-2",
		},
		"page-2": {
			Messages:      []*gmail.Message{{Id: "m2"}},
			NextPageToken: "page-3",
		},
		"page-3": {
			Messages: []*gmail.Message{{Id: "m3"}},
		},
	})
	defer ts.Close()

	f := newTestGmailFetcher(t, ts.URL)
	replies, err := f.FetchNewReplies(context.Background())
	require.NoError(t, err)

	require.Len(t, replies, 3)
	assert.Equal(t, "<m1@vendor.example.com>", replies[0].MessageID)
	assert.Equal(t, "<m2@vendor.example.com>", replies[1].MessageID)
	assert.Equal(t, "<m3@vendor.example.com>", replies[2].MessageID)
	assert.Equal(t, "body of m2", replies[1].Body)
}

func TestGmailFetchSinglePage(t *testing.T) {
	ts := newGmailTestServer(t, map[string]*gmail.ListMessagesResponse{
		"": {Messages: []*gmail.Message{{Id: "m1"}}},
	})
	defer ts.Close()

	f := newTestGmailFetcher(t, ts.URL)
	before := f.lastCheck

	replies, err := f.FetchNewReplies(context.Background())
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "RE: Truckstop SUCCESS", replies[0].Subject)

	// Only after the listing is fully drained does the window advance.
	assert.True(t, f.lastCheck.After(before))
}
