package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseUpdate(t *testing.T) {
	payload := []byte(`{
		"update_id": 42,
		"message": {
			"message_id": 7,
			"from": {"id": 100, "username": "alice"},
			"chat": {"id": 200},
			"text": "hello"
		}
	}`)

	update, err := ParseUpdate(payload)
	require.NoError(t, err)
	require.Equal(t, int64(42), update.UpdateID)
	require.NotNil(t, update.Message)
	require.Equal(t, int64(200), update.Message.Chat.ID)
	require.Equal(t, "alice", update.Message.From.Username)
	require.Equal(t, "hello", update.Message.Text)
}

func TestParseUpdateMalformed(t *testing.T) {
	_, err := ParseUpdate([]byte(`{not json`))
	require.Error(t, err)

	_, err = ParseUpdate([]byte(`{}`))
	require.Error(t, err)
}

func newTestClient(serverURL string) *Client {
	c := NewClient("test-token")
	c.baseURL = serverURL
	c.http = &http.Client{Timeout: 5 * time.Second}
	return c
}

func TestSendText(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.SendText(context.Background(), "200", "hello there")
	require.NoError(t, err)
	require.Equal(t, "/bottest-token/sendMessage", gotPath)
	require.Equal(t, float64(200), gotBody["chat_id"])
	require.Equal(t, "hello there", gotBody["text"])
}

func TestSendTextRejectsBadConversationID(t *testing.T) {
	client := NewClient("test-token")
	err := client.SendText(context.Background(), "not-a-chat-id", "x")
	require.Error(t, err)
}

func TestSendTextAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.SendText(context.Background(), "200", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestGetUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "5", r.URL.Query().Get("offset"))
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":5,"message":{"message_id":1,"chat":{"id":9},"text":"a"}},
			{"update_id":6,"message":{"message_id":2,"chat":{"id":9},"text":"b"}}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	updates, err := client.GetUpdates(context.Background(), 5, time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, "a", updates[0].Message.Text)
	require.Equal(t, "b", updates[1].Message.Text)
}

func TestPollAdvancesOffset(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			require.Equal(t, "0", r.URL.Query().Get("offset"))
			w.Write([]byte(`{"ok":true,"result":[{"update_id":10,"message":{"message_id":1,"chat":{"id":9},"text":"a"}}]}`))
		default:
			require.Equal(t, "11", r.URL.Query().Get("offset"))
			w.Write([]byte(`{"ok":true,"result":[]}`))
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())

	var seen []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Poll(ctx, func(_ context.Context, update *Update) {
			seen = append(seen, update.Message.Text)
			if calls.Load() >= 2 {
				cancel()
			}
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	require.Equal(t, []string{"a"}, seen)
}
