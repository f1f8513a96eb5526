package mailsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mailhogFixture(items []mailhogItem) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mailhogResponse{
			Total: len(items),
			Count: len(items),
			Items: items,
		})
	}))
}

func testSource(baseURL string) *MailHogSource {
	s := NewMailHogSource("localhost", 8025, 50, zap.NewNop())
	s.baseURL = baseURL
	return s
}

func captureItem(id, subject string, created time.Time) mailhogItem {
	item := mailhogItem{
		ID:      id,
		From:    mailhogAddress{Mailbox: "support", Domain: "corp-secure.xyz"},
		To:      []mailhogAddress{{Mailbox: "alice", Domain: "corp.example"}},
		Created: created,
	}
	item.Content.Headers = map[string][]string{"Subject": {subject}}
	item.Content.Body = "Please verify your account"
	return item
}

func TestFetchMapsMessages(t *testing.T) {
	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	srv := mailhogFixture([]mailhogItem{captureItem("msg-1", "Urgent: verify now", created)})
	defer srv.Close()

	msgs, err := testSource(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "support@corp-secure.xyz", msg.Sender)
	assert.Equal(t, []string{"alice@corp.example"}, msg.Recipients)
	assert.Equal(t, "Urgent: verify now", msg.Subject)
	assert.Equal(t, "Please verify your account", msg.Body)
	assert.True(t, created.Equal(msg.ReceivedAt))
}

func TestFetchOrdersOldestFirst(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	// MailHog returns newest first.
	srv := mailhogFixture([]mailhogItem{
		captureItem("msg-3", "third", base.Add(2*time.Minute)),
		captureItem("msg-2", "second", base.Add(time.Minute)),
		captureItem("msg-1", "first", base),
	})
	defer srv.Close()

	msgs, err := testSource(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-1", msgs[0].ID)
	assert.Equal(t, "msg-2", msgs[1].ID)
	assert.Equal(t, "msg-3", msgs[2].ID)
}

func TestFetchSkipsSeenMessages(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	srv := mailhogFixture([]mailhogItem{
		captureItem("msg-2", "second", base.Add(time.Minute)),
		captureItem("msg-1", "first", base),
	})
	defer srv.Close()

	src := testSource(srv.URL)

	first, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testSource(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected MailHog status")
}

func TestItemToMessageDefaults(t *testing.T) {
	item := mailhogItem{ID: "msg-1", From: mailhogAddress{Mailbox: "postmaster"}}
	msg := itemToMessage(item)
	assert.Equal(t, "postmaster", msg.Sender)
	assert.Empty(t, msg.Recipients)
	assert.False(t, msg.ReceivedAt.IsZero())
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	headers := map[string][]string{"subject": {"hello"}}
	assert.Equal(t, "hello", headerValue(headers, "Subject"))
	assert.Equal(t, "", headerValue(headers, "Reply-To"))
}
