package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedEvent() Event {
	return Event{
		TaskID:     "task-1",
		Owner:      "alice",
		ChannelRef: "https://t.me/news",
		Status:     task.CompletedStatus,
		Stats:      &harvest.Stats{PostsChecked: 3, PostsWithComments: 2, TotalComments: 6, FilteredComments: 6, UniqueUsers: 5},
		CSVFile:    "data/output/news.csv",
	}
}

func TestSubjectAndBody(t *testing.T) {
	ev := completedEvent()
	assert.Equal(t, "Harvest completed: https://t.me/news", Subject(ev))

	body := Body(ev)
	assert.Contains(t, body, "Unique users: 5")
	assert.Contains(t, body, "CSV: data/output/news.csv")
	assert.NotContains(t, body, "Error:")

	failed := Event{TaskID: "task-2", ChannelRef: "@secret", Status: task.FailedStatus, Error: "Channel is private or you are not subscribed"}
	assert.Equal(t, "Harvest failed: @secret", Subject(failed))
	assert.Contains(t, Body(failed), "Error: Channel is private")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	broken := &recordingNotifier{err: errors.New("smtp down")}

	err := Multi{broken, ok}.Notify(context.Background(), completedEvent())
	assert.ErrorContains(t, err, "smtp down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, broken.events, 1)

	assert.NoError(t, Multi{}.Notify(context.Background(), completedEvent()))
}

func TestEmailNotifier(t *testing.T) {
	var gotAuth, gotPath string
	var payload struct {
		Subject string `json:"subject"`
		From    struct {
			Email string `json:"email"`
		} `json:"from"`
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewEmailNotifier("SG.key", srv.URL, "harvq", "noreply@harvq.local", "alice@example.com", nil)
	require.NoError(t, n.Notify(context.Background(), completedEvent()))

	assert.Equal(t, "Bearer SG.key", gotAuth)
	assert.Equal(t, "/v3/mail/send", gotPath)
	assert.Equal(t, "Harvest completed: https://t.me/news", payload.Subject)
	assert.Equal(t, "noreply@harvq.local", payload.From.Email)
	require.Len(t, payload.Personalizations, 1)
	assert.Equal(t, "alice@example.com", payload.Personalizations[0].To[0].Email)
}

func TestEmailNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewEmailNotifier("bad", srv.URL, "harvq", "noreply@harvq.local", "alice@example.com", nil)
	err := n.Notify(context.Background(), completedEvent())
	assert.ErrorContains(t, err, "status 401")
}

func newBotServer(t *testing.T, sent *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"harvq","username":"harvq_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "42", r.FormValue("chat_id"))
			*sent = append(*sent, r.FormValue("text"))
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
}

func TestTelegramNotifier(t *testing.T) {
	var sent []string
	srv := newBotServer(t, &sent)
	defer srv.Close()

	n, err := NewTelegramNotifierWithEndpoint("token", srv.URL+"/bot%s/%s", 42, srv.Client(), nil)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), completedEvent()))
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "Harvest completed: https://t.me/news"))
	assert.Contains(t, sent[0], "Posts checked: 3")
}

func TestTelegramNotifier_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	_, err := NewTelegramNotifierWithEndpoint("bad", srv.URL+"/bot%s/%s", 42, srv.Client(), nil)
	assert.Error(t, err)
}
