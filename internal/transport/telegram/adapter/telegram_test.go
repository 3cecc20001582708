package adapter

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

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"noticebot/internal/transport"
	"noticebot/pkg/logx"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []map[string]any
	paths []string
	reply func(method string, body map[string]any) (int, string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(b, &body)
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	f.mu.Lock()
	f.calls = append(f.calls, body)
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	code, resp := http.StatusOK, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`
	if f.reply != nil {
		code, resp = f.reply(method, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, resp)
}

func newTestAdapter(t *testing.T, api *fakeAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestSendText(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	a := newTestAdapter(t, api)

	err := a.SendText(context.Background(), "@board", "*New Notice*", &transport.SendOptions{ParseMode: "Markdown", DisablePreview: true})
	require.NoError(t, err)

	require.Len(t, api.calls, 1)
	require.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	require.Equal(t, "@board", api.calls[0]["chat_id"])
	require.Equal(t, "*New Notice*", api.calls[0]["text"])
	require.Equal(t, "Markdown", api.calls[0]["parse_mode"])
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	a := newTestAdapter(t, api)

	long := strings.Repeat(strings.Repeat("x", 99)+"\n", 50) // 5000 runes
	require.NoError(t, a.SendText(context.Background(), "42", long, nil))
	require.Len(t, api.calls, 2)
}

func TestSendTextClassifiesErrors(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{reply: func(string, map[string]any) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	}}
	a := newTestAdapter(t, api)
	err := a.SendText(context.Background(), "999", "hi", nil)
	require.Error(t, err)
	require.True(t, transport.IsPermanent(err))

	api2 := &fakeAPI{reply: func(string, map[string]any) (int, string) {
		return http.StatusInternalServerError, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`
	}}
	a2 := newTestAdapter(t, api2)
	err = a2.SendText(context.Background(), "999", "hi", nil)
	require.Error(t, err)
	require.False(t, transport.IsPermanent(err))

	require.True(t, transport.IsPermanent(a2.SendText(context.Background(), "  ", "hi", nil)))
}

func TestSetWebhook(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{reply: func(method string, _ map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":true}`
	}}
	a := newTestAdapter(t, api)

	require.NoError(t, a.SetWebhook(context.Background(), "https://bot.example/webhook", "s3cret"))
	require.Len(t, api.calls, 1)
	require.True(t, strings.HasSuffix(api.paths[0], "/setWebhook"))
	require.Equal(t, "https://bot.example/webhook", api.calls[0]["url"])
	require.Equal(t, "s3cret", api.calls[0]["secret_token"])

	require.Error(t, a.SetWebhook(context.Background(), "", ""))
}

func TestToUpdate(t *testing.T) {
	t.Parallel()

	up, ok := ToUpdate(tele.Update{Message: &tele.Message{
		ID:     3,
		Text:   "/start",
		Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 42, FirstName: "Alice", Username: "alice"},
	}})
	require.True(t, ok)
	require.Equal(t, transport.UpdateMessage, up.Kind)
	require.Equal(t, int64(42), up.Message.ChatID)
	require.Equal(t, "Alice", up.Message.FirstName)
	require.Equal(t, "alice", up.Message.FromUsername)

	up, ok = ToUpdate(tele.Update{ChannelPost: &tele.Message{Chat: &tele.Chat{ID: -100, Title: "Board", Username: "board"}}})
	require.True(t, ok)
	require.Equal(t, transport.UpdateChannelPost, up.Kind)
	require.Equal(t, "Board", up.Message.ChatTitle)

	_, ok = ToUpdate(tele.Update{})
	require.False(t, ok)
	_, ok = ToUpdate(tele.Update{Message: &tele.Message{}})
	require.False(t, ok)
}

func TestPollingForwardsNonTextMessages(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, &fakeAPI{})
	out := make(chan transport.Update, 4)
	a.out.Store((chan<- transport.Update)(out))

	chat := &tele.Chat{ID: 42, Type: tele.ChatPrivate, FirstName: "Alice"}
	a.bot.ProcessUpdate(tele.Update{ID: 1, Message: &tele.Message{ID: 1, Chat: chat, Photo: &tele.Photo{}}})
	a.bot.ProcessUpdate(tele.Update{ID: 2, Message: &tele.Message{ID: 2, Chat: chat, Sticker: &tele.Sticker{}}})
	a.bot.ProcessUpdate(tele.Update{ID: 3, Message: &tele.Message{ID: 3, Chat: chat, Text: "hi"}})

	for range 3 {
		select {
		case up := <-out:
			require.Equal(t, int64(42), up.Message.ChatID)
			require.Equal(t, "Alice", up.Message.FirstName)
		case <-time.After(2 * time.Second):
			t.Fatal("update not forwarded")
		}
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"short"}, splitTelegramText("short", 10))

	parts := splitTelegramText("aaaa\nbbbb\ncccc", 10)
	require.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	parts = splitTelegramText(strings.Repeat("é", 25), 10)
	require.Len(t, parts, 3)
	require.Equal(t, 10, len([]rune(parts[0])))
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Offline: true}, logx.Nop())
	require.Error(t, err)
}
