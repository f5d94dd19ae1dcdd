package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vidproof/backend/internal/config"
)

type fakeAPI struct {
	mu      sync.Mutex
	calls   map[string][]url.Values
	files   map[string]string
	updates []map[string]any
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{calls: map[string][]url.Values{}, files: map[string]string{}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/file/bottoken/") {
			body, ok := api.files[strings.TrimPrefix(r.URL.Path, "/file/bottoken/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(body))
			return
		}

		method, ok := strings.CutPrefix(r.URL.Path, "/bottoken/")
		if !ok {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		api.mu.Lock()
		api.calls[method] = append(api.calls[method], r.PostForm)
		api.mu.Unlock()

		var result any
		switch method {
		case "getMe":
			result = map[string]any{"id": 1, "is_bot": true, "first_name": "VidProof", "username": "vidproof_bot"}
		case "sendMessage", "sendVideo":
			if r.PostForm.Get("chat_id") == "403" {
				writeAPI(w, map[string]any{"ok": false, "error_code": 403, "description": "Forbidden: bot was blocked by the user"})
				return
			}
			result = map[string]any{"message_id": 9, "date": 0, "chat": map[string]any{"id": 1, "type": "private"}}
		case "getFile":
			result = map[string]any{"file_id": r.PostForm.Get("file_id"), "file_unique_id": "u", "file_path": "photos/file_1.jpg"}
		case "getUpdates":
			api.mu.Lock()
			batch := api.updates
			api.updates = nil
			api.mu.Unlock()
			if len(batch) == 0 {
				time.Sleep(10 * time.Millisecond)
				batch = []map[string]any{}
			}
			result = batch
		case "setWebhook", "deleteWebhook":
			result = true
		case "getWebhookInfo":
			result = map[string]any{"url": "https://bot.example.com/api/telegram/webhook", "pending_update_count": 2, "last_error_date": 1700000000, "last_error_message": "timeout"}
		default:
			t.Errorf("unexpected method %s", method)
		}
		writeAPI(w, map[string]any{"ok": true, "result": result})
	}))
	t.Cleanup(server.Close)
	return api, server
}

func writeAPI(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *fakeAPI) last(t *testing.T, method string) url.Values {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	calls := a.calls[method]
	if len(calls) == 0 {
		t.Fatalf("no %s call recorded", method)
	}
	return calls[len(calls)-1]
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(config.TelegramConfig{
		BotToken:     "token",
		APIEndpoint:  server.URL + "/bot%s/%s",
		FileEndpoint: server.URL + "/file/bot%s/%s",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(config.TelegramConfig{}); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestSendText(t *testing.T) {
	api, server := newFakeAPI(t)
	client := newTestClient(t, server)
	if client.Username() != "vidproof_bot" {
		t.Fatalf("unexpected username %q", client.Username())
	}

	if err := client.SendText(context.Background(), 22, "*hola*"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	form := api.last(t, "sendMessage")
	if form.Get("chat_id") != "22" || form.Get("text") != "*hola*" || form.Get("parse_mode") != tgbotapi.ModeMarkdown {
		t.Fatalf("unexpected form %v", form)
	}

	err := client.SendText(context.Background(), 403, "hola")
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 403 {
		t.Fatalf("expected API error 403, got %v", err)
	}
}

func TestSendVideoByFileIDAndURL(t *testing.T) {
	api, server := newFakeAPI(t)
	client := newTestClient(t, server)
	ctx := context.Background()

	if err := client.SendVideo(ctx, 22, "BAADAgAD", "caption"); err != nil {
		t.Fatalf("send video: %v", err)
	}
	form := api.last(t, "sendVideo")
	if form.Get("video") != "BAADAgAD" || form.Get("caption") != "caption" || form.Get("supports_streaming") != "true" {
		t.Fatalf("unexpected form %v", form)
	}

	if err := client.SendVideo(ctx, 22, "https://cdn.example.com/videos/a.mp4", ""); err != nil {
		t.Fatalf("send video url: %v", err)
	}
	if got := api.last(t, "sendVideo").Get("video"); got != "https://cdn.example.com/videos/a.mp4" {
		t.Fatalf("unexpected video ref %q", got)
	}
}

func TestDownloadFile(t *testing.T) {
	api, server := newFakeAPI(t)
	api.files["photos/file_1.jpg"] = "jpeg-bytes"
	client := newTestClient(t, server)

	data, err := client.DownloadFile(context.Background(), "AgACAgQ")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected data %q", data)
	}
	if got := api.last(t, "getFile").Get("file_id"); got != "AgACAgQ" {
		t.Fatalf("unexpected file id %q", got)
	}

	delete(api.files, "photos/file_1.jpg")
	if _, err := client.DownloadFile(context.Background(), "AgACAgQ"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWebhookRegistration(t *testing.T) {
	api, server := newFakeAPI(t)
	client := newTestClient(t, server)
	ctx := context.Background()

	if err := client.SetWebhook(ctx, "", "s"); err == nil {
		t.Fatal("expected error without url")
	}
	if err := client.SetWebhook(ctx, "https://bot.example.com/api/telegram/webhook", "s3cret"); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	form := api.last(t, "setWebhook")
	if form.Get("url") != "https://bot.example.com/api/telegram/webhook" || form.Get("secret_token") != "s3cret" || form.Get("allowed_updates") != `["message"]` {
		t.Fatalf("unexpected form %v", form)
	}

	info, err := client.WebhookInfo(ctx)
	if err != nil {
		t.Fatalf("webhook info: %v", err)
	}
	if info.PendingUpdateCount != 2 || info.LastErrorMessage != "timeout" || info.LastErrorAt == nil || *info.LastErrorAt != 1700000000 {
		t.Fatalf("unexpected info %+v", info)
	}
}
