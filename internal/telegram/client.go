// Package telegram adapts the Telegram Bot API to the bot engine and tracker: outbound
// messages go through a rate-limited client, inbound updates are converted to bot.Update.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/vidproof/backend/internal/config"
)

// MaxDownloadSize mirrors the Bot API limit on files bots may download.
const MaxDownloadSize = 20 << 20

// ErrFileTooLarge is returned when a downloaded file exceeds MaxDownloadSize.
var ErrFileTooLarge = errors.New("telegram: file exceeds download limit")

// Client sends messages and downloads files through the Bot API.
type Client struct {
	api          *tgbotapi.BotAPI
	http         *http.Client
	limiter      *rate.Limiter
	fileEndpoint string
}

// NewClient connects to the Bot API and verifies the token with getMe.
func NewClient(cfg config.TelegramConfig) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram: bot token is required")
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	apiEndpoint := cfg.APIEndpoint
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	fileEndpoint := cfg.FileEndpoint
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, apiEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}

	sendRate := rate.Limit(cfg.SendRate)
	if cfg.SendRate <= 0 {
		sendRate = rate.Inf
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		api:          api,
		http:         httpClient,
		limiter:      rate.NewLimiter(sendRate, burst),
		fileEndpoint: fileEndpoint,
	}, nil
}

// Username returns the bot's username as reported by getMe.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// SendText sends a Markdown message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	return c.send(ctx, msg)
}

// SendVideo sends a video by file id, or by URL when ref is an http(s) URL.
func (c *Client) SendVideo(ctx context.Context, chatID int64, ref, caption string) error {
	var file tgbotapi.RequestFileData = tgbotapi.FileID(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		file = tgbotapi.FileURL(ref)
	}
	video := tgbotapi.NewVideo(chatID, file)
	video.Caption = caption
	video.ParseMode = tgbotapi.ModeMarkdown
	video.SupportsStreaming = true
	return c.send(ctx, video)
}

// DownloadFile resolves fileID with getFile and fetches its contents.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram: file %s has no download path", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(c.fileEndpoint, c.api.Token, file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: read file: %w", err)
	}
	if len(data) > MaxDownloadSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// SetWebhook registers url as the update destination. Telegram echoes secret in the
// X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	if url == "" {
		return errors.New("telegram: webhook url is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params := tgbotapi.Params{}
	params["url"] = url
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return fmt.Errorf("telegram: encode allowed updates: %w", err)
	}

	if _, err := c.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook switches the bot back to long polling.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("telegram: delete webhook: %w", err)
	}
	return nil
}

// WebhookInfo summarises the webhook registration.
type WebhookInfo struct {
	URL                string `json:"url"`
	PendingUpdateCount int    `json:"pendingUpdateCount"`
	LastErrorMessage   string `json:"lastErrorMessage,omitempty"`
	LastErrorAt        *int64 `json:"lastErrorAt,omitempty"`
	MaxConnections     int    `json:"maxConnections,omitempty"`
}

// WebhookInfo returns the current webhook registration.
func (c *Client) WebhookInfo(ctx context.Context) (WebhookInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return WebhookInfo{}, err
	}
	info, err := c.api.GetWebhookInfo()
	if err != nil {
		return WebhookInfo{}, fmt.Errorf("telegram: webhook info: %w", err)
	}
	out := WebhookInfo{
		URL:                info.URL,
		PendingUpdateCount: info.PendingUpdateCount,
		LastErrorMessage:   info.LastErrorMessage,
		MaxConnections:     info.MaxConnections,
	}
	if info.LastErrorDate != 0 {
		at := int64(info.LastErrorDate)
		out.LastErrorAt = &at
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
