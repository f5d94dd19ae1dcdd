package handlers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidproof/backend/internal/bot"
	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/telegram"
)

// SecretTokenHeader is set by Telegram on webhook deliveries when a secret was registered.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const defaultUpdateTimeout = 2 * time.Minute

type ackResponse struct {
	OK bool `json:"ok"`
}

// WebhookHandler receives Bot API updates.
type WebhookHandler struct {
	Updates UpdateProcessor
	Secret  string
	Timeout time.Duration
}

// Receive implements POST /api/telegram/webhook. Every delivery with a valid secret is
// acknowledged with 200 so Telegram does not redeliver it, whatever happened while
// processing it.
func (h WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretTokenHeader)), []byte(h.Secret)) != 1 {
		respondError(ctx, w, http.StatusUnauthorized, "unauthorized")
		return
	}

	raw, err := telegram.DecodeUpdate(r.Body)
	if err != nil {
		logger.Warn("discarding undecodable update", "error", err)
		respondJSON(ctx, w, http.StatusOK, ackResponse{OK: true})
		return
	}

	update, ok := telegram.UpdateFromAPI(raw)
	if !ok || h.Updates == nil {
		logger.Debug("ignoring update", "updateId", raw.UpdateID)
		respondJSON(ctx, w, http.StatusOK, ackResponse{OK: true})
		return
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultUpdateTimeout
	}
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := h.process(procCtx, update); err != nil {
		logger.Warn("update processing failed", "updateId", update.UpdateID, "error", err)
	}
	respondJSON(ctx, w, http.StatusOK, ackResponse{OK: true})
}

func (h WebhookHandler) process(ctx context.Context, u bot.Update) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.FromContext(ctx).Error("panic while processing update", slog.Any("panic", rec))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.Updates.HandleUpdate(ctx, u)
}

// Status implements GET /api/telegram/webhook.
func (h WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok", "message": "telegram webhook is running"})
}
