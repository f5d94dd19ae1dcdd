package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/vidproof/backend/internal/logging"
)

// SetupHandler registers and inspects the bot webhook.
type SetupHandler struct {
	Webhooks WebhookRegistrar
	URL      string
	Secret   string
}

type setupRequest struct {
	URL string `json:"url" validate:"omitempty,url,startswith=https://"`
}

// Register handles POST /api/telegram/setup. The body may override the configured URL.
func (h SetupHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Webhooks == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "telegram transport unavailable")
		return
	}

	var req setupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			respondError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
	}
	url := req.URL
	if url == "" {
		url = h.URL
	}
	if url == "" {
		respondError(ctx, w, http.StatusBadRequest, "webhook url is not configured")
		return
	}

	if err := h.Webhooks.SetWebhook(ctx, url, h.Secret); err != nil {
		logging.FromContext(ctx).Error("set webhook", "error", err)
		respondError(ctx, w, http.StatusBadGateway, "failed to register webhook")
		return
	}
	logging.FromContext(ctx).Info("webhook registered", "url", url)
	respondJSON(ctx, w, http.StatusOK, map[string]any{"ok": true, "url": url})
}

// Info handles GET /api/telegram/setup.
func (h SetupHandler) Info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Webhooks == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "telegram transport unavailable")
		return
	}
	info, err := h.Webhooks.WebhookInfo(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("webhook info", "error", err)
		respondError(ctx, w, http.StatusBadGateway, "failed to load webhook info")
		return
	}
	respondJSON(ctx, w, http.StatusOK, info)
}
