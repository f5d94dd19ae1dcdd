package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vidproof/backend/internal/bot"
	"github.com/vidproof/backend/internal/logging"
)

// MaxUpdateSize bounds webhook request bodies.
const MaxUpdateSize = 1 << 20

// UpdateFromAPI converts an update to the engine's representation. Updates that carry no
// message, or a message without a sender, are reported as not ok.
func UpdateFromAPI(u tgbotapi.Update) (bot.Update, bool) {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return bot.Update{}, false
	}

	out := bot.Update{
		UpdateID:      u.UpdateID,
		ParticipantID: msg.From.ID,
		FirstName:     msg.From.FirstName,
		Text:          msg.Text,
	}
	if msg.Chat != nil {
		out.ChatID = msg.Chat.ID
	}
	for _, p := range msg.Photo {
		out.Photos = append(out.Photos, bot.Photo{FileID: p.FileID, Width: p.Width, Height: p.Height, FileSize: p.FileSize})
	}
	if msg.Video != nil {
		out.Video = &bot.VideoAttachment{
			FileID:   msg.Video.FileID,
			FileSize: int64(msg.Video.FileSize),
			Duration: msg.Video.Duration,
		}
	}
	return out, true
}

// DecodeUpdate reads one webhook delivery.
func DecodeUpdate(r io.Reader) (tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r, MaxUpdateSize)).Decode(&u); err != nil {
		return tgbotapi.Update{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	return u, nil
}

// Handler processes one converted update.
type Handler interface {
	HandleUpdate(ctx context.Context, u bot.Update) error
}

// PollOptions tunes long polling.
type PollOptions struct {
	// Timeout is the long-poll timeout in seconds.
	Timeout int
	// UpdateTimeout bounds the handling of one update.
	UpdateTimeout time.Duration
}

// Poll receives updates by long polling until ctx is cancelled. Updates of one participant
// are handled in arrival order, different participants in parallel. Handlers run on a
// context detached from ctx, and Poll returns only after every received update is handled.
func (c *Client) Poll(ctx context.Context, handler Handler, opts PollOptions) error {
	if err := c.DeleteWebhook(ctx); err != nil {
		return err
	}
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = 2 * time.Minute
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = opts.Timeout
	cfg.AllowedUpdates = []string{"message"}
	updates := c.api.GetUpdatesChan(cfg)

	logger := logging.FromContext(ctx)
	logger.Info("polling for updates", "bot", c.Username())

	base := context.WithoutCancel(ctx)
	queue := newParticipantQueue(func(u bot.Update) {
		uctx, cancel := context.WithTimeout(base, opts.UpdateTimeout)
		defer cancel()
		if err := handler.HandleUpdate(uctx, u); err != nil {
			logger.Warn("update failed", "updateId", u.UpdateID, "error", err)
		}
	})

	receive(ctx, updates, queue, logger)

	c.api.StopReceivingUpdates()
	queue.wait()
	logger.Info("polling stopped")
	return nil
}

func receive(ctx context.Context, updates tgbotapi.UpdatesChannel, queue *participantQueue, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-updates:
			if !ok {
				return
			}
			u, ok := UpdateFromAPI(raw)
			if !ok {
				logger.Debug("ignoring update", "updateId", raw.UpdateID)
				continue
			}
			queue.push(u)
		}
	}
}

// participantQueue runs at most one worker per participant. A participant's key stays in
// pending while its worker is busy, so later updates are appended instead of racing it.
type participantQueue struct {
	mu      sync.Mutex
	pending map[int64][]bot.Update
	wg      sync.WaitGroup
	handle  func(bot.Update)
}

func newParticipantQueue(handle func(bot.Update)) *participantQueue {
	return &participantQueue{pending: make(map[int64][]bot.Update), handle: handle}
}

func (q *participantQueue) push(u bot.Update) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if queued, busy := q.pending[u.ParticipantID]; busy {
		q.pending[u.ParticipantID] = append(queued, u)
		return
	}
	q.pending[u.ParticipantID] = []bot.Update{u}
	q.wg.Add(1)
	go q.drain(u.ParticipantID)
}

func (q *participantQueue) drain(participantID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		queued := q.pending[participantID]
		if len(queued) == 0 {
			delete(q.pending, participantID)
			q.mu.Unlock()
			return
		}
		u := queued[0]
		q.pending[participantID] = queued[1:]
		q.mu.Unlock()

		q.handle(u)
	}
}

func (q *participantQueue) wait() {
	q.wg.Wait()
}
