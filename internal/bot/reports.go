package bot

import (
	"context"
	"errors"

	"github.com/vidproof/backend/internal/repositories"
)

const recentTasksLimit = 10

func (e *Engine) handlePendingReport(ctx context.Context, u Update) error {
	pending, err := e.tasks.ListPending(ctx)
	if err != nil {
		return e.fail(ctx, u.ChatID, msgGenericError, "list pending tasks", err)
	}
	if len(pending) == 0 {
		return e.reply(ctx, u.ChatID, msgAllTasksDone)
	}

	var groups []pendingGroup
	index := make(map[string]int)
	for _, task := range pending {
		i, ok := index[task.ProfileID]
		if !ok {
			i = len(groups)
			index[task.ProfileID] = i
			groups = append(groups, pendingGroup{name: task.FullName})
		}
		groups[i].titles = append(groups[i].titles, task.VideoTitle)
	}

	return e.reply(ctx, u.ChatID, pendingReportMessage(groups, len(pending)))
}

func (e *Engine) handleMyTasks(ctx context.Context, u Update) error {
	profile, err := e.profiles.FindByTelegramID(ctx, u.ParticipantID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return e.reply(ctx, u.ChatID, msgNotRegistered)
	case err != nil:
		return e.fail(ctx, u.ChatID, msgGenericError, "find profile", err)
	}

	tasks, err := e.tasks.ListRecentForProfile(ctx, profile.ID, recentTasksLimit)
	if err != nil {
		return e.fail(ctx, u.ChatID, msgGenericError, "list recent tasks", err)
	}
	if len(tasks) == 0 {
		return e.reply(ctx, u.ChatID, noTasksMessage(profile.FullName))
	}
	return e.reply(ctx, u.ChatID, e.myTasksMessage(profile.FullName, tasks))
}
