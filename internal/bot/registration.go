package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/models"
	"github.com/vidproof/backend/internal/repositories"
	"github.com/vidproof/backend/internal/tracker"
)

func (e *Engine) handleStart(ctx context.Context, u Update) error {
	profile, err := e.profiles.FindByTelegramID(ctx, u.ParticipantID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return e.reply(ctx, u.ChatID, msgWelcome)
	case err != nil:
		return e.fail(ctx, u.ChatID, msgGenericError, "find profile", err)
	}
	e.repairAssignments(ctx, profile)
	return e.reply(ctx, u.ChatID, greetingMessage(profile.FullName))
}

// handleText registers an unknown participant using the message as their full name, or
// reminds a known one how to submit evidence.
func (e *Engine) handleText(ctx context.Context, u Update) error {
	profile, err := e.profiles.FindByTelegramID(ctx, u.ParticipantID)
	if err == nil {
		e.repairAssignments(ctx, profile)
		return e.reply(ctx, u.ChatID, photoHintMessage(profile.FullName))
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return e.fail(ctx, u.ChatID, msgGenericError, "find profile", err)
	}

	name := strings.TrimSpace(u.Text)
	if !tracker.ValidName(name) {
		return e.reply(ctx, u.ChatID, msgInvalidName)
	}

	profile, _, err = e.tracker.RegisterProfile(ctx, u.ParticipantID, name)
	if err != nil {
		return e.fail(ctx, u.ChatID, msgRegistrationError, "register profile", err)
	}
	return e.reply(ctx, u.ChatID, registeredMessage(profile.FullName))
}

// repairAssignments reruns the registration fan-out for a profile that has no tasks at all,
// which happens when registration stored the profile but failed to assign its videos.
func (e *Engine) repairAssignments(ctx context.Context, profile models.Profile) {
	logger := logging.FromContext(ctx)
	tasks, err := e.tasks.ListRecentForProfile(ctx, profile.ID, 1)
	if err != nil {
		logger.Warn("check profile tasks", "profileId", profile.ID, "error", err)
		return
	}
	if len(tasks) > 0 {
		return
	}
	created, err := e.tracker.AssignActiveVideos(ctx, profile)
	if err != nil {
		logger.Warn("repair profile tasks", "profileId", profile.ID, "error", err)
		return
	}
	if created > 0 {
		logger.Info("profile tasks repaired", "profileId", profile.ID, "tasks", created)
	}
}
