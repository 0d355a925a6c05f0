// Package notify announces completed comparisons to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
)

// captionLimit is Telegram's maximum photo caption length.
const captionLimit = 1024

// maxListedRegions bounds the regions spelled out in a caption.
const maxListedRegions = 5

// Sender is the subset of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts the annotated current image of every completed job.
type Telegram struct {
	sender Sender
	chatID int64
	logger *slog.Logger
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	logger.Info("Telegram notifier authorized",
		slog.String("bot", api.Self.UserName),
		slog.Int64("chat_id", chatID),
	)
	return NewTelegramWithSender(api, chatID, logger), nil
}

// NewTelegramWithSender builds a notifier on an existing sender.
func NewTelegramWithSender(sender Sender, chatID int64, logger *slog.Logger) *Telegram {
	return &Telegram{sender: sender, chatID: chatID, logger: logger}
}

// NotifyCompleted sends the annotated image with a summary caption, or the
// caption alone when no image is available.
func (t *Telegram) NotifyCompleted(ctx context.Context, job *domain.Job, annotated []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	caption := Caption(job)
	var msg tgbotapi.Chattable
	if len(annotated) == 0 {
		msg = tgbotapi.NewMessage(t.chatID, caption)
	} else {
		photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{
			Name:  job.ID + "_annotated_current.png",
			Bytes: annotated,
		})
		photo.Caption = caption
		msg = photo
	}

	if _, err := t.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	t.logger.Debug("Completion notification sent", slog.String("job_id", job.ID))
	return nil
}

// Caption summarizes a completed job.
func Caption(job *domain.Job) string {
	var b strings.Builder
	res := job.Result
	if res == nil {
		fmt.Fprintf(&b, "Job %s %s", job.ID, job.Status)
		return b.String()
	}

	fmt.Fprintf(&b, "Job %s completed: %d change(s)", job.ID, res.NumChanges)
	if !res.ChangeDetectionEnabled {
		b.WriteString(" (change detection disabled)")
	}
	if res.Alignment.Degraded {
		fmt.Fprintf(&b, "\nAlignment degraded: %s", res.Alignment.DegradeReason)
	}
	for i, r := range res.Regions {
		if i == maxListedRegions {
			fmt.Fprintf(&b, "\n... and %d more", len(res.Regions)-maxListedRegions)
			break
		}
		fmt.Fprintf(&b, "\n#%d %s %.0f%% at %s (%s %.0f°)",
			r.ID, r.ClassifiedLabel, r.ClassificationConfidence*100, r.BBox, r.Kind, r.ChangeConfidence)
	}

	out := b.String()
	if len([]rune(out)) > captionLimit {
		out = string([]rune(out)[:captionLimit-1]) + "…"
	}
	return out
}
