package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/neulab/pr-arena/pkg/model"
)

// Telegram sends messages to one chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authorizes the bot token and returns a notifier for chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint)
}

// NewTelegramWithEndpoint is NewTelegram against a custom Bot API endpoint.
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) ComparisonReady(ctx context.Context, run *model.ArenaRun) error {
	text := fmt.Sprintf(
		"⚔️ *Comparison ready*\n\n"+
			"[%s\\#%d: %s](%s)\n\n"+
			"Comparison `%s`",
		escapeMarkdown(run.Issue.FullName()),
		run.Issue.Number,
		escapeMarkdown(run.Issue.Title),
		escapeMarkdown(issueURL(run.Issue)),
		run.ID,
	)
	return t.send(ctx, text)
}

func (t *Telegram) DecisionRecorded(ctx context.Context, run *model.ArenaRun) error {
	text := fmt.Sprintf(
		"🏆 *Winner for %s\\#%d:* %s\n\n%s vs %s",
		escapeMarkdown(run.Issue.FullName()),
		run.Issue.Number,
		escapeMarkdown(winnerLabel(run)),
		escapeMarkdown(run.A.Model.Name),
		escapeMarkdown(run.B.Model.Name),
	)
	return t.send(ctx, text)
}

// send retries once as plain text when Telegram rejects the markup.
func (t *Telegram) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := t.api.Send(msg); err != nil {
		clog.FromContext(ctx).Debugf("telegram rejected markdown message: %v", err)
		msg.ParseMode = ""
		msg.Text = stripMarkdown(text)
		if _, err := t.api.Send(msg); err != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
	}
	return nil
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]",
		"(", "\\(", ")", "\\)", "~", "\\~", "`", "\\`",
		">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
		"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}",
		".", "\\.", "!", "\\!",
	)
	return replacer.Replace(s)
}

func stripMarkdown(s string) string {
	r := strings.NewReplacer(
		"\\*", "*", "\\_", "_", "\\[", "[", "\\]", "]",
		"\\(", "(", "\\)", ")", "\\~", "~", "\\`", "`",
		"\\>", ">", "\\#", "#", "\\+", "+", "\\-", "-",
		"\\=", "=", "\\|", "|", "\\{", "{", "\\}", "}",
		"\\.", ".", "\\!", "!",
	)
	return r.Replace(s)
}
