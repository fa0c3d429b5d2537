// Package telegram is the analyst-channel adapter: it reads recent
// analyst posts for provenance reconciliation and publishes the
// end-of-run digest to the same chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"OsintAggregator/internal/domain"
	"OsintAggregator/internal/ports"
)

const updatesLimit = 100

// Channel is a Telegram chat acting both as the human channel and as
// the digest sink.
type Channel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

var (
	_ ports.HumanChannel = (*Channel)(nil)
	_ ports.Notifier     = (*Channel)(nil)
)

// New connects the bot and verifies the token.
func New(botToken string, chatID int64, logger *slog.Logger) (*Channel, error) {
	return NewWithEndpoint(botToken, tgbotapi.APIEndpoint, chatID, logger)
}

// NewWithEndpoint allows pointing the bot at a non-default API host;
// tests use this with httptest.
func NewWithEndpoint(botToken, endpoint string, chatID int64, logger *slog.Logger) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		bot:    bot,
		chatID: chatID,
		logger: logger.With("component", "telegram"),
	}, nil
}

// RecentMessages returns analyst posts from the chat newer than since.
// Only messages the bot can still see through getUpdates are returned;
// the lookback window is expected to be short.
func (c *Channel) RecentMessages(ctx context.Context, since time.Time) ([]domain.HumanMessage, error) {
	updates, err := c.bot.GetUpdates(tgbotapi.UpdateConfig{
		Limit:          updatesLimit,
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		return nil, fmt.Errorf("get telegram updates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var messages []domain.HumanMessage
	for _, update := range updates {
		msg := update.Message
		if msg == nil {
			msg = update.ChannelPost
		}
		if msg == nil || msg.Chat == nil || msg.Chat.ID != c.chatID {
			continue
		}
		if msg.Text == "" || msg.Time().Before(since) {
			continue
		}
		messages = append(messages, domain.HumanMessage{
			Text:     msg.Text,
			URLs:     messageURLs(msg),
			PostedAt: msg.Time().UTC(),
		})
	}
	c.logger.Debug("fetched analyst messages", "count", len(messages))
	return messages, nil
}

// PublishDigest posts the end-of-run digest to the chat.
func (c *Channel) PublishDigest(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(c.chatID, digest)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram digest: %w", err)
	}
	return nil
}

// messageURLs collects links both from plain text and from text_link
// entities, where the URL is hidden behind anchor text.
func messageURLs(msg *tgbotapi.Message) []string {
	var urls []string
	for _, f := range strings.Fields(msg.Text) {
		f = strings.TrimRight(f, ".,;)")
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			urls = append(urls, f)
		}
	}
	for _, entity := range msg.Entities {
		if entity.Type == "text_link" && entity.URL != "" {
			urls = append(urls, entity.URL)
		}
	}
	return urls
}
