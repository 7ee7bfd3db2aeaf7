package chat

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"trivia-pot/internal/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	pollTimeoutSeconds = 30
	// MessagesBufferSize is the inbound queue between the poller and the engine.
	MessagesBufferSize = 256
)

// Telegram is a long-polling Telegram bot restricted to a single chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	out    chan Message
	log    logger.Logger
}

func NewTelegram(token string, chatID int64, log logger.Logger) (*Telegram, error) {
	// The HTTP timeout has to outlast the long poll.
	client := &http.Client{Timeout: (pollTimeoutSeconds + 10) * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	log.Info("telegram bot authorized", "username", bot.Self.UserName)
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		out:    make(chan Message, MessagesBufferSize),
		log:    log,
	}, nil
}

func (t *Telegram) Messages() <-chan Message { return t.out }

// Run polls for updates until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update channel closed")
			}
			msg, ok := t.convert(upd)
			if !ok {
				continue
			}
			select {
			case t.out <- msg:
			default:
				t.log.Error("inbound queue full, dropping message", "sender", msg.Sender)
			}
		}
	}
}

func (t *Telegram) convert(upd tgbotapi.Update) (Message, bool) {
	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return Message{}, false
	}
	if m.Chat.ID != t.chatID {
		t.log.Debug("ignoring message from foreign chat", "chat", m.Chat.ID)
		return Message{}, false
	}
	return Message{
		ChatID: m.Chat.ID,
		Sender: senderIdentity(m.From),
		Text:   m.Text,
		At:     m.Time(),
	}, true
}

func senderIdentity(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string, format Format) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if format == Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		return nil
	}
}
