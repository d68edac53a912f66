package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/planloop/internal/agent"
	"go.uber.org/zap"
)

const troubleReply = "I'm having trouble thinking right now..."

// TelegramGateway relays chat messages to a Brain and sends back its replies.
type TelegramGateway struct {
	Bot    *tgbotapi.BotAPI
	Brain  agent.Brain
	logger *zap.Logger
	stop   sync.Once
}

var _ Messenger = (*TelegramGateway)(nil)

func NewTelegramGateway(token string, brain agent.Brain, logger *zap.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegramGateway(bot, brain, logger), nil
}

func newTelegramGateway(bot *tgbotapi.BotAPI, brain agent.Brain, logger *zap.Logger) *TelegramGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("telegram")
	logger.Info("authorized", zap.String("account", bot.Self.UserName))
	return &TelegramGateway{Bot: bot, Brain: brain, logger: logger}
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return tg.Stop()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
			from := ""
			if update.Message.From != nil {
				from = update.Message.From.UserName
			}
			tg.logger.Info("message", zap.String("chat_id", chatID), zap.String("from", from))

			if err := tg.Send(chatID, tg.handle(ctx, chatID, update.Message.Text)); err != nil {
				tg.logger.Warn("reply not sent", zap.String("chat_id", chatID), zap.Error(err))
			}
		}
	}
}

// handle returns the reply text for one message.
func (tg *TelegramGateway) handle(ctx context.Context, chatID, text string) string {
	reply, err := tg.Brain.Think(ctx, chatID, text)
	if err != nil {
		tg.logger.Error("run failed", zap.String("chat_id", chatID), zap.Error(err))
		return troubleReply
	}
	return reply
}

// Send delivers text as Markdown, falling back to plain text when Telegram
// rejects the markup.
func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err = tg.Bot.Send(msg); err == nil {
		return nil
	}
	tg.logger.Debug("markdown reply rejected", zap.Error(err))
	msg.ParseMode = ""
	_, err = tg.Bot.Send(msg)
	return err
}

// Stop ends update polling. Safe to call more than once.
func (tg *TelegramGateway) Stop() error {
	tg.stop.Do(func() {
		if tg.Bot != nil {
			tg.Bot.StopReceivingUpdates()
		}
	})
	return nil
}
