// Package telegram backs the engine's two platform needs: the live admin
// roster lookup used for manager revalidation, and fire-and-forget user
// notifications with an inline deal button.
package telegram

import (
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/ratelimit"
)

type Bot struct {
	api *tgbotapi.BotAPI
	rl  ratelimit.Limiter
}

func New(token string, sendPerSec int) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Printf("[TELEGRAM] Authorized as @%s", api.Self.UserName)
	return &Bot{
		api: api,
		rl:  ratelimit.New(sendPerSec),
	}, nil
}

// ChatMemberStatus implements auth.ChatMemberSource.
func (b *Bot) ChatMemberStatus(chatId, userId int64) (string, error) {
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatId,
			UserID: userId,
		},
	})
	if err != nil {
		return "", err
	}
	return member.Status, nil
}

// Notify delivers a one-way message. Failures are logged and dropped; the
// engine never consumes a return value from the sink.
func (b *Bot) Notify(userId int64, text, dealId string) {
	b.rl.Take()

	msg := tgbotapi.NewMessage(userId, text)
	if dealId != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Open deal", "deal:"+dealId),
			),
		)
	}

	if _, err := b.api.Send(msg); err != nil {
		log.Printf("[TELEGRAM] failed to notify user %d: %v", userId, err)
	}
}
