// Package notify sends booking notifications to the coach over Telegram.
package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"coachbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

var retryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
}

// Telegram sends messages to the coach's chat with simple retry.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func NewTelegram(token string, chatID int64, logger *zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}, nil
}

// BookingCommitted tells the coach about a new booking. Best effort: a
// failed notification never fails the booking.
func (t *Telegram) BookingCommitted(ctx context.Context, b models.Booking, userEmail string) {
	text := fmt.Sprintf("New booking\n%s %s, %d min\nClient: %s\n%s",
		b.Date, b.Time, b.Duration, userEmail, b.EventURL)
	t.send(ctx, text)
}

// CompensationFailed escalates the one state that must not end at a log
// line: a spent credit whose calendar event was never created and whose
// reversal also failed.
func (t *Telegram) CompensationFailed(ctx context.Context, userID string, b models.Booking, cause error) {
	text := fmt.Sprintf("MANUAL ACTION REQUIRED\nCredit reversal failed for user %s\nBooking %s %s %s (%d min)\nCause: %v",
		userID, b.ID, b.Date, b.Time, b.Duration, cause)
	t.send(ctx, text)
}

// SendMessage delivers a plain text message to the coach's chat.
func (t *Telegram) SendMessage(ctx context.Context, text string) {
	t.send(ctx, text)
}

// SendDocument delivers a report file to the coach's chat.
func (t *Telegram) SendDocument(ctx context.Context, filename string, r io.Reader, caption string) error {
	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FileReader{Name: filename, Reader: r})
	doc.Caption = caption
	_, err := t.bot.Send(doc)
	if err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		_, lastErr = t.bot.Send(msg)
		if lastErr == nil {
			return
		}
		if attempt < len(retryDelays) {
			select {
			case <-time.After(retryDelays[attempt]):
			case <-ctx.Done():
				t.logger.Warn().Err(ctx.Err()).Msg("telegram notify cancelled")
				return
			}
		}
	}
	t.logger.Error().Err(lastErr).Msg("telegram notify failed after retries")
}
