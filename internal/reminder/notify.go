package reminder

import (
	"context"
	"errors"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// LogNotifier writes reminders to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID string, r model.Reminder) error {
	appLog.Info("reminder due", "user", userID, "reminder", r.ID, "title", r.Title, "date", r.Date)
	return nil
}

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts reminders to a single Telegram chat.
type TelegramNotifier struct {
	api    messageSender
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	appLog.Info("telegram notifier ready", "bot", api.Self.UserName)
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, _ string, r model.Reminder) error {
	msg := tgbotapi.NewMessage(n.chatID, formatReminder(r))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatReminder(r model.Reminder) string {
	return fmt.Sprintf("⏰ <b>%s</b>\n%s", html.EscapeString(r.Title), html.EscapeString(r.Date))
}

// MultiNotifier fans a reminder out to several notifiers. Every notifier
// is tried; any failure fails the delivery so it is retried on the next
// check. Notifiers that already succeeded may then see it twice.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, userID string, r model.Reminder) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, userID, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Default logs every reminder and, when tg is non-nil, also delivers it
// through tg. Only tg can fail the delivery.
func Default(tg Notifier) Notifier {
	if tg == nil {
		return LogNotifier{}
	}
	return MultiNotifier{LogNotifier{}, tg}
}
