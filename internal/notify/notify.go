// Package notify sends sync outcome messages to a user's linked Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/notify/mocks"
)

// MessageSender is the part of the Telegram API used for notifications.
type MessageSender = mocks.MessageSender

// Compile-time check that the real bot satisfies the interface.
var _ MessageSender = (*bot.Bot)(nil)

// SyncOutcome describes one finished sync job.
type SyncOutcome struct {
	Target   string
	Receipt  *models.Receipt
	Success  bool
	Link     string
	Error    string
	Attempts int
	// Final is false for a failure that will be retried.
	Final bool
}

// Notifier delivers sync outcomes. A nil *Notifier is valid and sends nothing.
type Notifier struct {
	sender MessageSender
}

// New creates a Notifier sending through sender.
func New(sender MessageSender) *Notifier {
	return &Notifier{sender: sender}
}

// NewTelegram creates a Notifier backed by a Telegram bot. It does not call
// getMe, so a bad token only shows up when the first message is sent.
// An empty token returns nil.
func NewTelegram(token string) (*Notifier, error) {
	if token == "" {
		return nil, nil
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return New(b), nil
}

// SyncFinished messages chatID about a sync outcome. Retryable failures are
// not reported.
func (n *Notifier) SyncFinished(ctx context.Context, chatID int64, out SyncOutcome) error {
	if n == nil || n.sender == nil {
		return nil
	}
	if !out.Success && !out.Final {
		return nil
	}

	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   FormatOutcome(out),
	})
	if err != nil {
		logger.Log.Warn().Err(err).Str("target", out.Target).Msg("Failed to send sync notification")
		return fmt.Errorf("failed to send sync notification: %w", err)
	}
	return nil
}

// FormatOutcome renders the notification text.
func FormatOutcome(out SyncOutcome) string {
	var b strings.Builder

	target := targetLabel(out.Target)
	if out.Success {
		fmt.Fprintf(&b, "✅ Receipt synced to %s", target)
	} else {
		fmt.Fprintf(&b, "❌ Receipt could not be synced to %s", target)
	}

	if r := out.Receipt; r != nil {
		fmt.Fprintf(&b, "\n%s · %s · %s", r.DateString(), r.MerchantName, r.Amount.StringFixed(2))
	}

	switch {
	case out.Success && out.Link != "":
		fmt.Fprintf(&b, "\n%s", out.Link)
	case !out.Success:
		if out.Error != "" {
			fmt.Fprintf(&b, "\nReason: %s", out.Error)
		}
		if out.Attempts > 1 {
			fmt.Fprintf(&b, "\nGave up after %d attempts.", out.Attempts)
		}
	}
	return b.String()
}

func targetLabel(target string) string {
	switch target {
	case models.SyncTargetDrive:
		return "Google Drive"
	case models.SyncTargetSheets:
		return "Google Sheets"
	default:
		return target
	}
}
