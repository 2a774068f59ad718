// Package notify pushes critical engine events to Telegram. The notifier is
// optional: without a TELEGRAM_BOT_TOKEN in the environment it stays
// silently disabled. The token never appears in config documents or logs.
package notify

import (
	"fmt"
	"os"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// tokenEnv names the environment variable holding the bot token.
const tokenEnv = "TELEGRAM_BOT_TOKEN"

// sender is the slice of the Telegram API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier forwards critical events to a Telegram chat.
type Notifier struct {
	logger  *zap.Logger
	sink    *telemetry.Sink
	api     sender
	chatID  int64
	enabled bool

	mu   sync.Mutex
	sub  *telemetry.Subscription
	done chan struct{}
}

// NewNotifier builds the notifier from config and environment. Disabled
// config or a missing token yields a no-op notifier; a present but invalid
// token is an error.
func NewNotifier(logger *zap.Logger, cfg types.TelegramConfig, sink *telemetry.Sink) (*Notifier, error) {
	n := &Notifier{logger: logger.Named("notify"), sink: sink, chatID: cfg.ChatID}

	if !cfg.Enabled {
		return n, nil
	}
	token := os.Getenv(tokenEnv)
	if token == "" {
		n.logger.Info("telegram notifier disabled, no token in environment")
		return n, nil
	}
	if cfg.ChatID == 0 {
		return nil, errs.New(errs.KindClient, "notify", "new", "telegram.chat_id is required when enabled")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "notify", "new", "connecting to telegram")
	}

	n.api = api
	n.enabled = true
	n.logger.Info("telegram notifier ready", zap.String("username", api.Self.UserName))
	return n, nil
}

// Enabled reports whether messages will actually be sent.
func (n *Notifier) Enabled() bool {
	return n.enabled
}

// Start subscribes to the critical event kinds and begins forwarding.
// No-op when disabled.
func (n *Notifier) Start() {
	if !n.enabled {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return
	}
	n.sub = n.sink.Subscribe(
		telemetry.KindComplianceViolation,
		telemetry.KindOrderRejected,
		telemetry.KindBotStateChange,
	)
	n.done = make(chan struct{})
	go n.run(n.sub, n.done)
}

// Stop detaches from the event stream.
func (n *Notifier) Stop() {
	n.mu.Lock()
	sub, done := n.sub, n.done
	n.sub, n.done = nil, nil
	n.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
}

func (n *Notifier) run(sub *telemetry.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.C() {
		text, ok := formatEvent(ev)
		if !ok {
			continue
		}
		n.send(text)
	}
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn("telegram send failed", zap.Error(err))
	}
}

// formatEvent renders an event as a chat message. Events below the critical
// bar (non-critical violations, routine state changes) are skipped.
func formatEvent(ev telemetry.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case telemetry.ViolationPayload:
		if p.Violation.Severity != types.SeverityCritical {
			return "", false
		}
		return fmt.Sprintf("🚨 Compliance: %s\nAccount %s — %s",
			p.Violation.Title, p.AccountID, p.Violation.Description), true

	case telemetry.OrderPayload:
		if ev.Kind != telemetry.KindOrderRejected {
			return "", false
		}
		return fmt.Sprintf("⛔ Order rejected: %s %s %s\n%s",
			p.Order.Side, p.Order.Quantity, p.Order.Symbol, p.Order.Reason), true

	case telemetry.BotStatePayload:
		if p.To != types.BotStateError {
			return "", false
		}
		reason := p.Reason
		if reason == "" {
			reason = "unspecified error"
		}
		return fmt.Sprintf("❗ Bot %s entered error state: %s", ev.BotID, reason), true

	default:
		return "", false
	}
}
