package notify

import (
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if ok {
		s.mu.Lock()
		s.sent = append(s.sent, msg.Text)
		s.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (s *stubSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func newTestNotifier(t *testing.T) (*Notifier, *stubSender, *telemetry.Sink) {
	t.Helper()
	logger := zap.NewNop()
	sink := telemetry.NewSink(logger, telemetry.DefaultSinkConfig())
	t.Cleanup(sink.Stop)

	api := &stubSender{}
	n := &Notifier{logger: logger, sink: sink, api: api, chatID: 42, enabled: true}
	n.Start()
	t.Cleanup(n.Stop)
	return n, api, sink
}

func waitForMessages(t *testing.T, api *stubSender, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := api.messages(); len(msgs) >= want {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("messages = %v, want %d", api.messages(), want)
	return nil
}

func TestNotifierForwardsCriticalEvents(t *testing.T) {
	_, api, sink := newTestNotifier(t)
	now := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)

	sink.Publish(telemetry.NewViolationEvent("acct-1", types.ComplianceViolation{
		Severity:    types.SeverityCritical,
		Title:       "Pattern Day Trader limit",
		Description: "4th day trade in 5 business days",
	}, now))
	sink.Publish(telemetry.NewOrderEvent(telemetry.KindOrderRejected, types.Order{
		Symbol:   "AAPL",
		Side:     types.OrderSideBuy,
		Quantity: decimal.NewFromInt(100),
		Status:   types.OrderStatusRejected,
		Reason:   "risk: daily loss limit reached",
	}, now))
	sink.Publish(telemetry.NewBotStateEvent("bot-1", types.BotStateRunning, types.BotStateError,
		"3 consecutive cycle failures", now))

	msgs := waitForMessages(t, api, 3)
	if !strings.Contains(msgs[0], "Pattern Day Trader") {
		t.Errorf("violation message = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "AAPL") || !strings.Contains(msgs[1], "risk:") {
		t.Errorf("rejection message = %q", msgs[1])
	}
	if !strings.Contains(msgs[2], "bot-1") {
		t.Errorf("error message = %q", msgs[2])
	}
}

func TestNotifierSkipsRoutineEvents(t *testing.T) {
	_, api, sink := newTestNotifier(t)
	now := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)

	// Below the critical bar: warning violation, submitted order, pause.
	sink.Publish(telemetry.NewViolationEvent("acct-1", types.ComplianceViolation{
		Severity: types.SeverityWarning,
		Title:    "Unsettled funds",
	}, now))
	sink.Publish(telemetry.NewOrderEvent(telemetry.KindOrderSubmitted, types.Order{Symbol: "AAPL"}, now))
	sink.Publish(telemetry.NewBotStateEvent("bot-1", types.BotStateRunning, types.BotStatePaused, "", now))

	// Then one that must land, proving the others were skipped, not queued.
	sink.Publish(telemetry.NewBotStateEvent("bot-2", types.BotStateRunning, types.BotStateError, "x", now))

	msgs := waitForMessages(t, api, 1)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "bot-2") {
		t.Errorf("messages = %v", msgs)
	}
}

func TestNewNotifierDisabledWithoutToken(t *testing.T) {
	logger := zap.NewNop()
	sink := telemetry.NewSink(logger, telemetry.DefaultSinkConfig())
	t.Cleanup(sink.Stop)
	t.Setenv(tokenEnv, "")

	n, err := NewNotifier(logger, types.TelegramConfig{Enabled: true, ChatID: 42}, sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if n.Enabled() {
		t.Error("notifier enabled without a token")
	}
	n.Start() // must be a no-op
	n.Stop()

	n, err = NewNotifier(logger, types.TelegramConfig{Enabled: false}, sink)
	if err != nil || n.Enabled() {
		t.Errorf("disabled config: enabled=%v err=%v", n.Enabled(), err)
	}
}
