package alert

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		r.sent = append(r.sent, msg)
	}
	return tgbotapi.Message{}, r.err
}

type captureAlerter struct {
	got []Alert
}

func (c *captureAlerter) Notify(_ context.Context, a Alert) {
	c.got = append(c.got, a)
}

func TestFormatSortsFields(t *testing.T) {
	text := Format(Alert{
		Severity: SeverityCritical,
		Title:    "reconciliation discrepancy",
		Fields:   map[string]string{"onchain": "1.5", "discrepancy": "0.2"},
	})
	require.Equal(t, "[CRITICAL] reconciliation discrepancy\ndiscrepancy: 0.2\nonchain: 1.5", text)
}

func TestTelegramAlerterSendsToChat(t *testing.T) {
	sender := &recordingSender{}
	alerter := &TelegramAlerter{bot: sender, chatID: 42}

	alerter.Notify(context.Background(), Alert{Severity: SeverityWarning, Title: "low balance"})
	require.Len(t, sender.sent, 1)
	require.Equal(t, int64(42), sender.sent[0].ChatID)
	require.Contains(t, sender.sent[0].Text, "low balance")

	sender.err = errors.New("telegram down")
	alerter.Notify(context.Background(), Alert{Title: "ignored failure"})
}

func TestLogAlerterLevels(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	alerter := NewLogAlerter(zap.New(core))

	alerter.Notify(context.Background(), Alert{Severity: SeverityCritical, Title: "critical", Fields: map[string]string{"k": "v"}})
	alerter.Notify(context.Background(), Alert{Severity: SeverityWarning, Title: "warning"})

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.ErrorLevel, entries[0].Level)
	require.Equal(t, "v", entries[0].ContextMap()["k"])
	require.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestFanout(t *testing.T) {
	a, b := &captureAlerter{}, &captureAlerter{}
	Fanout{a, nil, b}.Notify(context.Background(), Alert{Title: "x"})
	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
}
