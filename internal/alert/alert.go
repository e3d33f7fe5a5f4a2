package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing notification.
type Alert struct {
	Severity Severity
	Title    string
	Fields   map[string]string
}

// Alerter delivers alerts. Implementations must not block the caller for long
// and must never fail the operation that raised the alert.
type Alerter interface {
	Notify(ctx context.Context, a Alert)
}

// LogAlerter writes alerts to the structured log.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	if logger == nil {
		logger = zap.L()
	}
	return &LogAlerter{logger: logger.Named("alert")}
}

func (l *LogAlerter) Notify(_ context.Context, a Alert) {
	fields := []zap.Field{zap.String("severity", string(a.Severity))}
	for _, k := range sortedKeys(a.Fields) {
		fields = append(fields, zap.String(k, a.Fields[k]))
	}
	if a.Severity == SeverityCritical {
		l.logger.Error(a.Title, fields...)
		return
	}
	l.logger.Warn(a.Title, fields...)
}

// Fanout sends every alert to each wrapped alerter.
type Fanout []Alerter

func (f Fanout) Notify(ctx context.Context, a Alert) {
	for _, alerter := range f {
		if alerter != nil {
			alerter.Notify(ctx, a)
		}
	}
}

// Format renders an alert as plain text.
func Format(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(a.Severity)), a.Title)
	for _, k := range sortedKeys(a.Fields) {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
