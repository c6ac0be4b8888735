package notifications

import (
	"context"

	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
)

// Alert levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(ctx context.Context, level, message string) error
}

// LogNotifier writes alerts to the logger. Used when no chat is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendAlert(_ context.Context, level, message string) error {
	switch level {
	case LevelWarning:
		n.log.Warning("%s", message)
	case LevelError:
		n.log.Error("%s", message)
	default:
		n.log.Info("%s %s", emojiFor(level), message)
	}
	return nil
}

func emojiFor(level string) string {
	switch level {
	case LevelWarning:
		return "⚠️"
	case LevelError:
		return "🚨"
	case LevelSuccess:
		return "✅"
	default:
		return "ℹ️"
	}
}
