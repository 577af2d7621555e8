// Package notify provides Notifier implementations for session events.
package notify

import (
	"context"
	"fmt"

	"aiInvestSim/internal/ports"
)

// LogNotifier delivers session notifications to the structured log. It is the
// default sink when no external channel is configured.
type LogNotifier struct {
	logger ports.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier(logger ports.Logger) (*LogNotifier, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for log notifier")
	}
	return &LogNotifier{logger: logger}, nil
}

// Notify writes the message to the log at info level.
func (n *LogNotifier) Notify(ctx context.Context, accountID, message string) error {
	n.logger.Info(ctx, "Session notification", map[string]interface{}{
		"account": accountID,
		"message": message,
	})
	return nil
}
