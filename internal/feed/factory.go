package feed

import (
	"fmt"
	"log/slog"

	"ratiowatch/internal/config"
)

// NewClient creates a new feed client based on the configured kind.
func NewClient(cfg config.FeedConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Kind {
	case config.FeedWebSocket:
		return NewWebSocketClient(logger, cfg.URL, cfg.Subscribe), nil
	case config.FeedPoll:
		return NewPollingClient(logger, cfg.URL, cfg.PollInterval), nil
	default:
		return nil, fmt.Errorf("unknown feed: %s", cfg.Kind)
	}
}
