package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ratiowatch/internal/model"
)

// PollingClient requests the latest quotes over HTTP at a fixed interval.
type PollingClient struct {
	logger   *slog.Logger
	url      string
	interval time.Duration
	http     *http.Client
}

// NewPollingClient creates a new PollingClient.
func NewPollingClient(logger *slog.Logger, url string, interval time.Duration) *PollingClient {
	return &PollingClient{
		logger:   logger,
		url:      url,
		interval: interval,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *PollingClient) Name() string {
	return "poll"
}

// Stream polls until ctx is cancelled. Failed requests are logged and retried on the next tick.
func (p *PollingClient) Stream(ctx context.Context, out chan<- []model.Observation) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("PollingClient: polling", "url", p.url, "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("PollingClient: context cancelled, shutting down")
			return nil
		case <-ticker.C:
		}

		observations, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("PollingClient: request failed", "error", err)
			continue
		}
		if len(observations) == 0 {
			continue
		}

		select {
		case out <- observations:
			p.logger.Debug("PollingClient: sent observations", "count", len(observations))
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *PollingClient) fetch(ctx context.Context) ([]model.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get quotes: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quotes: %w", err)
	}
	return DecodeQuotes(body)
}
