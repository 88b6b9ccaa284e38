// Package advisor calls an optional external recommendation service during
// admission. The advisor can veto a candidate or scale its size; because it
// is advisory, any failure to reach it admits the signal unchanged.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Recommendation is the advisor's verdict on one candidate signal.
type Recommendation struct {
	Approve        bool    `json:"approve"`
	SizeMultiplier float64 `json:"size_multiplier"`
	Reason         string  `json:"reason"`
}

// Client is the HTTP advisor client.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an advisor client. timeout bounds the whole request; the
// admission pipeline treats a timeout the same as any other failure.
func New(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "advisor")),
	}
}

type adviseRequest struct {
	SignalID       string  `json:"signal_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Confidence     float64 `json:"confidence"`
	Strategy       string  `json:"strategy"`
	ReferencePrice float64 `json:"reference_price"`
	CurrentPrice   float64 `json:"current_price"`
}

// Advise posts the candidate to the advisor and returns its recommendation.
// On any transport, decode, or non-200 failure it returns an approving
// recommendation with multiplier 1 and logs the degradation; the advisor is
// never allowed to stall or fail the pipeline.
func (c *Client) Advise(ctx context.Context, sig domain.Signal, currentPrice float64) Recommendation {
	fallback := Recommendation{Approve: true, SizeMultiplier: 1}

	body, err := json.Marshal(adviseRequest{
		SignalID:       sig.ID,
		Symbol:         sig.Symbol,
		Side:           string(sig.Side),
		Confidence:     sig.Confidence,
		Strategy:       sig.Strategy,
		ReferencePrice: sig.ReferencePrice,
		CurrentPrice:   currentPrice,
	})
	if err != nil {
		c.logger.Warn("advisor request marshal failed", slog.String("error", err.Error()))
		return fallback
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("advisor request build failed", slog.String("error", err.Error()))
		return fallback
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("advisor unreachable, admitting unchanged",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()))
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("advisor returned non-200, admitting unchanged",
			slog.String("signal_id", sig.ID),
			slog.Int("status", resp.StatusCode))
		return fallback
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		c.logger.Warn("advisor response read failed", slog.String("error", err.Error()))
		return fallback
	}

	var rec Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("advisor response decode failed", slog.String("error", err.Error()))
		return fallback
	}

	if rec.SizeMultiplier <= 0 {
		rec.SizeMultiplier = 1
	}
	return rec
}

// Veto formats the rejection reason for the admission record.
func (r Recommendation) Veto() string {
	if r.Reason == "" {
		return "advisor veto"
	}
	return fmt.Sprintf("advisor veto: %s", r.Reason)
}
