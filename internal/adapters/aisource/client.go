// Package aisource implements the ports.DecisionSource interface against an
// OpenAI-compatible chat completions endpoint. The adapter renders the account
// state into the prompt and returns the model's reply verbatim; instruction
// parsing and validation happen upstream.
package aisource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"
)

const systemPrompt = `You are managing a simulated investment account. Reply with a single JSON object:
{"analysis": "<your market reasoning>", "actions": [<zero or more action objects>]}
Each action object has an "action" field, one of: BUY_SPOT, SELL_SPOT, OPEN_LONG, OPEN_SHORT,
CLOSE_LONG, CLOSE_SHORT, ADD_MARGIN, REDUCE_MARGIN, INCREASE_LEVERAGE, DECREASE_LEVERAGE,
SET_STOP_LOSS, SET_TAKE_PROFIT, HOLD.
Fields: "asset" (always, except HOLD), "quantity" or "amount" for buys and opens,
"leverage" (whole number) for opens and leverage changes, "price" for stop-loss and
take-profit triggers, optional "reason". Amounts are in account currency, quantities in asset units.`

// Client implements ports.DecisionSource over an OpenAI-style REST API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration for the decision source adapter.
type Config struct {
	BaseURL string // API root, e.g. https://api.openai.com/v1
	APIKey  string
	Model   string
	Timeout time.Duration // Transport-level timeout, context deadlines still apply
	Logger  ports.Logger
}

// New creates a decision source client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for decision source client")
	}
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: decision source base URL, API key and model are required", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Propose renders the account state into a prompt and returns the raw reply.
func (c *Client) Propose(ctx context.Context, req ports.DecisionRequest) ([]byte, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: renderPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ports.ErrDecisionSource, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ports.ErrDecisionSource, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ports.ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
		}
		return nil, fmt.Errorf("%w: %v", ports.ErrDecisionSource, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ports.ErrDecisionSource, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: decision source throttled", ports.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ports.ErrDecisionSource, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ports.ErrDecisionSource, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrDecisionSource, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: response contains no choices", ports.ErrDecisionSource)
	}

	c.logger.Debug(ctx, "Decision source replied", map[string]interface{}{
		"model": c.model, "elapsed": time.Since(start).String(), "bytes": len(parsed.Choices[0].Message.Content),
	})
	return []byte(parsed.Choices[0].Message.Content), nil
}

// renderPrompt formats the account snapshot, prices and recent history into
// the user message for one cycle.
func renderPrompt(req ports.DecisionRequest) string {
	var b strings.Builder
	snap := req.Snapshot

	fmt.Fprintf(&b, "Account status as of %s:\n", snap.AsOf.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Initial capital: %s\n- Cash: %s\n- Margin in use: %s\n- Total equity: %s (%s%% return)\n",
		snap.InitialCapital, snap.Cash, snap.MarginUsed, snap.Equity, snap.ProfitLossPct.Round(2))

	if len(snap.Spot) > 0 {
		b.WriteString("\nSpot holdings:\n")
		for _, h := range snap.Spot {
			fmt.Fprintf(&b, "- %s: %s units, avg entry %s\n", h.Asset, h.Quantity, h.EntryPrice)
		}
	}
	if len(snap.Futures) > 0 {
		b.WriteString("\nFutures positions:\n")
		for _, p := range snap.Futures {
			fmt.Fprintf(&b, "- %s %s: %s contracts, entry %s, %dx, margin %s", p.Asset, p.Side, p.Quantity, p.EntryPrice, p.Leverage, p.Margin)
			if p.HasStopLoss() {
				fmt.Fprintf(&b, ", SL %s", p.StopLoss)
			}
			if p.HasTakeProfit() {
				fmt.Fprintf(&b, ", TP %s", p.TakeProfit)
			}
			b.WriteString("\n")
		}
	}

	if len(req.Prices) > 0 {
		b.WriteString("\nCurrent prices:\n")
		for asset, price := range req.Prices {
			fmt.Fprintf(&b, "- %s: %s\n", asset, price)
		}
	}

	if len(req.History) > 0 {
		b.WriteString("\nRecent operations:\n")
		for _, rec := range req.History {
			if rec.Outcome == domain.OutcomeApplied {
				fmt.Fprintf(&b, "- %s\n", rec.Detail)
			} else {
				fmt.Fprintf(&b, "- %s %s rejected: %s\n", rec.Kind, rec.Asset, rec.Reason)
			}
		}
	}

	b.WriteString("\nDecide the next actions for this account.")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
