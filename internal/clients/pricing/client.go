// Package pricing provides a client for the pricing service that quotes per-share option Greeks.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/greekwatch/internal/modules/greeks"
)

// Client for the pricing service's Greeks endpoint
type Client struct {
	baseURL string
	source  greeks.GreeksDataSource
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a pricing client. Greeks it returns are tagged with source.
func NewClient(baseURL string, timeout time.Duration, source greeks.GreeksDataSource, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if source == "" {
		source = greeks.SourceModel
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		source:  source,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "pricing").Logger(),
	}
}

type positionRequest struct {
	PositionID       string `json:"position_id"`
	Symbol           string `json:"symbol"`
	UnderlyingSymbol string `json:"underlying_symbol"`
	OptionType       string `json:"option_type"`
	Strike           string `json:"strike"`
	Expiry           string `json:"expiry"`
}

type greeksRequest struct {
	Positions []positionRequest `json:"positions"`
}

// quote is one leg of the response. Numbers may arrive as JSON numbers or strings.
type quote struct {
	Delta             decimal.NullDecimal `json:"delta"`
	Gamma             decimal.NullDecimal `json:"gamma"`
	Vega              decimal.NullDecimal `json:"vega"`
	Theta             decimal.NullDecimal `json:"theta"`
	ImpliedVolatility decimal.NullDecimal `json:"implied_volatility"`
	UnderlyingPrice   decimal.NullDecimal `json:"underlying_price"`
	AsOf              time.Time           `json:"as_of"`
	Model             string              `json:"model"`
}

type greeksResponse struct {
	Greeks map[string]quote `json:"greeks"`
}

// Source returns the data source the client's Greeks are attributed to.
func (c *Client) Source() greeks.GreeksDataSource {
	return c.source
}

// FetchGreeks quotes the given positions.
// Legs the service omits, or quotes without delta or underlying price, are left out of the result.
func (c *Client) FetchGreeks(ctx context.Context, positions []greeks.PositionInfo) (map[string]greeks.RawGreeks, error) {
	out := make(map[string]greeks.RawGreeks, len(positions))
	if len(positions) == 0 {
		return out, nil
	}

	req := greeksRequest{Positions: make([]positionRequest, len(positions))}
	for i, pos := range positions {
		req.Positions[i] = positionRequest{
			PositionID:       pos.PositionID,
			Symbol:           pos.Symbol,
			UnderlyingSymbol: pos.UnderlyingSymbol,
			OptionType:       string(pos.OptionType),
			Strike:           pos.Strike.String(),
			Expiry:           pos.Expiry.Format("2006-01-02"),
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/api/greeks"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pricing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pricing service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result greeksResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	fetchedAt := time.Now().UTC()
	for _, pos := range positions {
		q, ok := result.Greeks[pos.PositionID]
		if !ok {
			continue
		}
		if !q.Delta.Valid || !q.UnderlyingPrice.Valid {
			c.log.Debug().Str("position_id", pos.PositionID).Msg("Incomplete quote, skipping")
			continue
		}
		asOf := q.AsOf
		if asOf.IsZero() {
			asOf = fetchedAt
		}
		out[pos.PositionID] = greeks.RawGreeks{
			Delta:             q.Delta.Decimal,
			Gamma:             q.Gamma.Decimal,
			Vega:              q.Vega.Decimal,
			Theta:             q.Theta.Decimal,
			ImpliedVolatility: q.ImpliedVolatility.Decimal,
			UnderlyingPrice:   q.UnderlyingPrice.Decimal,
			AsOf:              asOf,
			Model:             q.Model,
		}
	}

	c.log.Debug().
		Int("requested", len(positions)).
		Int("quoted", len(out)).
		Dur("took", time.Since(start)).
		Msg("Fetched greeks")
	return out, nil
}
