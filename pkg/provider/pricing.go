package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Pricing is the per-token price of a model in USD.
type Pricing struct {
	Prompt     float64
	Completion float64
}

// Cost returns the price of one call, or nil when usage is unknown.
func (p Pricing) Cost(promptTokens, completionTokens int) *float64 {
	cost := float64(promptTokens)*p.Prompt + float64(completionTokens)*p.Completion

	return &cost
}

// PricingTable maps model IDs to their published pricing. A missing entry
// means the cost of that model's calls is unknown, which is distinct from
// a cost of zero.
type PricingTable map[string]Pricing

// Lookup returns the pricing for a model, reporting whether it is known.
func (t PricingTable) Lookup(modelID string) (Pricing, bool) {
	p, ok := t[modelID]

	return p, ok
}

type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// FetchPricing retrieves the provider's model catalog and builds the
// pricing table. Entries with unparseable prices are skipped.
func (c *Client) FetchPricing(ctx context.Context) (PricingTable, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+"/models", nil,
	)
	if err != nil {
		return nil, fmt.Errorf("building models request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching model catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching model catalog: status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading model catalog: %w", err)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decoding model catalog: %w", err)
	}

	table := make(PricingTable, len(parsed.Data))

	for _, model := range parsed.Data {
		prompt, err := strconv.ParseFloat(model.Pricing.Prompt, 64)
		if err != nil {
			continue
		}

		completion, err := strconv.ParseFloat(model.Pricing.Completion, 64)
		if err != nil {
			continue
		}

		table[model.ID] = Pricing{Prompt: prompt, Completion: completion}
	}

	c.log.WithField("models", len(table)).Debug("Pricing table loaded")

	return table, nil
}
