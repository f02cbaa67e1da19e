package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"medtrack/pkg/domain"
)

const DefaultOpenFDABaseURL = "https://api.fda.gov/drug"

// OpenFDAClient wraps the openFDA drug endpoints used for label, recall, and
// NDC enrichment.
type OpenFDAClient struct {
	client *Client
}

func NewOpenFDAClient(baseURL string, cache *redis.Client, cacheTTL time.Duration) *OpenFDAClient {
	if baseURL == "" {
		baseURL = DefaultOpenFDABaseURL
	}
	return &OpenFDAClient{client: NewClient(baseURL, cache, cacheTTL)}
}

type fdaResponse struct {
	Results []map[string]any `json:"results"`
}

func (c *OpenFDAClient) search(ctx context.Context, path, query string, limit int) (fdaResponse, error) {
	var res fdaResponse
	body, err := c.client.Get(ctx, path, url.Values{
		"search": {query},
		"limit":  {fmt.Sprintf("%d", limit)},
	})
	if err != nil {
		return fdaResponse{}, err
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fdaResponse{}, fmt.Errorf("decode openfda response: %w", err)
	}
	return res, nil
}

// SafeLabelLookup fetches the drug label record, returning nil when openFDA
// has no data or is unreachable.
func (c *OpenFDAClient) SafeLabelLookup(ctx context.Context, drugName string) *domain.Provenance {
	res, err := c.search(ctx, "/label.json", "brand_name:"+drugName, 1)
	if err != nil {
		slog.Warn("openfda label lookup failed", "drug", drugName, "error", err)
		return nil
	}
	if len(res.Results) == 0 {
		return nil
	}
	payload := res.Results[0]
	return &domain.Provenance{
		EntityType: "drug_master",
		Source:     "openfda",
		FetchedAt:  time.Now().UTC(),
		Notes: map[string]any{
			"id":                payload["id"],
			"warnings":          payload["warnings"],
			"adverse_reactions": payload["adverse_reactions"],
			"boxed_warning":     payload["boxed_warning"],
			"effective_time":    payload["effective_time"],
		},
	}
}

// SafeEnforcementLookup fetches recall records for a drug.
func (c *OpenFDAClient) SafeEnforcementLookup(ctx context.Context, drugName string) *domain.Provenance {
	res, err := c.search(ctx, "/enforcement.json", "product_description:"+drugName, 1)
	if err != nil {
		slog.Warn("openfda enforcement lookup failed", "drug", drugName, "error", err)
		return nil
	}
	if len(res.Results) == 0 {
		return nil
	}
	payload := res.Results[0]
	return &domain.Provenance{
		EntityType: "drug_master",
		Source:     "openfda",
		FetchedAt:  time.Now().UTC(),
		Notes: map[string]any{
			"recall_number":        payload["recall_number"],
			"status":               payload["status"],
			"distribution_pattern": payload["distribution_pattern"],
			"reason_for_recall":    payload["reason_for_recall"],
			"report_date":          payload["report_date"],
		},
	}
}

// SafeNDCLookup fetches the National Drug Code directory entry.
func (c *OpenFDAClient) SafeNDCLookup(ctx context.Context, drugName string) *domain.Provenance {
	res, err := c.search(ctx, "/ndc.json", "brand_name:"+drugName, 1)
	if err != nil {
		slog.Warn("openfda ndc lookup failed", "drug", drugName, "error", err)
		return nil
	}
	if len(res.Results) == 0 {
		return nil
	}
	payload := res.Results[0]
	return &domain.Provenance{
		EntityType: "drug_master",
		Source:     "openfda",
		FetchedAt:  time.Now().UTC(),
		Notes: map[string]any{
			"ndc":                  payload["product_ndc"],
			"generic_name":         payload["generic_name"],
			"labeler_name":         payload["labeler_name"],
			"marketing_start_date": payload["marketing_start_date"],
			"dosage_form":          payload["dosage_form"],
		},
	}
}
