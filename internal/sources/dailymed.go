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

const DefaultDailyMedBaseURL = "https://dailymed.nlm.nih.gov/dailymed/services/v2"

// DailyMedClient wraps the DailyMed SPL API.
type DailyMedClient struct {
	client *Client
}

func NewDailyMedClient(baseURL string, cache *redis.Client, cacheTTL time.Duration) *DailyMedClient {
	if baseURL == "" {
		baseURL = DefaultDailyMedBaseURL
	}
	return &DailyMedClient{client: NewClient(baseURL, cache, cacheTTL)}
}

// SPLEntry is one structured product label record.
type SPLEntry struct {
	SetID                   string `json:"setid"`
	Title                   string `json:"title"`
	GenericName             string `json:"generic_name"`
	DosageForm              string `json:"dosage_form"`
	Strength                string `json:"strength"`
	Version                 any    `json:"version"`
	EffectiveTime           string `json:"effective_time"`
	IndicationsAndUsage     string `json:"indications_and_usage"`
	DosageAndAdministration string `json:"dosage_and_administration"`
	Warnings                string `json:"warnings"`
}

// SPLResponse is the envelope for both search and detail lookups.
type SPLResponse struct {
	Data []SPLEntry `json:"data"`
}

// SearchSPLs looks up labels by drug name.
func (c *DailyMedClient) SearchSPLs(ctx context.Context, drugName string) (SPLResponse, error) {
	var res SPLResponse
	body, err := c.client.Get(ctx, "/spls.json", url.Values{"drug_name": {drugName}})
	if err != nil {
		return SPLResponse{}, err
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return SPLResponse{}, fmt.Errorf("decode spl search: %w", err)
	}
	return res, nil
}

// GetSPLDetails fetches one label by set id.
func (c *DailyMedClient) GetSPLDetails(ctx context.Context, setID string) (SPLResponse, error) {
	var res SPLResponse
	body, err := c.client.Get(ctx, "/spls/"+url.PathEscape(setID)+".json", nil)
	if err != nil {
		return SPLResponse{}, err
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return SPLResponse{}, fmt.Errorf("decode spl details: %w", err)
	}
	return res, nil
}

// SafeGetSPL resolves a drug name to its label details, returning nil on any
// upstream failure so enrichment degrades to no-data.
func (c *DailyMedClient) SafeGetSPL(ctx context.Context, drugName string) *SPLResponse {
	search, err := c.SearchSPLs(ctx, drugName)
	if err != nil {
		slog.Warn("dailymed lookup failed", "drug", drugName, "error", err)
		return nil
	}
	if len(search.Data) == 0 || search.Data[0].SetID == "" {
		return nil
	}
	details, err := c.GetSPLDetails(ctx, search.Data[0].SetID)
	if err != nil {
		slog.Warn("dailymed details lookup failed", "setId", search.Data[0].SetID, "error", err)
		return nil
	}
	return &details
}

// NewProvenance records the label highlights for auditing.
func (c *DailyMedClient) NewProvenance(entityType string, res SPLResponse) domain.Provenance {
	var entry SPLEntry
	if len(res.Data) > 0 {
		entry = res.Data[0]
	}
	sourceURL := ""
	if entry.SetID != "" {
		sourceURL = c.client.BaseURL() + "/spls/" + entry.SetID + ".json"
	}
	return domain.Provenance{
		EntityType: entityType,
		Source:     "dailymed",
		FetchedAt:  time.Now().UTC(),
		Notes: map[string]any{
			"indications_and_usage":     entry.IndicationsAndUsage,
			"dosage_and_administration": entry.DosageAndAdministration,
			"warnings":                  entry.Warnings,
			"last_updated":              entry.EffectiveTime,
			"source_url":                sourceURL,
		},
	}
}
