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

const DefaultRxNormBaseURL = "https://rxnav.nlm.nih.gov/REST"

// RxNormClient wraps the RxNorm REST API with response normalization helpers.
type RxNormClient struct {
	client *Client
}

func NewRxNormClient(baseURL string, cache *redis.Client, cacheTTL time.Duration) *RxNormClient {
	if baseURL == "" {
		baseURL = DefaultRxNormBaseURL
	}
	return &RxNormClient{client: NewClient(baseURL, cache, cacheTTL)}
}

// RxCUILookup is the /rxcui response shape.
type RxCUILookup struct {
	IDGroup struct {
		Name     string   `json:"name"`
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

// ConceptProperties is the /rxcui/{id}/properties response shape.
type ConceptProperties struct {
	Properties struct {
		RxCUI    string `json:"rxcui"`
		Name     string `json:"name"`
		Synonym  string `json:"synonym"`
		TTY      string `json:"tty"`
		Language string `json:"language"`
	} `json:"properties"`
}

type rxNormVersion struct {
	Version struct {
		RxNormVersion string `json:"version"`
	} `json:"version"`
}

// FindRxCUIByString resolves a drug name to RxNorm concept identifiers.
func (c *RxNormClient) FindRxCUIByString(ctx context.Context, name string) (RxCUILookup, error) {
	var lookup RxCUILookup
	body, err := c.client.Get(ctx, "/rxcui.json", url.Values{"name": {name}})
	if err != nil {
		return RxCUILookup{}, err
	}
	if err := json.Unmarshal(body, &lookup); err != nil {
		return RxCUILookup{}, fmt.Errorf("decode rxcui lookup: %w", err)
	}
	return lookup, nil
}

// GetConceptProperties fetches the concept record for one rxcui.
func (c *RxNormClient) GetConceptProperties(ctx context.Context, rxcui string) (ConceptProperties, error) {
	var props ConceptProperties
	body, err := c.client.Get(ctx, "/rxcui/"+url.PathEscape(rxcui)+"/properties.json", nil)
	if err != nil {
		return ConceptProperties{}, err
	}
	if err := json.Unmarshal(body, &props); err != nil {
		return ConceptProperties{}, fmt.Errorf("decode concept properties: %w", err)
	}
	return props, nil
}

// Version returns the upstream RxNorm data release, or "" when the version
// endpoint is unavailable.
func (c *RxNormClient) Version(ctx context.Context) string {
	body, err := c.client.Get(ctx, "/version.json", nil)
	if err != nil {
		slog.Warn("rxnorm version lookup failed", "error", err)
		return ""
	}
	var v rxNormVersion
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	return v.Version.RxNormVersion
}

// ExtractFirstRxCUI pulls the first non-empty concept id from a lookup.
func ExtractFirstRxCUI(lookup RxCUILookup) string {
	for _, id := range lookup.IDGroup.RxNormID {
		if id != "" {
			return id
		}
	}
	return ""
}

// NormalizeProperties maps a concept record onto a master catalog draft.
func (c *RxNormClient) NormalizeProperties(ctx context.Context, props ConceptProperties) domain.DrugMaster {
	p := props.Properties
	generic := p.Synonym
	if generic == "" {
		generic = p.TTY
	}
	sourceURL := ""
	if p.RxCUI != "" {
		sourceURL = c.client.BaseURL() + "/rxcui/" + p.RxCUI
	}
	return domain.DrugMaster{
		RxCUI:          p.RxCUI,
		TradeNameEN:    p.Name,
		GenericName:    generic,
		DosageForm:     p.TTY,
		Source:         "rxnorm",
		SourceURL:      sourceURL,
		SourceVersion:  c.Version(ctx),
		VerifiedStatus: domain.StatusUnverified,
	}
}

// NewProvenance records the raw concept payload for auditing.
func (c *RxNormClient) NewProvenance(entityType string, props ConceptProperties) domain.Provenance {
	return domain.Provenance{
		EntityType: entityType,
		Source:     "rxnorm",
		FetchedAt:  time.Now().UTC(),
		Notes: map[string]any{
			"rxcui":   props.Properties.RxCUI,
			"name":    props.Properties.Name,
			"synonym": props.Properties.Synonym,
			"tty":     props.Properties.TTY,
		},
	}
}
