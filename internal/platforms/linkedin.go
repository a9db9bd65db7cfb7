package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/retry"
)

const linkedinTokenURL = "https://www.linkedin.com/oauth/v2/accessToken"

// NewLinkedInAdapter builds the LinkedIn adapter. With OAuth client
// credentials configured it serves the official jobs API; otherwise it
// behaves like the other scraping adapters.
func NewLinkedInAdapter(cfg common.AdapterConfig, selectorsDir string, deps Deps) (*Adapter, error) {
	table, err := LoadSelectorTable(selectorsDir, "linkedin")
	if err != nil {
		return nil, err
	}

	adapter := newAdapter("linkedin", cfg, table,
		[]models.Capability{
			models.CapabilityJobSearch,
			models.CapabilityJobDetails,
			models.CapabilityCompanyInfo,
			models.CapabilityProfileInfo,
		},
		nil,
		deps,
	)

	if cfg.OAuthClientID != "" && cfg.OAuthClientSecret != "" {
		tokenURL := cfg.OAuthTokenURL
		if tokenURL == "" {
			tokenURL = linkedinTokenURL
		}
		adapter.api = &linkedinAPI{
			adapter: adapter,
			oauth: &clientcredentials.Config{
				ClientID:     cfg.OAuthClientID,
				ClientSecret: cfg.OAuthClientSecret,
				TokenURL:     tokenURL,
			},
			baseURL: "https://api.linkedin.com/v2",
		}
	}
	return adapter, nil
}

// linkedinAPI is the OAuth-authenticated search path. Token acquisition
// and refresh are handled by the clientcredentials transport.
type linkedinAPI struct {
	adapter *Adapter
	oauth   *clientcredentials.Config
	baseURL string
}

type linkedinJobsResponse struct {
	Elements []struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		CompanyName string `json:"companyName"`
		Location    string `json:"formattedLocation"`
		Description struct {
			Text string `json:"text"`
		} `json:"description"`
		ListedAt   int64  `json:"listedAt"`
		ApplyURL   string `json:"applyUrl"`
		WorkplaceT string `json:"workplaceType"`
	} `json:"elements"`
	Paging struct {
		Total int `json:"total"`
	} `json:"paging"`
}

func (l *linkedinAPI) SearchAPI(ctx context.Context, req *models.SearchRequest) (*models.SearchResult, error) {
	client := l.oauth.Client(ctx)
	client.Timeout = 30 * time.Second

	params := url.Values{}
	params.Set("keywords", req.Query)
	if req.Location != "" {
		params.Set("location", req.Location)
	}
	if req.MaxResults > 0 {
		params.Set("count", strconv.Itoa(req.MaxResults))
	}
	if req.Page > 0 {
		params.Set("start", strconv.Itoa(req.Page*req.MaxResults))
	}

	endpoint := l.baseURL + "/jobSearch?" + params.Encode()

	// Throttled and transient network failures are retried; credential
	// rejections fail immediately.
	body, err := retry.Do(ctx, retry.API, l.adapter.logger, func(ctx context.Context) ([]byte, error) {
		return l.fetchJSON(ctx, client, endpoint)
	})
	if err != nil {
		return nil, err
	}

	var parsed linkedinJobsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse LinkedIn API response: %v", models.ErrParse, err)
	}

	records := make([]*models.JobRecord, 0, len(parsed.Elements))
	for _, el := range parsed.Elements {
		rec := &models.JobRecord{
			Platform:    "linkedin",
			ExternalID:  strconv.FormatInt(el.ID, 10),
			Title:       el.Title,
			Company:     el.CompanyName,
			Location:    el.Location,
			Description: el.Description.Text,
			URL:         el.ApplyURL,
		}
		if el.ListedAt > 0 {
			posted := time.UnixMilli(el.ListedAt).UTC()
			rec.PostedDate = &posted
		}
		if el.WorkplaceT == "remote" {
			remote := true
			rec.Remote = &remote
		}
		records = append(records, rec)
	}

	return &models.SearchResult{
		Jobs:       truncateRecords(records, req.MaxResults),
		TotalFound: parsed.Paging.Total,
		Method:     models.MethodAPI,
	}, nil
}

func (l *linkedinAPI) fetchJSON(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build LinkedIn API request: %v", models.ErrValidation, err)
	}
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: LinkedIn API request failed: %v", models.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: LinkedIn API throttled the request", models.ErrRateLimit)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: LinkedIn API rejected credentials (status %d)", models.ErrBlocked, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: LinkedIn API returned status %d", models.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read LinkedIn API response: %v", models.ErrNetwork, err)
	}
	return body, nil
}
