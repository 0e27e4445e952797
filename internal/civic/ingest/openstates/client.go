package openstates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
)

const (
	// BaseURL is the OpenStates v3 API endpoint.
	BaseURL = "https://v3.openstates.org"

	// PerPage is the maximum page size the API allows.
	PerPage = 50
)

// Client is an HTTP client for the OpenStates API.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new OpenStates API client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchPeople fetches all current legislators for one state jurisdiction,
// following pagination to the end.
func (c *Client) FetchPeople(ctx context.Context, state string) ([]Person, error) {
	var all []Person
	page := 1

	for {
		params := url.Values{}
		params.Set("jurisdiction", state)
		params.Set("per_page", strconv.Itoa(PerPage))
		params.Set("page", strconv.Itoa(page))
		params.Add("include", "offices")

		fullURL := fmt.Sprintf("%s/people?%s", BaseURL, params.Encode())

		start := time.Now()
		ingest.LogRequest("openstates", "GET", BaseURL+"/people", map[string]interface{}{
			"jurisdiction": state,
			"page":         page,
		})

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("X-API-KEY", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			ingest.LogError("openstates", "fetch", err)
			return nil, fmt.Errorf("openstates request: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := fmt.Errorf("openstates status %d", resp.StatusCode)
			ingest.LogError("openstates", "fetch", err)
			return nil, err
		}

		var pageResp peopleResponse
		if err := json.NewDecoder(resp.Body).Decode(&pageResp); err != nil {
			resp.Body.Close()
			ingest.LogError("openstates", "decode", err)
			return nil, fmt.Errorf("decode openstates: %w", err)
		}
		resp.Body.Close()

		all = append(all, pageResp.Results...)
		ingest.LogResponse("openstates", resp.StatusCode, time.Since(start), len(pageResp.Results))

		if page >= pageResp.Pagination.MaxPage || len(pageResp.Results) == 0 {
			break
		}
		page++
	}

	return all, nil
}

// HealthCheck verifies the API key with a minimal request.
func (c *Client) HealthCheck(ctx context.Context) error {
	params := url.Values{}
	params.Set("jurisdiction", "in")
	params.Set("per_page", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/people?%s", BaseURL, params.Encode()), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}
