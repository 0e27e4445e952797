package tiger

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

// BaseURL is the Census TIGERweb ArcGIS REST endpoint for legislative
// boundary layers.
const BaseURL = "https://tigerweb.geo.census.gov/arcgis/rest/services/TIGERweb/Legislative/MapServer"

// pageSize keeps a single response under the ArcGIS transfer limit even
// with full geometries attached.
const pageSize = 50

// Layer ids within the Legislative MapServer.
const (
	layerCongressional = 0
	layerStateUpper    = 2
	layerStateLower    = 4
)

// layers maps each boundary layer to the canonical district type.
var layers = []struct {
	id           int
	districtType string
}{
	{layerCongressional, "CONGRESSIONAL"},
	{layerStateUpper, "STATE_UPPER"},
	{layerStateLower, "STATE_LOWER"},
}

// Feature is one boundary polygon as TIGERweb reports it in GeoJSON form.
type Feature struct {
	Properties struct {
		GeoID    string `json:"GEOID"`
		Name     string `json:"NAME"`
		State    string `json:"STATE"`
		BaseName string `json:"BASENAME"`
	} `json:"properties"`
	Geometry json.RawMessage `json:"geometry"`
}

type featureCollection struct {
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
}

// Client queries TIGERweb boundary layers.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// FetchLayer pulls every boundary in one layer for one state, following
// result paging until the server reports the set is complete.
func (c *Client) FetchLayer(ctx context.Context, layerID int, stateFIPS string) ([]Feature, error) {
	var all []Feature
	offset := 0

	for {
		params := url.Values{}
		params.Set("where", fmt.Sprintf("STATE='%s'", stateFIPS))
		params.Set("outFields", "GEOID,NAME,STATE,BASENAME")
		params.Set("outSR", "4326")
		params.Set("f", "geojson")
		params.Set("resultOffset", strconv.Itoa(offset))
		params.Set("resultRecordCount", strconv.Itoa(pageSize))

		endpoint := fmt.Sprintf("%s/%d/query", BaseURL, layerID)

		start := time.Now()
		ingest.LogRequest("tiger", "GET", endpoint, map[string]interface{}{
			"state":  stateFIPS,
			"offset": offset,
		})

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			ingest.LogError("tiger", "fetch", err)
			return nil, fmt.Errorf("tigerweb request: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := fmt.Errorf("tigerweb status %d", resp.StatusCode)
			ingest.LogError("tiger", "fetch", err)
			return nil, err
		}

		var page featureCollection
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			ingest.LogError("tiger", "decode", err)
			return nil, fmt.Errorf("decode tigerweb: %w", err)
		}
		resp.Body.Close()

		all = append(all, page.Features...)
		ingest.LogResponse("tiger", resp.StatusCode, time.Since(start), len(page.Features))

		if !page.ExceededTransferLimit && len(page.Features) < pageSize {
			break
		}
		if len(page.Features) == 0 {
			break
		}
		offset += len(page.Features)
	}

	return all, nil
}

// HealthCheck asks the MapServer root for its service description.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BaseURL+"?f=json", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

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
