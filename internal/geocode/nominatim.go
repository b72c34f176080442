// Package geocode looks up places by name with a Nominatim server.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"transitmap/internal/geo"
)

// Result holds a geocoding result.
type Result struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"displayName"`
}

// Client is a Nominatim geocoding client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// New creates a Nominatim geocoding client.
// userAgent is required by Nominatim's usage policy.
func New(baseURL, userAgent string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// Search geocodes a free-form query, preferring results inside near when it
// is not empty. Returns at most limit results; none found is not an error.
func (c *Client) Search(ctx context.Context, query string, near geo.Bounds, limit int) ([]Result, error) {
	q := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"limit":          {strconv.Itoa(limit)},
		"addressdetails": {"0"},
	}
	if !near.Empty() {
		q.Set("viewbox", fmt.Sprintf("%s,%s,%s,%s",
			formatCoord(near.West), formatCoord(near.North), formatCoord(near.East), formatCoord(near.South)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim status %d", resp.StatusCode)
	}

	var raw []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("nominatim decode: %w", err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		lat, err := strconv.ParseFloat(r.Lat, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lat: %w", err)
		}
		lon, err := strconv.ParseFloat(r.Lon, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lon: %w", err)
		}
		results = append(results, Result{Lat: lat, Lon: lon, DisplayName: r.DisplayName})
	}
	return results, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
