// Package geo resolves place names to coordinates and back using a
// Nominatim-compatible HTTP endpoint. Geocoding is best-effort: callers
// treat a failure as unknown coordinates, never as a failed turn.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Geocoder converts between place names and coordinates.
type Geocoder interface {
	Forward(ctx context.Context, name string) (*Point, error)
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// HTTPGeocoder talks to a Nominatim-style search/reverse API.
type HTTPGeocoder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGeocoder constructs a geocoder against the given base URL.
func NewHTTPGeocoder(baseURL string, timeout time.Duration) *HTTPGeocoder {
	return &HTTPGeocoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Forward resolves a free-text place name to coordinates. Returns nil
// without error when the service has no match.
func (g *HTTPGeocoder) Forward(ctx context.Context, name string) (*Point, error) {
	q := url.Values{}
	q.Set("q", name)
	q.Set("format", "json")
	q.Set("limit", "1")

	var results []searchResult
	if err := g.getJSON(ctx, "/search?"+q.Encode(), &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse longitude %q: %w", results[0].Lon, err)
	}
	return &Point{Latitude: lat, Longitude: lon}, nil
}

// Reverse resolves coordinates to a display name. Returns "" without
// error when nothing is found.
func (g *HTTPGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("format", "json")

	var result searchResult
	if err := g.getJSON(ctx, "/reverse?"+q.Encode(), &result); err != nil {
		return "", err
	}
	return result.DisplayName, nil
}

func (g *HTTPGeocoder) getJSON(ctx context.Context, path string, out any) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("User-Agent", "healthsignal/1.0")
			resp, err := g.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("geocoder status %d", resp.StatusCode)
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode geocoder response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}
