// Package geocode provides zt.Geocoder implementations.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zt-go/internal/zt"
)

// Noop never resolves a coordinate. Captures still store the raw reading.
type Noop struct{}

func (Noop) Reverse(context.Context, float64, float64) (*zt.Place, error) {
	return nil, fmt.Errorf("%w: no geocoder configured", zt.ErrGeocodeUnavailable)
}

// Region is a bounding box attributed to one country.
type Region struct {
	Country string
	City    string
	MinLat  float64
	MaxLat  float64
	MinLng  float64
	MaxLng  float64
}

func (r Region) contains(lat, lng float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lng >= r.MinLng && lng <= r.MaxLng
}

// Static resolves coordinates offline from configured bounding boxes. The
// first matching region wins.
type Static struct {
	Regions []Region
}

var _ zt.Geocoder = (*Static)(nil)

func (s *Static) Reverse(ctx context.Context, lat, lng float64) (*zt.Place, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, r := range s.Regions {
		if r.contains(lat, lng) {
			return &zt.Place{Country: r.Country, City: r.City}, nil
		}
	}
	return nil, fmt.Errorf("%w: no region contains %.5f,%.5f", zt.ErrGeocodeUnavailable, lat, lng)
}

// DefaultNominatimURL is the public OpenStreetMap instance.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim reverse geocodes through a Nominatim HTTP endpoint.
type Nominatim struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

var _ zt.Geocoder = (*Nominatim)(nil)

// NewNominatim creates a Nominatim geocoder. Nominatim's usage policy
// requires an identifying User-Agent.
func NewNominatim(baseURL, userAgent string, client *http.Client) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = "zt-go"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Nominatim{baseURL: strings.TrimRight(baseURL, "/"), userAgent: userAgent, http: client}
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		CountryCode string `json:"country_code"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
	} `json:"address"`
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lng float64) (*zt.Place, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("zoom", "10")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", zt.ErrGeocodeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: nominatim returned status %d", zt.ErrGeocodeUnavailable, resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding nominatim response: %w", zt.ErrGeocodeUnavailable, err)
	}
	if body.Error != "" || body.Address.CountryCode == "" {
		return nil, fmt.Errorf("%w: no country at %.5f,%.5f", zt.ErrGeocodeUnavailable, lat, lng)
	}

	city := body.Address.City
	if city == "" {
		city = body.Address.Town
	}
	if city == "" {
		city = body.Address.Village
	}
	return &zt.Place{Country: strings.ToUpper(body.Address.CountryCode), City: city}, nil
}
