package geocode

import (
	"context"
	"testing"

	"zt-go/internal/config"
)

func TestNewGeocoderFromConfig(t *testing.T) {
	t.Run("static regions", func(t *testing.T) {
		g, err := NewGeocoderFromConfig(config.GeocoderConfig{
			Type: "static",
			Regions: []config.RegionConfig{
				{Country: "DE", City: "Berlin", MinLat: 52.3, MaxLat: 52.7, MinLng: 13.0, MaxLng: 13.8},
			},
		})
		if err != nil {
			t.Fatalf("NewGeocoderFromConfig() error = %v", err)
		}
		place, err := g.Reverse(context.Background(), 52.52, 13.40)
		if err != nil {
			t.Fatalf("Reverse() error = %v", err)
		}
		if place.Country != "DE" || place.City != "Berlin" {
			t.Errorf("Reverse() = %+v, want DE/Berlin", place)
		}
	})

	tests := []struct {
		name    string
		cfg     config.GeocoderConfig
		wantErr bool
	}{
		{name: "none", cfg: config.GeocoderConfig{Type: "none"}},
		{name: "nominatim", cfg: config.GeocoderConfig{Type: "nominatim", UserAgent: "zt-test"}},
		{name: "static without regions", cfg: config.GeocoderConfig{Type: "static"}, wantErr: true},
		{
			name: "inverted bounds",
			cfg: config.GeocoderConfig{Type: "static", Regions: []config.RegionConfig{
				{Country: "FR", MinLat: 49, MaxLat: 48},
			}},
			wantErr: true,
		},
		{name: "unknown", cfg: config.GeocoderConfig{Type: "oracle"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGeocoderFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGeocoderFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && g == nil {
				t.Error("NewGeocoderFromConfig() returned nil geocoder")
			}
		})
	}
}
