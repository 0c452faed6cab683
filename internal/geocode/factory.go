package geocode

import (
	"fmt"

	"zt-go/internal/config"
	"zt-go/internal/zt"
)

// NewGeocoderFromConfig creates the geocoder selected by the geocoder
// config type.
func NewGeocoderFromConfig(cfg config.GeocoderConfig) (zt.Geocoder, error) {
	switch cfg.Type {
	case "none", "":
		return Noop{}, nil
	case "nominatim":
		return NewNominatim(cfg.URL, cfg.UserAgent, nil), nil
	case "static":
		if len(cfg.Regions) == 0 {
			return nil, fmt.Errorf("static geocoder requires at least one region")
		}
		s := &Static{Regions: make([]Region, len(cfg.Regions))}
		for i, r := range cfg.Regions {
			if r.MinLat > r.MaxLat || r.MinLng > r.MaxLng {
				return nil, fmt.Errorf("region %d (%s): min bounds exceed max bounds", i, r.Country)
			}
			s.Regions[i] = Region{
				Country: r.Country,
				City:    r.City,
				MinLat:  r.MinLat,
				MaxLat:  r.MaxLat,
				MinLng:  r.MinLng,
				MaxLng:  r.MaxLng,
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown geocoder type: %s", cfg.Type)
	}
}
