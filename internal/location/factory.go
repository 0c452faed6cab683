package location

import (
	"fmt"

	"zt-go/internal/config"
	"zt-go/internal/zt"
)

// NewProviderFromConfig creates the location provider selected by the
// provider config type.
func NewProviderFromConfig(cfg config.ProviderConfig, clock zt.Clock) (zt.LocationProvider, error) {
	switch cfg.Type {
	case "none", "":
		return None{}, nil
	case "fixed":
		p, err := NewManual(cfg.Lat, cfg.Lng, cfg.Accuracy, clock)
		if err != nil {
			return nil, fmt.Errorf("fixed provider: %w", err)
		}
		return p, nil
	case "gpsd":
		return &GPSD{Addr: cfg.GPSDAddr, Clock: clock}, nil
	default:
		return nil, fmt.Errorf("unknown location provider type: %s", cfg.Type)
	}
}
