package advisor

import (
	"fmt"

	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// New constructs the quality provider and negotiator named in config.
// Called once at server startup.
func New(cfg config.AdvisorConfig, qualityThreshold float64) (models.QualityProvider, models.Negotiator, error) {
	switch cfg.Provider {
	case "policy", "static":
		return NewStaticQuality(cfg.StaticScore, qualityThreshold), NewPolicyNegotiator(), nil
	case "http":
		c := NewHTTPClient(cfg.BaseURL, cfg.Timeout, qualityThreshold)
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown advisor provider %q: must be one of policy, http, static", cfg.Provider)
	}
}
