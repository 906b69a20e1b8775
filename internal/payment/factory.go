package payment

import (
	"fmt"

	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// NewGateway constructs the payment gateway named in config.
// Called once at server startup.
func NewGateway(cfg config.PaymentConfig) (models.PaymentGateway, error) {
	switch cfg.Gateway {
	case "simulated":
		return NewSimulatedGateway(), nil
	case "http":
		return NewHTTPGateway(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q: must be one of simulated, http", cfg.Gateway)
	}
}
