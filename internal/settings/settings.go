// Package settings supplies Kashier gateway credentials to the payment core.
package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/kashier-bridge/internal/config"
	"github.com/noah-isme/kashier-bridge/internal/payment"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Static serves gateway settings loaded once from configuration. Update
// swaps them atomically, e.g. after an admin edits the credentials.
type Static struct {
	mu       sync.RWMutex
	settings payment.GatewaySettings
}

// FromConfig builds a Static provider from the environment configuration.
func FromConfig(cfg config.Kashier) (*Static, error) {
	s := &Static{}
	if err := s.Update(payment.GatewaySettings{
		MerchantID:    cfg.MerchantID,
		Environment:   cfg.Environment,
		TestAPIKey:    cfg.TestAPIKey,
		LiveAPIKey:    cfg.LiveAPIKey,
		TestSecretKey: cfg.TestSecretKey,
		LiveSecretKey: cfg.LiveSecretKey,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Settings implements payment.SettingsProvider.
func (s *Static) Settings(context.Context) (payment.GatewaySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// Update validates and replaces the current settings.
func (s *Static) Update(next payment.GatewaySettings) error {
	next.MerchantID = strings.TrimSpace(next.MerchantID)
	next.Environment = strings.ToLower(strings.TrimSpace(next.Environment))
	if err := validate.Struct(next); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()
	return nil
}
