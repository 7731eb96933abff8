package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSurgeMultiplier(t *testing.T) {
	s := &PricingService{cfg: DefaultPricingConfig()}

	tests := []struct {
		name           string
		supply, demand int
		want           float64
	}{
		{"quiet", 0, 0, 1.0},
		{"no supply", 0, 3, 1.5},
		{"balanced", 10, 10, 1.0},
		{"low surge", 10, 12, 1.1},
		{"medium surge", 10, 15, 1.25},
		{"high surge", 10, 20, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.surgeMultiplier(tt.supply, tt.demand))
		})
	}
}

func TestSurgeMultiplier_CappedByMaxSurge(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MaxSurge = 1.2
	s := &PricingService{cfg: cfg}

	assert.Equal(t, 1.2, s.surgeMultiplier(10, 15))
	assert.Equal(t, 1.1, s.surgeMultiplier(10, 12))
}
