package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowDirectionFromRates(t *testing.T) {
	cases := []struct {
		name     string
		bid, ask float64
		want     FlowDirection
	}{
		{"strong buy", 30, 10, FlowStrongBuy},
		{"moderate buy", 15, 10, FlowModerateBuy},
		{"neutral high", 11, 10, FlowNeutral},
		{"neutral", 10, 10, FlowNeutral},
		{"moderate sell", 7, 10, FlowModerateSell},
		{"strong sell", 4, 10, FlowStrongSell},
		{"ask zero", 5, 0, FlowStrongBuy},
		{"bid zero", 0, 5, FlowStrongSell},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FlowDirectionFromRates(tc.bid, tc.ask))
		})
	}
}

func TestSeverityFromConfidence(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFromConfidence(0.96))
	assert.Equal(t, SeverityHigh, SeverityFromConfidence(0.90))
	assert.Equal(t, SeverityMedium, SeverityFromConfidence(0.75))
	assert.Equal(t, SeverityLow, SeverityFromConfidence(0.5))
}

func TestHealthLevelFromScore(t *testing.T) {
	assert.Equal(t, HealthExcellent, HealthLevelFromScore(85))
	assert.Equal(t, HealthExcellent, HealthLevelFromScore(80))
	assert.Equal(t, HealthGood, HealthLevelFromScore(61))
	assert.Equal(t, HealthFair, HealthLevelFromScore(59))
	assert.Equal(t, HealthPoor, HealthLevelFromScore(39))
	assert.Equal(t, HealthCritical, HealthLevelFromScore(19))
}

func TestImpactFromDeficit(t *testing.T) {
	assert.Equal(t, ImpactFastMovement, ImpactFromDeficit(80))
	assert.Equal(t, ImpactModerateMovement, ImpactFromDeficit(41))
	assert.Equal(t, ImpactNegligible, ImpactFromDeficit(40))
}
