package alert

import (
	"testing"
	"time"

	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/stretchr/testify/assert"
)

func TestSuppressorGlobalCapBlocksAfterLimit(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Alerts.GlobalCapPerMin = 2
	cfg.Alerts.RollupThreshold = 1000 // effectively disable rollup for this test
	s := newSuppressor(cfg)

	now := time.Now().UTC()
	allow1, _ := s.admit("d1", model.ConditionOffline, now)
	allow2, _ := s.admit("d2", model.ConditionOffline, now)
	allow3, _ := s.admit("d3", model.ConditionOffline, now)

	assert.True(t, allow1)
	assert.True(t, allow2)
	assert.False(t, allow3)
}

func TestSuppressorRollupAggregatesAfterThreshold(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Alerts.GlobalCapPerMin = 1000
	cfg.Alerts.RollupThreshold = 3
	s := newSuppressor(cfg)

	now := time.Now().UTC()
	allow1, roll1 := s.admit("d1", model.ConditionLowBattery, now)
	allow2, roll2 := s.admit("d2", model.ConditionLowBattery, now)
	allow3, roll3 := s.admit("d3", model.ConditionLowBattery, now)
	allow4, _ := s.admit("d4", model.ConditionLowBattery, now)

	assert.True(t, allow1)
	assert.Equal(t, 0, roll1)
	assert.True(t, allow2)
	assert.Equal(t, 0, roll2)
	assert.True(t, allow3)
	assert.Equal(t, 3, roll3)
	assert.False(t, allow4)
}
