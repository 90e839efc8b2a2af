package alert

import (
	"testing"
	"time"

	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/stretchr/testify/assert"
)

// TestAdvanceStateRaisesImmediatelyWithoutConsecutiveRequirement covers
// OFFLINE/LOW_BATTERY (and UNITY_DOWN when the consecutive flag is
// off): ok -> raised fires on the very first active tick (spec §4.6,
// §8 scenario 3: "OFFLINE raised at t=0").
func TestAdvanceStateRaisesImmediatelyWithoutConsecutiveRequirement(t *testing.T) {
	st := &model.AlertState{State: model.AlertOK}
	transitioned, recovered := advanceState(st, true, false, time.Now().UTC())
	assert.True(t, transitioned)
	assert.False(t, recovered)
	assert.Equal(t, model.AlertRaised, st.State)
}

// TestAdvanceStateRequiresTwoActiveTicksToRaise covers UNITY_DOWN under
// UNITY_DOWN_REQUIRE_CONSECUTIVE: the only case that goes through
// pending (spec §4.6 line 112).
func TestAdvanceStateRequiresTwoActiveTicksToRaise(t *testing.T) {
	st := &model.AlertState{State: model.AlertOK}
	now := time.Now().UTC()

	transitioned, recovered := advanceState(st, true, true, now)
	assert.False(t, transitioned)
	assert.False(t, recovered)
	assert.Equal(t, model.AlertPending, st.State)

	transitioned, recovered = advanceState(st, true, true, now.Add(time.Minute))
	assert.True(t, transitioned)
	assert.False(t, recovered)
	assert.Equal(t, model.AlertRaised, st.State)
}

func TestAdvanceStateRecoversFromRaised(t *testing.T) {
	st := &model.AlertState{State: model.AlertRaised}
	transitioned, recovered := advanceState(st, false, false, time.Now().UTC())
	assert.True(t, transitioned)
	assert.True(t, recovered)
	assert.Equal(t, model.AlertOK, st.State)
}

func TestAdvanceStatePendingDropsBackToOKWithoutNotifying(t *testing.T) {
	st := &model.AlertState{State: model.AlertPending}
	transitioned, _ := advanceState(st, false, true, time.Now().UTC())
	assert.False(t, transitioned)
	assert.Equal(t, model.AlertOK, st.State)
}
