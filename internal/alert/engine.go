// Package alert implements the alert engine (spec §4.6): rule
// evaluation against the latest device status, a debounced
// ok -> pending -> raised state machine, and a suppression pipeline
// (per-device cooldown, global rate limit, rollup aggregation) in
// front of webhook delivery and optional auto-remediation. Bounded
// concurrency across devices uses golang.org/x/sync/errgroup, the
// same package the teacher pulls in transitively for its Kubernetes
// client-go tooling, put to direct use here.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/dispatch"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const maxConcurrentEvaluations = 8

// Condition evaluation result for one device.
type evaluation struct {
	deviceID  string
	condition model.AlertCondition
	active    bool
	value     string
}

// Engine is an explicit Application-owned collaborator (spec §9).
type Engine struct {
	db          *gorm.DB
	devices     *store.DeviceRepository
	heartbeats  *store.HeartbeatRepository
	alerts      *store.AlertRepository
	dispatcher  *dispatch.Dispatcher
	notifier    Notifier
	cfg         *config.Config
	log         logrus.FieldLogger

	suppressor      *suppressor
	discordSettings *discordSettingsCache
}

// Notifier delivers a raised/recovered alert to an external channel
// (Discord webhook in production).
type Notifier interface {
	Notify(ctx context.Context, alert Notification) error
}

type Notification struct {
	DeviceID    string
	Condition   model.AlertCondition
	Recovered   bool
	Value       string
	RollupCount int
}

func NewEngine(db *gorm.DB, devices *store.DeviceRepository, heartbeats *store.HeartbeatRepository, alerts *store.AlertRepository, settings *store.SettingsRepository, dispatcher *dispatch.Dispatcher, notifier Notifier, cfg *config.Config, log logrus.FieldLogger) *Engine {
	return &Engine{
		db:              db,
		devices:         devices,
		heartbeats:      heartbeats,
		alerts:          alerts,
		dispatcher:      dispatcher,
		notifier:        notifier,
		cfg:             cfg,
		log:             log,
		suppressor:      newSuppressor(cfg),
		discordSettings: newDiscordSettingsCache(settings),
	}
}

// RunLoop evaluates all devices every 60s until ctx is canceled (spec
// §4.6, §5).
func (e *Engine) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.EvaluateAll(ctx); err != nil {
				e.log.WithError(err).Warn("alert evaluation tick failed")
			}
		}
	}
}

// EvaluateAll fans out evaluation across all known devices with
// bounded concurrency; each condition is processed on its own (see
// processCondition) and a failure is logged, so one condition's or
// device's failure does not stop the others (spec §4.6, §9).
func (e *Engine) EvaluateAll(ctx context.Context) error {
	statuses, err := e.heartbeats.ListLastStatuses(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentEvaluations)

	for i := range statuses {
		st := statuses[i]
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return e.evaluateDevice(gctx, st)
		})
	}

	return g.Wait()
}

func (e *Engine) evaluateDevice(ctx context.Context, st model.DeviceLastStatus) error {
	evals := e.evaluateConditions(st)
	for _, ev := range evals {
		if err := e.processCondition(ctx, ev); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"device_id": ev.deviceID,
				"condition": ev.condition,
			}).Warn("alert condition processing failed")
		}
	}
	return nil
}

func (e *Engine) evaluateConditions(st model.DeviceLastStatus) []evaluation {
	now := time.Now().UTC()
	offlineCutoff := now.Add(-time.Duration(e.cfg.Alerts.OfflineMinutes) * time.Minute)

	evals := []evaluation{
		{
			deviceID:  st.DeviceID,
			condition: model.ConditionOffline,
			active:    st.LastTs.Before(offlineCutoff),
			value:     st.LastTs.Format(time.RFC3339),
		},
		{
			deviceID:  st.DeviceID,
			condition: model.ConditionLowBattery,
			active:    st.BatteryPct > 0 && st.BatteryPct <= e.cfg.Alerts.LowBatteryPct,
			value:     fmt.Sprintf("%d%%", st.BatteryPct),
		},
	}

	evals = append(evals, evaluation{
		deviceID:  st.DeviceID,
		condition: model.ConditionUnityDown,
		active:    st.UnityRunning != nil && !*st.UnityRunning,
		value:     fmt.Sprintf("%v", st.UnityRunning),
	})

	return evals
}

// processCondition drives the ok -> pending -> raised state machine
// and, on a raise or recovery, runs the suppression pipeline before
// notifying. The step is wrapped in alerts.WithTx, but its reads and
// writes go through the repository's own connection rather than txDB,
// so each write commits on its own and the step is not rolled back as
// a unit. No write is shared with sibling conditions/devices evaluated
// in the same tick (spec §4.6, §9).
func (e *Engine) processCondition(ctx context.Context, ev evaluation) error {
	return e.alerts.WithTx(ctx, func(txDB *gorm.DB) error {
		st, err := e.alerts.GetOrInit(ctx, ev.deviceID, ev.condition)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		requireConsecutive := ev.condition == model.ConditionUnityDown && e.cfg.Alerts.UnityDownRequireConsecutive
		transitioned, recovered := advanceState(st, ev.active, requireConsecutive, now)
		st.LastValue = ev.value
		st.UpdatedAt = now

		if err := e.alerts.Save(ctx, st); err != nil {
			return err
		}

		if !transitioned {
			return nil
		}

		if recovered {
			return e.deliver(ctx, ev, st, true)
		}
		return e.deliver(ctx, ev, st, false)
	})
}

// advanceState applies the ok -> (pending ->) raised machine (spec
// §4.6): ok -> raised fires directly on the first active evaluation,
// except when requireConsecutive is set, in which case it transitions
// through pending first and needs a second consecutive active
// evaluation to raise (UNITY_DOWN under UNITY_DOWN_REQUIRE_CONSECUTIVE
// only — OFFLINE and LOW_BATTERY always raise on the first tick). Any
// "inactive" evaluation while not ok recovers it immediately. Returns
// whether a notification-worthy transition happened and whether it
// was a recovery.
func advanceState(st *model.AlertState, active, requireConsecutive bool, now time.Time) (transitioned, recovered bool) {
	switch st.State {
	case model.AlertOK:
		if !active {
			return false, false
		}
		if requireConsecutive {
			st.State = model.AlertPending
			st.ConditionStartedAt = &now
			return false, false
		}
		st.State = model.AlertRaised
		st.LastRaisedAt = &now
		return true, false
	case model.AlertPending:
		if active {
			st.State = model.AlertRaised
			st.LastRaisedAt = &now
			return true, false
		}
		st.State = model.AlertOK
		st.ConditionStartedAt = nil
		return false, false
	case model.AlertRaised:
		if !active {
			st.State = model.AlertOK
			st.LastRecoveredAt = &now
			st.ConditionClearedAt = &now
			return true, true
		}
		return false, false
	}
	return false, false
}

// deliver runs the suppression pipeline and, if admitted, sends the
// notification. Per spec §4.6 step 1, cooldown_until is only stamped
// "on successful send" — a drop by the global cap or rollup, or a
// failed webhook POST, must not start a cooldown window or it would
// silently swallow the next real raise.
func (e *Engine) deliver(ctx context.Context, ev evaluation, st *model.AlertState, recovered bool) error {
	now := time.Now().UTC()

	if !recovered && st.CooldownUntil != nil && now.Before(*st.CooldownUntil) {
		return nil
	}

	if !e.discordSettings.IsEnabled(ctx) {
		return nil
	}

	allowed, rolledUp := e.suppressor.admit(ev.deviceID, ev.condition, now)
	if !allowed {
		return nil
	}

	note := Notification{
		DeviceID:    ev.deviceID,
		Condition:   ev.condition,
		Recovered:   recovered,
		Value:       ev.value,
		RollupCount: rolledUp,
	}

	if err := e.notifier.Notify(ctx, note); err != nil {
		e.log.WithError(err).Warn("alert webhook delivery failed")
	} else if !recovered {
		cooldownUntil := now.Add(e.cfg.AlertCooldown())
		st.CooldownUntil = &cooldownUntil
		if err := e.alerts.Save(ctx, st); err != nil {
			return err
		}
	}

	if !recovered && e.cfg.Alerts.EnableAutoRemediation && ev.condition == model.ConditionUnityDown {
		e.remediate(ctx, ev.deviceID)
	}

	return nil
}

// InvalidateDiscordSettingsCache forces the next delivery to re-read
// the Discord-enabled toggle from the database instead of the cached
// value, called after an admin updates the setting.
func (e *Engine) InvalidateDiscordSettingsCache() {
	e.discordSettings.Invalidate()
}

func (e *Engine) remediate(ctx context.Context, deviceID string) {
	requestID := fmt.Sprintf("auto-remediate-%s-%d", deviceID, time.Now().UTC().UnixNano())
	if _, err := e.dispatcher.Dispatch(ctx, requestID, deviceID, "relaunch_unity", nil); err != nil {
		e.log.WithError(err).WithField("device_id", deviceID).Warn("auto-remediation dispatch failed")
	}
}
