package store

import (
	"context"
	"errors"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AlertRepository struct {
	db *gorm.DB
}

// GetOrInit returns the AlertState row for (deviceID, condition),
// creating an "ok" row on first touch so the evaluation loop always
// has somewhere to track the debounce/cooldown state (spec §4.6).
func (r *AlertRepository) GetOrInit(ctx context.Context, deviceID string, cond model.AlertCondition) (*model.AlertState, error) {
	var st model.AlertState
	err := r.db.WithContext(ctx).First(&st, "device_id = ? AND condition = ?", deviceID, cond).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		st = model.AlertState{DeviceID: deviceID, Condition: cond, State: model.AlertOK}
		if createErr := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&st).Error; createErr != nil {
			return nil, apperr.Wrap(apperr.Internal, "initializing alert state", createErr)
		}
		return &st, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching alert state", err)
	}
	return &st, nil
}

func (r *AlertRepository) Save(ctx context.Context, st *model.AlertState) error {
	return r.db.WithContext(ctx).Save(st).Error
}

func (r *AlertRepository) ListRaised(ctx context.Context) ([]model.AlertState, error) {
	var rows []model.AlertState
	err := r.db.WithContext(ctx).Where("state = ?", model.AlertRaised).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing raised alerts", err)
	}
	return rows, nil
}

func (r *AlertRepository) ListByDevice(ctx context.Context, deviceID string) ([]model.AlertState, error) {
	var rows []model.AlertState
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing device alert states", err)
	}
	return rows, nil
}

// WithTx runs fn inside its own transaction, giving each alert its own
// savepoint-style isolation (spec §4.6, §9) so one alert's failure to
// deliver does not roll back another alert's state transition in the
// same evaluation tick.
func (r *AlertRepository) WithTx(ctx context.Context, fn func(txDB *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
