package store

import (
	"context"
	"errors"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
)

type CommandRepository struct {
	db *gorm.DB
}

// WriteThrough inserts a CommandRecord after the push provider call has
// already completed (spec §4.5: write-after-call, never before). If
// RequestID was already seen, the existing row is returned unchanged
// and the new one is discarded — the provider was not called twice,
// so there is no double side effect to undo.
func (r *CommandRepository) WriteThrough(ctx context.Context, rec *model.CommandRecord) (*model.CommandRecord, error) {
	err := r.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return rec, nil
	}
	if isUniqueViolation(err) {
		var existing model.CommandRecord
		if findErr := r.db.WithContext(ctx).First(&existing, "request_id = ?", rec.RequestID).Error; findErr == nil {
			return &existing, nil
		}
	}
	return nil, apperr.Wrap(apperr.Internal, "writing command record", err)
}

func (r *CommandRepository) Get(ctx context.Context, requestID string) (*model.CommandRecord, error) {
	var rec model.CommandRecord
	err := r.db.WithContext(ctx).First(&rec, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "command not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching command", err)
	}
	return &rec, nil
}

func (r *CommandRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]model.CommandRecord, error) {
	var rows []model.CommandRecord
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).
		Order("ts_issued DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing device commands", err)
	}
	return rows, nil
}

// RecordResult is first-write-wins per the adopted open-question
// contract (spec §9): a second write for the same RequestID is a
// silent no-op, returning the row already on disk.
func (r *CommandRepository) RecordResult(ctx context.Context, res *model.CommandResult) (*model.CommandResult, error) {
	err := r.db.WithContext(ctx).Create(res).Error
	if err == nil {
		return res, nil
	}
	if isUniqueViolation(err) {
		var existing model.CommandResult
		if findErr := r.db.WithContext(ctx).First(&existing, "request_id = ?", res.RequestID).Error; findErr == nil {
			return &existing, nil
		}
	}
	return nil, apperr.Wrap(apperr.Internal, "recording command result", err)
}

func (r *CommandRepository) GetResult(ctx context.Context, requestID string) (*model.CommandResult, error) {
	var res model.CommandResult
	err := r.db.WithContext(ctx).First(&res, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "command result not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching command result", err)
	}
	return &res, nil
}
