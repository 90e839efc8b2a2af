package store

import (
	"context"
	"errors"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
)

type ApkRepository struct {
	db *gorm.DB
}

func (r *ApkRepository) Create(ctx context.Context, v *model.ApkVersion) error {
	err := r.db.WithContext(ctx).Create(v).Error
	if err != nil && !isUniqueViolation(err) {
		return apperr.Wrap(apperr.Internal, "creating apk version", err)
	}
	return nil
}

func (r *ApkRepository) Get(ctx context.Context, id string) (*model.ApkVersion, error) {
	var v model.ApkVersion
	err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "apk version not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching apk version", err)
	}
	return &v, nil
}

func (r *ApkRepository) GetByPackageVersion(ctx context.Context, pkg string, versionCode int) (*model.ApkVersion, error) {
	var v model.ApkVersion
	err := r.db.WithContext(ctx).First(&v, "package_name = ? AND version_code = ?", pkg, versionCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "apk version not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching apk version", err)
	}
	return &v, nil
}

func (r *ApkRepository) LatestActive(ctx context.Context, pkg string) (*model.ApkVersion, error) {
	var v model.ApkVersion
	err := r.db.WithContext(ctx).
		Where("package_name = ? AND is_active = ?", pkg, true).
		Order("version_code DESC").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "no active apk version")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching latest apk version", err)
	}
	return &v, nil
}

func (r *ApkRepository) List(ctx context.Context) ([]model.ApkVersion, error) {
	var rows []model.ApkVersion
	err := r.db.WithContext(ctx).Order("package_name, version_code DESC").Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing apk versions", err)
	}
	return rows, nil
}

func (r *ApkRepository) RecordInstallation(ctx context.Context, in *model.ApkInstallation) error {
	if err := r.db.WithContext(ctx).Create(in).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "recording apk installation", err)
	}
	return nil
}

func (r *ApkRepository) ListInstallationsByBatch(ctx context.Context, batchID string) ([]model.ApkInstallation, error) {
	var rows []model.ApkInstallation
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing batch installations", err)
	}
	return rows, nil
}
