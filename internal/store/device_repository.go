package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
)

type DeviceRepository struct {
	db *gorm.DB
}

// Create inserts a new Device. Re-enrollment under the same id is
// swallowed as an idempotency conflict per spec §7, returning the
// existing row rather than an error.
func (r *DeviceRepository) Create(ctx context.Context, d *model.Device) (*model.Device, error) {
	err := r.db.WithContext(ctx).Create(d).Error
	if err == nil {
		return d, nil
	}
	if isUniqueViolation(err) {
		var existing model.Device
		if findErr := r.db.WithContext(ctx).First(&existing, "id = ?", d.ID).Error; findErr == nil {
			return &existing, nil
		}
	}
	return nil, apperr.Wrap(apperr.Internal, "creating device", err)
}

func (r *DeviceRepository) Get(ctx context.Context, id string) (*model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "device not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching device", err)
	}
	return &d, nil
}

// GetByTokenFingerprint is the primary device-bearer lookup key
// (spec §4.1).
func (r *DeviceRepository) GetByTokenFingerprint(ctx context.Context, fingerprint string) (*model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).First(&d, "token_fingerprint = ?", fingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.Unauthorized, "unknown device token")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "looking up device by fingerprint", err)
	}
	return &d, nil
}

// ListWithoutFingerprint supports the legacy fallback scan path when a
// device predates fingerprint backfill (spec §4.1).
func (r *DeviceRepository) ListWithoutFingerprint(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.WithContext(ctx).Where("token_fingerprint = '' OR token_fingerprint IS NULL").Find(&devices).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "scanning legacy devices", err)
	}
	return devices, nil
}

func (r *DeviceRepository) BackfillFingerprint(ctx context.Context, id, fingerprint string) error {
	return r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).
		Update("token_fingerprint", fingerprint).Error
}

func (r *DeviceRepository) List(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.WithContext(ctx).Find(&devices).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing devices", err)
	}
	return devices, nil
}

func (r *DeviceRepository) RevokeToken(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).
		Update("token_revoked_at", &now).Error
}

func (r *DeviceRepository) UpdateFCMToken(ctx context.Context, id, fcmToken string) error {
	return r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).
		Update("fcm_token", fcmToken).Error
}

func (r *DeviceRepository) UpdateSettings(ctx context.Context, id string, monitoredPackage string, thresholdMin int, monitorEnabled, autoRelaunch bool) error {
	return r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).Updates(map[string]interface{}{
		"monitored_package":     monitoredPackage,
		"monitor_threshold_min": thresholdMin,
		"monitor_enabled":       monitorEnabled,
		"auto_relaunch_enabled": autoRelaunch,
	}).Error
}

func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string, ts time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).
		Update("last_seen", ts).Error
}
