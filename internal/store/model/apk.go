package model

// ApkVersion is a stored APK artifact (spec §3, §4.2). (PackageName,
// VersionCode) is unique.
type ApkVersion struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	PackageName string `gorm:"type:varchar(255);not null;uniqueIndex:idx_pkg_version"`
	VersionCode int    `gorm:"not null;uniqueIndex:idx_pkg_version"`
	VersionName string `gorm:"type:varchar(64)"`
	FilePath    string `gorm:"type:text;not null"`
	FileSize    int64  `gorm:"not null"`
	SHA256      string `gorm:"type:varchar(64)"`
	IsActive    bool   `gorm:"default:true"`
}

func (ApkVersion) TableName() string { return "apk_versions" }

// ApkInstallation is a per-device installation attempt with download
// telemetry, FK'd to the owning run/batch by id (spec §3).
type ApkInstallation struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	DeviceID     string `gorm:"type:varchar(64);not null;index"`
	ApkVersionID string `gorm:"type:varchar(64);not null"`
	RunID        string `gorm:"type:varchar(64);index"`
	BatchID      string `gorm:"type:varchar(64);index"`
	RequestID    string `gorm:"type:varchar(64);index"`
	DownloadMs   *int64
	DownloadedBytes *int64
	Outcome      string `gorm:"type:varchar(32)"`
}

func (ApkInstallation) TableName() string { return "apk_installations" }
