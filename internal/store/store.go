// Package store is the GORM/Postgres persistence layer for every
// aggregate in spec §3, mirroring the teacher's internal/store
// package: a single Store that owns the *gorm.DB and hands out
// narrow per-aggregate repositories.
package store

import (
	"fmt"
	"time"

	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	prometheus_plugin "gorm.io/plugin/prometheus"
)

// Store is the facade the rest of the application depends on. It is
// constructed once at startup and passed in explicitly (spec §9:
// avoid ambient globals) rather than reached via a package-level
// singleton.
type Store struct {
	db *gorm.DB
	log logrus.FieldLogger

	Devices     *DeviceRepository
	Heartbeats  *HeartbeatRepository
	Partitions  *PartitionRepository
	Commands    *CommandRepository
	Alerts      *AlertRepository
	Deployments *DeploymentRepository
	Apks        *ApkRepository
	Queue       *QueueRepository
	Settings    *SettingsRepository
}

// InitDB opens the Postgres connection pool per spec §5 (pool ≈50 +
// overflow ≈50, recycled hourly; connections are not pinged before
// checkout) and wires the GORM
// Prometheus plugin for pool/query metrics, exactly as the teacher
// wires gorm.io/plugin/prometheus into its store.
func InitDB(cfg *config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	gormLogLevel := logger.Warn
	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(100) // pool (≈50) + overflow (≈50), spec §5
	sqlDB.SetMaxIdleConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.Use(prometheus_plugin.New(prometheus_plugin.Config{
		DBName:          "mdm",
		RefreshInterval: 15,
	})); err != nil {
		log.WithError(err).Warn("failed to register gorm prometheus plugin")
	}

	return db, nil
}

// NewStore builds a Store over an already-opened *gorm.DB.
func NewStore(db *gorm.DB, log logrus.FieldLogger) *Store {
	return &Store{
		db:          db,
		log:         log,
		Devices:     &DeviceRepository{db: db},
		Heartbeats:  &HeartbeatRepository{db: db, log: log},
		Partitions:  &PartitionRepository{db: db},
		Commands:    &CommandRepository{db: db},
		Alerts:      &AlertRepository{db: db},
		Deployments: &DeploymentRepository{db: db},
		Apks:        &ApkRepository{db: db},
		Queue:       &QueueRepository{db: db},
		Settings:    &SettingsRepository{db: db},
	}
}

// AutoMigrate creates/updates the schema for every model except the
// heartbeat log, whose per-day tables are owned by the partition
// manager (internal/partition).
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&model.Device{},
		&model.DeviceLastStatus{},
		&model.PartitionMeta{},
		&model.CommandRecord{},
		&model.CommandResult{},
		&model.AlertState{},
		&model.DeploymentRun{},
		&model.DeploymentBatch{},
		&model.DeploymentBatchDevice{},
		&model.ApkVersion{},
		&model.ApkInstallation{},
		&model.PurgeJob{},
		&model.DeviceSelection{},
		&model.DiscordSettings{},
	)
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PoolStats returns the underlying sql.DB connection pool stats, used
// to feed the DB-pool utilization gauges (spec §5).
func (s *Store) PoolStats() (inUse, maxOpen int, err error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return 0, 0, err
	}
	stats := sqlDB.Stats()
	return stats.InUse, stats.MaxOpenConnections, nil
}
