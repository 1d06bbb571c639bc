// Package store implements the current-state relational store: one row per
// device and per discovered interface, the authoritative answer to "is it
// up right now" (spec.md §4.5). All hot-path reads are indexed GORM queries;
// nothing here ever touches the time-series store.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/extkljajicm/branchwatch/internal/config"
)

// Store wraps a GORM connection over SQLite (single-node) or PostgreSQL (HA).
type Store struct {
	db     *gorm.DB
	driver string
}

// Open connects to the configured backend and runs AutoMigrate.
func Open(cfg config.DBConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DSN + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

// DB returns the underlying GORM handle, for packages that need query
// patterns beyond what Store exposes directly (e.g. internal/alerts).
func (s *Store) DB() *gorm.DB { return s.db }

// Driver reports which backend is active ("sqlite" or "postgres").
func (s *Store) Driver() string { return s.driver }

// Ping verifies the store is reachable, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

var ErrNotFound = errors.New("store: not found")

func convertNotFoundError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") ||
		strings.Contains(s, "duplicate key value violates unique constraint")
}

// EnabledDeviceIDs returns the ids of every enabled device in ascending id
// order.
func (s *Store) EnabledDeviceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Device{}).
		Where("enabled = ?", true).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

// EnabledDevices returns the full row for every enabled device, used by the
// ping sweep to seed its per-device state-machine snapshot without a
// round-trip per device.
func (s *Store) EnabledDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id asc").
		Find(&devices).Error
	return devices, err
}

// GetDevice fetches one device by id.
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	var d Device
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err)
	}
	return &d, nil
}

// ListDevices returns every device, for the read API's list endpoint.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := s.db.WithContext(ctx).Order("id asc").Find(&devices).Error
	return devices, err
}

// ListDeviceInterfaces returns the interfaces discovered for one device.
func (s *Store) ListDeviceInterfaces(ctx context.Context, deviceID string) ([]DeviceInterface, error) {
	var ifaces []DeviceInterface
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("if_index asc").Find(&ifaces).Error
	return ifaces, err
}

// BulkISPStatus answers "give me the ISP oper-status for this list of IPs"
// in a single indexed query (spec.md §4.5, §6, §8 scenario E). Devices not
// found are silently omitted.
type ISPStatusRow struct {
	DeviceIP     string
	ISPProvider  *string
	OperStatus   OperStatus
	IfName       string
	LastSeenAt   time.Time
}

func (s *Store) BulkISPStatus(ctx context.Context, ips []string) ([]ISPStatusRow, error) {
	if len(ips) == 0 {
		return nil, nil
	}
	var rows []ISPStatusRow
	err := s.db.WithContext(ctx).
		Table("device_interfaces").
		Select("devices.ip as device_ip, device_interfaces.isp_provider, device_interfaces.oper_status, device_interfaces.if_name, device_interfaces.last_seen_at").
		Joins("JOIN devices ON devices.id = device_interfaces.device_id").
		Where("devices.ip IN ? AND device_interfaces.interface_type = ?", ips, "isp").
		Scan(&rows).Error
	return rows, err
}
