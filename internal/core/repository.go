package core

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for data access operations.
type Repository interface {
	// Device operations
	CreateDevice(ctx context.Context, device *Device) error
	UpdateDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, id uint) (*Device, error)
	GetDeviceByUID(ctx context.Context, uid string) (*Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (*Device, error)
	GetDeviceByHostname(ctx context.Context, hostname string) (*Device, error)
	ListDevicesByCompany(ctx context.Context, companyID uint) ([]*Device, error)

	// Company operations
	GetCompany(ctx context.Context, id uint) (*Company, error)
	GetCompanyByLicenseKey(ctx context.Context, key string) (*Company, error)

	// Group / schedule operations
	GetGroup(ctx context.Context, id uint) (*Group, error)
	GetDefaultGroup(ctx context.Context, companyID uint) (*Group, error)
	GetLoopStyle(ctx context.Context, id uint) (*LoopStyle, error)
	GetDefaultLoopStyle(ctx context.Context, groupID uint) (*LoopStyle, error)
	ListTimeBlocks(ctx context.Context, groupID uint) ([]TimeBlock, error)
	GetTimeBlock(ctx context.Context, id uint) (*TimeBlock, error)
	CreateTimeBlock(ctx context.Context, block *TimeBlock) error
	UpdateTimeBlock(ctx context.Context, block *TimeBlock) error
	DeleteTimeBlock(ctx context.Context, id uint) error
	GetContentMaxUpdatedAt(ctx context.Context, groupID uint) (*time.Time, error)
	ListDeviceModules(ctx context.Context, deviceID uint) ([]DeviceModule, error)
	GetDeviceContentMaxUpdatedAt(ctx context.Context, deviceID uint) (*time.Time, error)

	// Telemetry operations
	UpsertHealthReport(ctx context.Context, report *HealthReport) error
	GetHealthReportByDevice(ctx context.Context, deviceID uint) (*HealthReport, error)
	GetHealthReportsByDeviceIDs(ctx context.Context, deviceIDs []uint) ([]HealthReport, error)
	UpsertInstallProgress(ctx context.Context, progress *InstallProgress) error
	GetInstallProgressByDevice(ctx context.Context, deviceID uint) (*InstallProgress, error)
	ListInstallProgress(ctx context.Context, companyID uint, state string, limit int) ([]InstallProgress, error)

	// Migration operations
	GetQueuedMigration(ctx context.Context, deviceID, targetCompanyID uint) (*MigrationRequest, error)
	UpdateMigration(ctx context.Context, migration *MigrationRequest) error
	ListMigrations(ctx context.Context, status string) ([]MigrationRequest, error)

	// Sync log operations
	CreateSyncLog(ctx context.Context, log *SyncLog) error
	GetLatestScreenshotLog(ctx context.Context, deviceID uint) (*SyncLog, error)
	GetScreenshotLogsBeyond(ctx context.Context, deviceID uint, keep int) ([]SyncLog, error)
	DeleteSyncLogs(ctx context.Context, ids []uint) error

	// Device log operations
	CreateDeviceLog(ctx context.Context, log *DeviceLog) error
	PurgeDeviceLogsBefore(ctx context.Context, deviceID uint, cutoff time.Time) error

	// API token operations
	GetAPIToken(ctx context.Context, token string) (*APIToken, error)
	UpdateAPITokenLastUsed(ctx context.Context, token string) error
	CreateAPIToken(ctx context.Context, token *APIToken) error
	CreateCompany(ctx context.Context, company *Company) error

	// Transaction support
	WithTransaction(ctx context.Context, fn func(context.Context, Repository) error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository over the given gorm handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTransaction(ctx context.Context, fn func(c context.Context, r Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewRepository(tx))
	})
}

func (r *repository) CreateDevice(ctx context.Context, d *Device) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *repository) UpdateDevice(ctx context.Context, d *Device) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *repository) GetDevice(ctx context.Context, id uint) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Preload("Company").First(&d, id).Error
	return &d, err
}

func (r *repository) GetDeviceByUID(ctx context.Context, uid string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Preload("Company").Where("LOWER(device_uid) = LOWER(?)", uid).First(&d).Error
	return &d, err
}

func (r *repository) GetDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Preload("Company").Where("mac = ?", NormalizeMAC(mac)).First(&d).Error
	return &d, err
}

func (r *repository) GetDeviceByHostname(ctx context.Context, hostname string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Preload("Company").Where("hostname = ?", hostname).First(&d).Error
	return &d, err
}

func (r *repository) ListDevicesByCompany(ctx context.Context, companyID uint) ([]*Device, error) {
	var devices []*Device
	q := r.db.WithContext(ctx)
	if companyID > 0 {
		q = q.Where("company_id = ?", companyID)
	}
	return devices, q.Order("id").Find(&devices).Error
}

func (r *repository) GetCompany(ctx context.Context, id uint) (*Company, error) {
	var c Company
	return &c, r.db.WithContext(ctx).First(&c, id).Error
}

func (r *repository) GetCompanyByLicenseKey(ctx context.Context, key string) (*Company, error) {
	var c Company
	return &c, r.db.WithContext(ctx).Where("license_key = ?", key).First(&c).Error
}

func (r *repository) GetGroup(ctx context.Context, id uint) (*Group, error) {
	var g Group
	return &g, r.db.WithContext(ctx).First(&g, id).Error
}

func (r *repository) GetDefaultGroup(ctx context.Context, companyID uint) (*Group, error) {
	var g Group
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("is_default DESC, priority DESC, id").
		First(&g).Error
	return &g, err
}

func (r *repository) GetLoopStyle(ctx context.Context, id uint) (*LoopStyle, error) {
	var l LoopStyle
	return &l, r.db.WithContext(ctx).Preload("Items").First(&l, id).Error
}

func (r *repository) GetDefaultLoopStyle(ctx context.Context, groupID uint) (*LoopStyle, error) {
	var l LoopStyle
	err := r.db.WithContext(ctx).Preload("Items").
		Where("group_id = ? AND is_default = ?", groupID, true).
		First(&l).Error
	return &l, err
}

func (r *repository) ListTimeBlocks(ctx context.Context, groupID uint) ([]TimeBlock, error) {
	var blocks []TimeBlock
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("display_order, id").
		Find(&blocks).Error
	return blocks, err
}

func (r *repository) GetTimeBlock(ctx context.Context, id uint) (*TimeBlock, error) {
	var b TimeBlock
	return &b, r.db.WithContext(ctx).First(&b, id).Error
}

func (r *repository) CreateTimeBlock(ctx context.Context, block *TimeBlock) error {
	return r.db.WithContext(ctx).Create(block).Error
}

func (r *repository) UpdateTimeBlock(ctx context.Context, block *TimeBlock) error {
	return r.db.WithContext(ctx).Save(block).Error
}

func (r *repository) DeleteTimeBlock(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&TimeBlock{}, id).Error
}

// GetContentMaxUpdatedAt returns the newest change timestamp across the
// group's active loop content, or nil when the group has none. The max
// is read off the newest row rather than a MAX() aggregate so the value
// scans as the column's native time type on every driver.
func (r *repository) GetContentMaxUpdatedAt(ctx context.Context, groupID uint) (*time.Time, error) {
	var item ContentItem
	err := r.db.WithContext(ctx).
		Joins("JOIN kiosk_group_loops ON kiosk_group_loops.id = kiosk_group_loop_items.loop_style_id").
		Where("kiosk_group_loops.group_id = ? AND kiosk_group_loop_items.active = ?", groupID, true).
		Order("kiosk_group_loop_items.updated_at DESC").
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item.UpdatedAt, nil
}

func (r *repository) ListDeviceModules(ctx context.Context, deviceID uint) ([]DeviceModule, error) {
	var modules []DeviceModule
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND active = ?", deviceID, true).
		Order("display_order, id").
		Find(&modules).Error
	return modules, err
}

// GetDeviceContentMaxUpdatedAt is the device-scoped counterpart of
// GetContentMaxUpdatedAt, over the device's direct assignments.
func (r *repository) GetDeviceContentMaxUpdatedAt(ctx context.Context, deviceID uint) (*time.Time, error) {
	var module DeviceModule
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND active = ?", deviceID, true).
		Order("updated_at DESC").
		Take(&module).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &module.UpdatedAt, nil
}

func (r *repository) UpsertHealthReport(ctx context.Context, report *HealthReport) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		UpdateAll: true,
	}).Create(report).Error
}

func (r *repository) GetHealthReportByDevice(ctx context.Context, deviceID uint) (*HealthReport, error) {
	var h HealthReport
	return &h, r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&h).Error
}

func (r *repository) GetHealthReportsByDeviceIDs(ctx context.Context, deviceIDs []uint) ([]HealthReport, error) {
	var reports []HealthReport
	if len(deviceIDs) == 0 {
		return reports, nil
	}
	return reports, r.db.WithContext(ctx).Where("device_id IN ?", deviceIDs).Find(&reports).Error
}

func (r *repository) UpsertInstallProgress(ctx context.Context, progress *InstallProgress) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		UpdateAll: true,
	}).Create(progress).Error
}

func (r *repository) GetInstallProgressByDevice(ctx context.Context, deviceID uint) (*InstallProgress, error) {
	var p InstallProgress
	return &p, r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&p).Error
}

func (r *repository) ListInstallProgress(ctx context.Context, companyID uint, state string, limit int) ([]InstallProgress, error) {
	var rows []InstallProgress
	q := r.db.WithContext(ctx).Model(&InstallProgress{}).
		Joins("JOIN kiosks ON kiosks.id = kiosk_install_progress.device_id")
	if companyID > 0 {
		q = q.Where("kiosks.company_id = ?", companyID)
	}
	if state != "" {
		q = q.Where("kiosk_install_progress.state = ?", state)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return rows, q.Order("kiosk_install_progress.reported_at DESC").Find(&rows).Error
}

func (r *repository) GetQueuedMigration(ctx context.Context, deviceID, targetCompanyID uint) (*MigrationRequest, error) {
	var m MigrationRequest
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND target_company_id = ? AND status IN ?",
			deviceID, targetCompanyID, []string{MigrationQueued, MigrationInProgress}).
		Order("id").
		First(&m).Error
	return &m, err
}

func (r *repository) UpdateMigration(ctx context.Context, m *MigrationRequest) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *repository) ListMigrations(ctx context.Context, status string) ([]MigrationRequest, error) {
	var rows []MigrationRequest
	q := r.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return rows, q.Order("created_at DESC").Find(&rows).Error
}

func (r *repository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repository) GetLatestScreenshotLog(ctx context.Context, deviceID uint) (*SyncLog, error) {
	var log SyncLog
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND action = ?", deviceID, SyncActionScreenshot).
		Order("timestamp DESC, id DESC").
		First(&log).Error
	return &log, err
}

func (r *repository) GetScreenshotLogsBeyond(ctx context.Context, deviceID uint, keep int) ([]SyncLog, error) {
	var logs []SyncLog
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND action = ?", deviceID, SyncActionScreenshot).
		Order("timestamp DESC, id DESC").
		Offset(keep).
		Limit(100000).
		Find(&logs).Error
	return logs, err
}

func (r *repository) DeleteSyncLogs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Delete(&SyncLog{}, ids).Error
}

func (r *repository) CreateDeviceLog(ctx context.Context, log *DeviceLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repository) PurgeDeviceLogsBefore(ctx context.Context, deviceID uint, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("device_id = ? AND created_at < ?", deviceID, cutoff).
		Delete(&DeviceLog{}).Error
}

func (r *repository) GetAPIToken(ctx context.Context, token string) (*APIToken, error) {
	var t APIToken
	return &t, r.db.WithContext(ctx).Preload("Company").Where("token = ?", token).First(&t).Error
}

func (r *repository) UpdateAPITokenLastUsed(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Model(&APIToken{}).Where("token = ?", token).Update("last_used_at", time.Now()).Error
}

func (r *repository) CreateAPIToken(ctx context.Context, t *APIToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) CreateCompany(ctx context.Context, c *Company) error {
	return r.db.WithContext(ctx).Create(c).Error
}
