package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Company represents a tenant that owns devices and groups.
type Company struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Name       string    `json:"name" gorm:"uniqueIndex;not null"`
	LicenseKey string    `json:"license_key" gorm:"uniqueIndex;not null"`
	IsAdmin    bool      `json:"is_admin" gorm:"default:false"`
	Active     bool      `json:"active" gorm:"default:true"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Device represents a managed display unit (kiosk).
type Device struct {
	ID                 uint       `json:"id" gorm:"primaryKey"`
	DeviceUID          string     `json:"device_uid" gorm:"index"`
	MAC                string     `json:"mac" gorm:"uniqueIndex;not null"` // normalized: lowercase, no separators
	Hostname           string     `json:"hostname" gorm:"index"`
	CompanyID          *uint      `json:"company_id" gorm:"index"`
	GroupID            *uint      `json:"group_id" gorm:"index"`
	Status             string     `json:"status" gorm:"index;not null;default:pending"`
	HWInfo             string     `json:"hw_info"`
	Version            string     `json:"version"`
	ScreenResolution   string     `json:"screen_resolution"`
	ScreenStatus       string     `json:"screen_status"`
	LastSeen           *time.Time `json:"last_seen"`
	LastSync           *time.Time `json:"last_sync"`
	LastHeartbeat      *time.Time `json:"last_heartbeat"`
	UpgradeStartedAt   *time.Time `json:"upgrade_started_at"`
	SyncIntervalSecs   int        `json:"sync_interval_seconds" gorm:"default:60"`
	DebugMode          bool       `json:"debug_mode" gorm:"default:false"`
	ScreenshotEnabled  bool       `json:"screenshot_enabled" gorm:"default:false"`
	ScreenshotInterval int        `json:"screenshot_interval_seconds" gorm:"default:300"`
	ScreenshotReq      bool       `json:"screenshot_requested" gorm:"default:false"`
	ScreenshotReqUntil *time.Time `json:"screenshot_requested_until"`
	ScreenshotPath     string     `json:"screenshot_path"`
	ScreenshotAt       *time.Time `json:"screenshot_at"`
	LocalConfigTS      *time.Time `json:"local_config_timestamp"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Company            *Company   `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
}

// Group is a company-scoped collection of devices sharing schedule config.
type Group struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CompanyID uint      `json:"company_id" gorm:"index;not null"`
	Name      string    `json:"name" gorm:"not null"`
	IsDefault bool      `json:"is_default" gorm:"default:false"`
	Priority  int       `json:"priority" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoopStyle is a named ordered playlist of content items. Exactly one
// loop style per group is the default/base loop; time blocks may never
// reference it.
type LoopStyle struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	GroupID   uint          `json:"group_id" gorm:"index;not null"`
	Name      string        `json:"name" gorm:"not null"`
	IsDefault bool          `json:"is_default" gorm:"default:false"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Items     []ContentItem `json:"items,omitempty" gorm:"foreignKey:LoopStyleID"`
}

// ContentItem is one entry of a loop style. Settings is an opaque
// document interpreted by the module renderer, not the core.
type ContentItem struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	LoopStyleID  uint            `json:"loop_style_id" gorm:"index;not null"`
	ModuleRef    string          `json:"module_ref" gorm:"not null"`
	DurationSecs int             `json:"duration_seconds" gorm:"default:10"`
	Settings     json.RawMessage `json:"settings" gorm:"type:jsonb"`
	DisplayOrder int             `json:"display_order" gorm:"default:0"`
	Active       bool            `json:"active" gorm:"default:true"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DeviceModule assigns content directly to one device, bypassing its
// group's loops. A device with any active assignment plays those items
// instead of the group schedule.
type DeviceModule struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	DeviceID     uint            `json:"device_id" gorm:"index;not null"`
	ModuleRef    string          `json:"module_ref" gorm:"not null"`
	DurationSecs int             `json:"duration_seconds" gorm:"default:10"`
	Settings     json.RawMessage `json:"settings" gorm:"type:jsonb"`
	DisplayOrder int             `json:"display_order" gorm:"default:0"`
	Active       bool            `json:"active" gorm:"default:true"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TimeBlock activates a non-default loop style for a time window,
// either weekly-recurring or on a specific date. EndTime <= StartTime
// denotes a window wrapping past midnight.
type TimeBlock struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	GroupID      uint       `json:"group_id" gorm:"index;not null"`
	LoopStyleID  uint       `json:"loop_style_id" gorm:"index;not null"`
	Type         string     `json:"type" gorm:"not null"`
	DaysMask     string     `json:"days_mask"`      // comma-separated ISO weekdays, weekly only
	SpecificDate *time.Time `json:"specific_date"`  // dateSpecific only
	StartTime    string     `json:"start_time" gorm:"not null"` // "HH:MM"
	EndTime      string     `json:"end_time" gorm:"not null"`
	Priority     int        `json:"priority" gorm:"default:0"`
	DisplayOrder int        `json:"display_order" gorm:"default:0"`
	Active       bool       `json:"active" gorm:"default:true"`
	Locked       bool       `json:"locked" gorm:"default:false"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HealthReport holds the latest health submission per device (upserted).
type HealthReport struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	DeviceID  uint            `json:"device_id" gorm:"uniqueIndex;not null"`
	Status    string          `json:"status" gorm:"not null"`
	System    json.RawMessage `json:"system" gorm:"type:jsonb"`
	Services  json.RawMessage `json:"services" gorm:"type:jsonb"`
	Network   json.RawMessage `json:"network" gorm:"type:jsonb"`
	Sync      json.RawMessage `json:"sync" gorm:"type:jsonb"`
	Timestamp time.Time       `json:"timestamp"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// InstallProgress holds the single current install state per device.
type InstallProgress struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	DeviceID   uint            `json:"device_id" gorm:"uniqueIndex;not null"`
	Phase      string          `json:"phase"`
	Step       int             `json:"step"`
	Total      int             `json:"total"`
	Percent    int             `json:"percent"`
	State      string          `json:"state" gorm:"index;not null"`
	Message    string          `json:"message"`
	ETASeconds *int            `json:"eta_seconds"`
	Payload    json.RawMessage `json:"payload" gorm:"type:jsonb"`
	ReportedAt time.Time       `json:"reported_at" gorm:"index"`
}

// MigrationRequest is a pending transfer of a device to another company.
// Created externally, consumed exactly once by the sync flow.
type MigrationRequest struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	DeviceID        uint       `json:"device_id" gorm:"index;not null"`
	SourceCompanyID *uint      `json:"source_company_id"`
	TargetCompanyID uint       `json:"target_company_id" gorm:"index;not null"`
	Status          string     `json:"status" gorm:"index;not null;default:queued"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SyncLog records one sync-related action for a device. Screenshot
// history lives here as action="screenshot" rows.
type SyncLog struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	DeviceID  uint            `json:"device_id" gorm:"index;not null"`
	Action    string          `json:"action" gorm:"index;not null"`
	Details   json.RawMessage `json:"details" gorm:"type:jsonb"`
	Timestamp time.Time       `json:"timestamp" gorm:"index"`
}

// DeviceLog is one log entry uploaded by a device.
type DeviceLog struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	DeviceID  uint            `json:"device_id" gorm:"index;not null"`
	LogType   string          `json:"log_type"`
	LogLevel  string          `json:"log_level"`
	Message   string          `json:"message" gorm:"not null"`
	Details   json.RawMessage `json:"details" gorm:"type:jsonb"`
	CreatedAt time.Time       `json:"created_at" gorm:"index"`
}

// APIToken is a bearer credential scoped to a company.
type APIToken struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	Token      string     `json:"token" gorm:"uniqueIndex;not null"`
	CompanyID  uint       `json:"company_id" gorm:"index;not null"`
	Name       string     `json:"name"`
	Active     bool       `json:"active" gorm:"default:true"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Company    Company    `json:"-" gorm:"foreignKey:CompanyID"`
}

// TableName overrides for GORM
func (Company) TableName() string          { return "companies" }
func (Device) TableName() string           { return "kiosks" }
func (Group) TableName() string            { return "kiosk_groups" }
func (LoopStyle) TableName() string        { return "kiosk_group_loops" }
func (ContentItem) TableName() string      { return "kiosk_group_loop_items" }
func (DeviceModule) TableName() string     { return "kiosk_modules" }
func (TimeBlock) TableName() string        { return "kiosk_group_time_blocks" }
func (HealthReport) TableName() string     { return "kiosk_health" }
func (InstallProgress) TableName() string  { return "kiosk_install_progress" }
func (MigrationRequest) TableName() string { return "kiosk_migrations" }
func (SyncLog) TableName() string          { return "sync_logs" }
func (DeviceLog) TableName() string        { return "kiosk_logs" }
func (APIToken) TableName() string         { return "api_tokens" }

// Constants for business processes
const (
	// Device statuses
	StatusPending   = "pending"
	StatusOnline    = "online"
	StatusWarning   = "warning"
	StatusOffline   = "offline"
	StatusError     = "error"
	StatusUpgrading = "upgrading"

	// Time block types
	BlockTypeWeekly       = "weekly"
	BlockTypeDateSpecific = "dateSpecific"

	// Migration statuses
	MigrationQueued     = "queued"
	MigrationInProgress = "in_progress"
	MigrationCompleted  = "completed"

	// Install progress states
	InstallStateRunning   = "running"
	InstallStateCompleted = "completed"
	InstallStateFailed    = "failed"

	// Health report categories
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"

	// Sync log actions
	SyncActionSync       = "sync"
	SyncActionScreenshot = "screenshot"
	SyncActionLogBatch   = "log_batch"

	// Placeholder item returned for loops with no configured content
	UnconfiguredModuleRef    = "unconfigured"
	UnconfiguredDurationSecs = 60
)

// NormalizeMAC strips separators and lowercases a MAC address so that
// "AA:BB:CC:DD:EE:FF" and "aa-bb-cc-dd-ee-ff" compare equal.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))
	mac = strings.ReplaceAll(mac, ":", "")
	mac = strings.ReplaceAll(mac, "-", "")
	return mac
}

// Weekdays parses the block's days mask into ISO weekday ordinals (1=Mon..7=Sun).
// Out-of-range entries are dropped.
func (b *TimeBlock) Weekdays() []int {
	var days []int
	for _, part := range strings.Split(b.DaysMask, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 1 || d > 7 {
			continue
		}
		days = append(days, d)
	}
	return days
}

// AllWeekdaysMask is the normalized mask covering every day of the week.
const AllWeekdaysMask = "1,2,3,4,5,6,7"
