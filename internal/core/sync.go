package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EventPublisher pushes device lifecycle events to the message bus.
// Publishing is best-effort; failures never fail the request.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, message interface{}) error
}

// ScreenshotStore persists screenshot blobs outside the database.
type ScreenshotStore interface {
	Save(filename string, data []byte) (string, error)
	Remove(filename string) error
}

// DeviceCache caches device records keyed by normalized MAC.
type DeviceCache interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// SyncOptions carries the domain thresholds of the sync flow.
type SyncOptions struct {
	OfflineTimeout   time.Duration
	UpgradeTimeout   time.Duration
	ScreenshotKeep   int
	LogRetentionDays int
}

// DefaultSyncOptions mirror the panel-side defaults.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		OfflineTimeout:   DefaultOfflineTimeout,
		UpgradeTimeout:   DefaultUpgradeTimeout,
		ScreenshotKeep:   100,
		LogRetentionDays: 30,
	}
}

// LogEntry is one log line uploaded within a sync request.
type LogEntry struct {
	Type    string          `json:"type"`
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// SyncRequest is the unified device sync payload.
type SyncRequest struct {
	MAC                string          `json:"mac"`
	Hostname           string          `json:"hostname"`
	HWInfo             json.RawMessage `json:"hw_info"`
	Version            string          `json:"version"`
	ScreenResolution   string          `json:"screen_resolution"`
	ScreenStatus       string          `json:"screen_status"`
	State              string          `json:"state"`
	LastUpdate         interface{}     `json:"last_update"`
	Screenshot         string          `json:"screenshot"`
	ScreenshotFilename string          `json:"screenshot_filename"`
	Logs               []LogEntry      `json:"logs"`
}

// SyncResponse is the configuration returned to the device.
type SyncResponse struct {
	Success             bool   `json:"success"`
	KioskID             uint   `json:"kiosk_id"`
	DeviceID            string `json:"device_id"`
	SyncInterval        int    `json:"sync_interval"`
	ScreenshotRequested bool   `json:"screenshot_requested"`
	ScreenshotEnabled   bool   `json:"screenshot_enabled"`
	ScreenshotInterval  int    `json:"screenshot_interval_seconds"`
	DebugMode           bool   `json:"debug_mode"`
	CompanyID           *uint  `json:"company_id"`
	CompanyName         string `json:"company_name"`
	NeedsUpdate         bool   `json:"needs_update"`
	UpdateReason        string `json:"update_reason,omitempty"`
	UpdateAction        string `json:"update_action,omitempty"`
	ScreenshotUploaded  bool   `json:"screenshot_uploaded,omitempty"`
	LogsInserted        *int   `json:"logs_inserted,omitempty"`
}

// RegisterRequest creates or re-identifies a device by MAC.
type RegisterRequest struct {
	MAC      string          `json:"mac"`
	Hostname string          `json:"hostname"`
	HWInfo   json.RawMessage `json:"hw_info"`
}

// SyncService orchestrates a single device contact: identity
// resolution, ownership and migration handover, telemetry ingestion,
// config-delta detection, response assembly.
type SyncService struct {
	store       Repository
	cache       DeviceCache
	events      EventPublisher
	screenshots ScreenshotStore
	logger      *logrus.Logger
	opts        SyncOptions
}

func NewSyncService(store Repository, cache DeviceCache, events EventPublisher, screenshots ScreenshotStore, logger *logrus.Logger, opts SyncOptions) *SyncService {
	if opts.ScreenshotKeep <= 0 {
		opts.ScreenshotKeep = 100
	}
	if opts.LogRetentionDays <= 0 {
		opts.LogRetentionDays = 30
	}
	return &SyncService{
		store:       store,
		cache:       cache,
		events:      events,
		screenshots: screenshots,
		logger:      logger,
		opts:        opts,
	}
}

// Register creates a device on first contact, or returns the existing
// record for an already-known MAC. New devices start in pending until
// their first sync.
func (s *SyncService) Register(ctx context.Context, caller *Company, req *RegisterRequest) (*Device, error) {
	if isSentinel(req.MAC) {
		return nil, ErrMissingMAC
	}

	existing, err := s.store.GetDeviceByMAC(ctx, req.MAC)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	device := &Device{
		DeviceUID: uuid.New().String(),
		MAC:       NormalizeMAC(req.MAC),
		Hostname:  strings.TrimSpace(req.Hostname),
		HWInfo:    string(req.HWInfo),
		Status:    StatusPending,
	}
	if caller != nil && !caller.IsAdmin {
		device.CompanyID = &caller.ID
		if group, gerr := s.store.GetDefaultGroup(ctx, caller.ID); gerr == nil {
			device.GroupID = &group.ID
		}
	}

	if err := s.store.CreateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	s.cacheDevice(ctx, device)
	s.publishEvent(ctx, "device.registered", map[string]interface{}{
		"kiosk_id":   device.ID,
		"device_uid": device.DeviceUID,
		"mac":        device.MAC,
	})

	s.logger.WithFields(logrus.Fields{
		"kiosk_id":   device.ID,
		"mac":        device.MAC,
		"device_uid": device.DeviceUID,
	}).Info("Device registered")

	return device, nil
}

// Sync handles one device contact. Screenshot and log sub-steps are
// best-effort and degrade silently into the response.
func (s *SyncService) Sync(ctx context.Context, caller *Company, req *SyncRequest) (*SyncResponse, error) {
	if isSentinel(req.MAC) {
		return nil, ErrMissingMAC
	}

	device, err := s.store.GetDeviceByMAC(ctx, req.MAC)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if err := s.resolveOwnership(ctx, caller, device); err != nil {
		return nil, err
	}

	now := time.Now()
	s.applyTelemetry(device, req, now)

	resp := &SyncResponse{Success: true}

	if req.Screenshot != "" {
		resp.ScreenshotUploaded = s.ingestScreenshot(ctx, device, req, now)
	}

	if len(req.Logs) > 0 {
		inserted := s.ingestLogs(ctx, device, req.Logs, now)
		resp.LogsInserted = &inserted
	}

	needsUpdate, reason := s.detectConfigDelta(ctx, device, req.LastUpdate, now)

	if err := s.store.UpdateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to persist sync state: %w", err)
	}
	s.cacheDevice(ctx, device)

	details, _ := json.Marshal(map[string]interface{}{
		"hostname":            device.Hostname,
		"needs_update":        needsUpdate,
		"update_reason":       reason,
		"screenshot_uploaded": resp.ScreenshotUploaded,
	})
	if err := s.store.CreateSyncLog(ctx, &SyncLog{
		DeviceID:  device.ID,
		Action:    SyncActionSync,
		Details:   details,
		Timestamp: now,
	}); err != nil {
		s.logger.WithError(err).WithField("kiosk_id", device.ID).Warn("Failed to record sync log")
	}

	resp.KioskID = device.ID
	resp.DeviceID = device.DeviceUID
	resp.SyncInterval = device.SyncIntervalSecs
	resp.ScreenshotRequested = screenshotRequested(device, now)
	resp.ScreenshotEnabled = device.ScreenshotEnabled
	resp.ScreenshotInterval = device.ScreenshotInterval
	resp.DebugMode = device.DebugMode
	resp.CompanyID = device.CompanyID
	if device.Company != nil {
		resp.CompanyName = device.Company.Name
	} else if device.CompanyID != nil {
		if company, cerr := s.store.GetCompany(ctx, *device.CompanyID); cerr == nil {
			resp.CompanyName = company.Name
		}
	}
	resp.NeedsUpdate = needsUpdate
	if needsUpdate {
		resp.UpdateReason = reason
		resp.UpdateAction = "restart"
	}

	return resp, nil
}

// resolveOwnership assigns unowned devices to the calling company and
// performs the migration handover for owned ones. The handover is a
// single transaction: reassign company, reassign group, complete the
// migration; any failure rolls all three back.
func (s *SyncService) resolveOwnership(ctx context.Context, caller *Company, device *Device) error {
	if caller == nil {
		return ErrUnauthorized
	}

	if device.CompanyID == nil {
		if caller.IsAdmin {
			return nil
		}
		device.CompanyID = &caller.ID
		device.Company = caller
		if group, err := s.store.GetDefaultGroup(ctx, caller.ID); err == nil {
			device.GroupID = &group.ID
		}
		return nil
	}

	if *device.CompanyID == caller.ID || caller.IsAdmin {
		return nil
	}

	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		migration, err := tx.GetQueuedMigration(ctx, device.ID, caller.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMigrationNotFound
			}
			return err
		}

		group, err := tx.GetDefaultGroup(ctx, caller.ID)
		if err != nil {
			return fmt.Errorf("target company has no group: %w", err)
		}

		device.CompanyID = &caller.ID
		device.Company = caller
		device.GroupID = &group.ID
		if err := tx.UpdateDevice(ctx, device); err != nil {
			return err
		}

		now := time.Now()
		migration.Status = MigrationCompleted
		migration.CompletedAt = &now
		return tx.UpdateMigration(ctx, migration)
	})
	if err != nil {
		if errors.Is(err, ErrMigrationNotFound) {
			return ErrMigrationNotFound
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"kiosk_id":   device.ID,
			"company_id": caller.ID,
		}).Error("Migration handover failed")
		return ErrUnauthorized
	}

	s.invalidateDevice(ctx, device)
	s.publishEvent(ctx, "device.migrated", map[string]interface{}{
		"kiosk_id":          device.ID,
		"target_company_id": caller.ID,
	})
	return nil
}

func (s *SyncService) applyTelemetry(device *Device, req *SyncRequest, now time.Time) {
	if req.Hostname != "" {
		device.Hostname = strings.TrimSpace(req.Hostname)
	}
	if len(req.HWInfo) > 0 {
		device.HWInfo = string(req.HWInfo)
	}
	if req.Version != "" {
		device.Version = req.Version
	}
	if req.ScreenResolution != "" {
		device.ScreenResolution = req.ScreenResolution
	}
	if req.ScreenStatus != "" {
		device.ScreenStatus = req.ScreenStatus
	}

	device.LastSeen = &now
	device.LastSync = &now
	device.LastHeartbeat = &now

	if req.State == StatusUpgrading {
		if device.Status != StatusUpgrading {
			device.UpgradeStartedAt = &now
		}
		device.Status = StatusUpgrading
		return
	}

	device.Status = StatusOnline
	device.UpgradeStartedAt = nil
}

var dataURIPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

// filename charset mirrors the panel's sanitizer.
var screenshotNameClean = regexp.MustCompile(`[^A-Za-z0-9._-]`)
var screenshotNameExt = regexp.MustCompile(`\.(png|jpe?g)$`)

// SanitizeScreenshotFilename restricts a client-supplied filename to a
// safe charset and a png/jpeg extension. Returns "" when unusable.
func SanitizeScreenshotFilename(filename string) string {
	name := filename
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = screenshotNameClean.ReplaceAllString(name, "")
	if name == "" || !screenshotNameExt.MatchString(strings.ToLower(name)) {
		return ""
	}
	return name
}

func (s *SyncService) ingestScreenshot(ctx context.Context, device *Device, req *SyncRequest, now time.Time) bool {
	if s.screenshots == nil {
		return false
	}

	raw := dataURIPrefix.ReplaceAllString(req.Screenshot, "")
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(data) < 100 {
		s.logger.WithField("kiosk_id", device.ID).Warn("Rejected screenshot: not a decodable image")
		return false
	}

	isPNG := len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n"
	isJPEG := len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
	if !isPNG && !isJPEG {
		s.logger.WithField("kiosk_id", device.ID).Warn("Rejected screenshot: unsupported format")
		return false
	}

	filename := SanitizeScreenshotFilename(req.ScreenshotFilename)
	if filename == "" {
		filename = fmt.Sprintf("screenshot_%s.png", uuid.New().String())
	}

	path, err := s.screenshots.Save(filename, data)
	if err != nil {
		s.logger.WithError(err).WithField("kiosk_id", device.ID).Warn("Failed to store screenshot")
		return false
	}

	device.ScreenshotPath = path
	device.ScreenshotAt = &now
	device.ScreenshotReq = false

	// Retried uploads of the same file must not grow the history.
	if last, err := s.store.GetLatestScreenshotLog(ctx, device.ID); err == nil {
		var details struct {
			Filename string `json:"filename"`
		}
		if json.Unmarshal(last.Details, &details) == nil && details.Filename == filename {
			return true
		}
	}

	details, _ := json.Marshal(map[string]string{"filename": filename})
	if err := s.store.CreateSyncLog(ctx, &SyncLog{
		DeviceID:  device.ID,
		Action:    SyncActionScreenshot,
		Details:   details,
		Timestamp: now,
	}); err != nil {
		s.logger.WithError(err).WithField("kiosk_id", device.ID).Warn("Failed to record screenshot upload")
		return true
	}

	s.enforceScreenshotRetention(ctx, device.ID)
	return true
}

// enforceScreenshotRetention caps the per-device history, removing
// database rows and their backing blobs beyond the configured limit.
func (s *SyncService) enforceScreenshotRetention(ctx context.Context, deviceID uint) {
	old, err := s.store.GetScreenshotLogsBeyond(ctx, deviceID, s.opts.ScreenshotKeep)
	if err != nil || len(old) == 0 {
		return
	}

	ids := make([]uint, 0, len(old))
	for _, log := range old {
		ids = append(ids, log.ID)

		var details struct {
			Filename string `json:"filename"`
		}
		if json.Unmarshal(log.Details, &details) != nil || details.Filename == "" {
			continue
		}
		if name := SanitizeScreenshotFilename(details.Filename); name != "" {
			if err := s.screenshots.Remove(name); err != nil {
				s.logger.WithError(err).WithField("filename", name).Debug("Failed to remove screenshot blob")
			}
		}
	}

	if err := s.store.DeleteSyncLogs(ctx, ids); err != nil {
		s.logger.WithError(err).WithField("kiosk_id", deviceID).Warn("Failed to prune screenshot history")
	}
}

// ingestLogs inserts each valid entry independently; partial success
// is allowed and only the inserted count is reported back.
func (s *SyncService) ingestLogs(ctx context.Context, device *Device, entries []LogEntry, now time.Time) int {
	inserted := 0
	for _, entry := range entries {
		if strings.TrimSpace(entry.Message) == "" {
			continue
		}
		log := &DeviceLog{
			DeviceID: device.ID,
			LogType:  entry.Type,
			LogLevel: entry.Level,
			Message:  entry.Message,
			Details:  entry.Details,
		}
		if err := s.store.CreateDeviceLog(ctx, log); err != nil {
			s.logger.WithError(err).WithField("kiosk_id", device.ID).Warn("Failed to insert device log")
			continue
		}
		inserted++
	}

	cutoff := now.AddDate(0, 0, -s.opts.LogRetentionDays)
	if err := s.store.PurgeDeviceLogsBefore(ctx, device.ID, cutoff); err != nil {
		s.logger.WithError(err).WithField("kiosk_id", device.ID).Warn("Failed to purge old device logs")
	}

	return inserted
}

// detectConfigDelta compares the device's local config timestamp with
// the newest server-side content change: the device's direct module
// assignments when it has any, else its group's loop content. The
// stored local timestamp only ever advances.
func (s *SyncService) detectConfigDelta(ctx context.Context, device *Device, lastUpdate interface{}, now time.Time) (bool, string) {
	clientTS := parseTimestamp(lastUpdate)
	if clientTS != nil && (device.LocalConfigTS == nil || clientTS.After(*device.LocalConfigTS)) {
		device.LocalConfigTS = clientTS
	}

	serverTS, err := s.store.GetDeviceContentMaxUpdatedAt(ctx, device.ID)
	if err != nil {
		s.logger.WithError(err).WithField("kiosk_id", device.ID).Warn("Failed to read device config timestamp")
		return false, ""
	}
	if serverTS == nil && device.GroupID != nil {
		serverTS, err = s.store.GetContentMaxUpdatedAt(ctx, *device.GroupID)
		if err != nil {
			s.logger.WithError(err).WithField("kiosk_id", device.ID).Warn("Failed to read server config timestamp")
			return false, ""
		}
	}
	if serverTS == nil {
		return false, ""
	}

	if device.LocalConfigTS == nil {
		return true, "No local loop timestamp"
	}
	if serverTS.After(*device.LocalConfigTS) {
		return true, "Server loop updated"
	}
	return false, ""
}

// screenshotRequested is true when either the TTL is still in the
// future or the legacy boolean flag is set.
func screenshotRequested(device *Device, now time.Time) bool {
	if device.ScreenshotReqUntil != nil && device.ScreenshotReqUntil.After(now) {
		return true
	}
	return device.ScreenshotReq
}

// parseTimestamp accepts unix seconds (number or numeric string) and
// the common textual layouts devices report.
func parseTimestamp(value interface{}) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		if v <= 0 {
			return nil
		}
		t := time.Unix(int64(v), 0)
		return &t
	case int64:
		if v <= 0 {
			return nil
		}
		t := time.Unix(v, 0)
		return &t
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if unix <= 0 {
				return nil
			}
			t := time.Unix(unix, 0)
			return &t
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t
			}
		}
	}
	return nil
}

func (s *SyncService) cacheDevice(ctx context.Context, device *Device) {
	if s.cache == nil {
		return
	}
	data, _ := json.Marshal(device)
	if err := s.cache.Set(ctx, deviceCacheKey(device.MAC), string(data), 24*time.Hour); err != nil {
		s.logger.WithError(err).Debug("Failed to cache device")
	}
}

func (s *SyncService) invalidateDevice(ctx context.Context, device *Device) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, deviceCacheKey(device.MAC)); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate device cache")
	}
}

// GetCachedDeviceByMAC serves read-only lookups from the cache when
// possible, falling back to the store.
func (s *SyncService) GetCachedDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, deviceCacheKey(NormalizeMAC(mac))); err == nil && data != "" {
			var device Device
			if json.Unmarshal([]byte(data), &device) == nil {
				return &device, nil
			}
		}
	}

	device, err := s.store.GetDeviceByMAC(ctx, mac)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	s.cacheDevice(ctx, device)
	return device, nil
}

func deviceCacheKey(mac string) string {
	return fmt.Sprintf("device:mac:%s", mac)
}

// ListMigrations exposes the migration queue for operators. Admin
// credentials only; enforcement sits in the transport layer.
func (s *SyncService) ListMigrations(ctx context.Context, status string) ([]MigrationRequest, error) {
	return s.store.ListMigrations(ctx, status)
}

func (s *SyncService) publishEvent(ctx context.Context, topic string, message interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, message); err != nil {
		s.logger.WithError(err).WithField("topic", topic).Warn("Failed to publish event")
	}
}
