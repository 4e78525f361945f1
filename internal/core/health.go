package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthReportRequest is the device-side health submission.
type HealthReportRequest struct {
	Kiosk     IdentityClaim   `json:"kiosk"`
	Status    string          `json:"status"`
	System    json.RawMessage `json:"system"`
	Services  json.RawMessage `json:"services"`
	Network   json.RawMessage `json:"network"`
	Sync      json.RawMessage `json:"sync"`
	Timestamp interface{}     `json:"timestamp"`
}

// HealthListEntry is one device row of the fleet health projection.
type HealthListEntry struct {
	KioskID       uint       `json:"kiosk_id"`
	DeviceUID     string     `json:"device_id"`
	Hostname      string     `json:"hostname"`
	MAC           string     `json:"mac"`
	Status        string     `json:"status"` // effective status
	ReportStatus  string     `json:"report_status,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// HealthStatistics aggregates effective statuses over a listing.
type HealthStatistics struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Warning int `json:"warning"`
	Offline int `json:"offline"`
}

// HealthService ingests health reports and serves fleet health
// projections.
type HealthService struct {
	store  Repository
	logger *logrus.Logger
	opts   SyncOptions
}

func NewHealthService(store Repository, logger *logrus.Logger, opts SyncOptions) *HealthService {
	return &HealthService{store: store, logger: logger, opts: opts}
}

// Report upserts the device's health row and maps the report category
// onto the persisted device status. Safe under concurrent duplicate
// submissions; the row is keyed by device identity.
func (s *HealthService) Report(ctx context.Context, caller *Company, req *HealthReportRequest) (uint, error) {
	device, err := ResolveDevice(ctx, s.store, req.Kiosk)
	if err != nil {
		return 0, err
	}
	if err := requireCompanyMatch(caller, device); err != nil {
		return 0, err
	}

	now := time.Now()
	reportedAt := now
	if ts := parseTimestamp(req.Timestamp); ts != nil {
		reportedAt = *ts
	}

	category := req.Status
	switch category {
	case HealthHealthy, HealthWarning, HealthCritical:
	default:
		category = HealthUnknown
	}

	report := &HealthReport{
		DeviceID:  device.ID,
		Status:    category,
		System:    req.System,
		Services:  req.Services,
		Network:   req.Network,
		Sync:      req.Sync,
		Timestamp: reportedAt,
	}
	if err := s.store.UpsertHealthReport(ctx, report); err != nil {
		return 0, err
	}

	device.Status = HealthStatusToDevice(category)
	device.LastHeartbeat = &now
	if err := s.store.UpdateDevice(ctx, device); err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"kiosk_id": device.ID,
		"category": category,
		"status":   device.Status,
	}).Debug("Health report ingested")

	return device.ID, nil
}

// Status returns the latest health report for one device.
func (s *HealthService) Status(ctx context.Context, caller *Company, kioskID uint) (*HealthReport, error) {
	device, err := s.store.GetDevice(ctx, kioskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if err := requireCompanyMatch(caller, device); err != nil {
		return nil, err
	}

	report, err := s.store.GetHealthReportByDevice(ctx, device.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return report, nil
}

// List returns the company's devices with their effective statuses and
// aggregate counts. Non-admin callers are always constrained to their
// own company regardless of the requested filter.
func (s *HealthService) List(ctx context.Context, caller *Company, companyID uint, statusFilter string) ([]HealthListEntry, HealthStatistics, error) {
	if caller != nil && !caller.IsAdmin {
		companyID = caller.ID
	}

	devices, err := s.store.ListDevicesByCompany(ctx, companyID)
	if err != nil {
		return nil, HealthStatistics{}, err
	}

	ids := make([]uint, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	reports, err := s.store.GetHealthReportsByDeviceIDs(ctx, ids)
	if err != nil {
		return nil, HealthStatistics{}, err
	}
	byDevice := make(map[uint]*HealthReport, len(reports))
	for i := range reports {
		byDevice[reports[i].DeviceID] = &reports[i]
	}

	now := time.Now()
	var entries []HealthListEntry
	var stats HealthStatistics

	for _, device := range devices {
		effective := EffectiveStatus(device, now, s.opts.OfflineTimeout, s.opts.UpgradeTimeout)

		stats.Total++
		switch effective {
		case StatusOnline:
			stats.Online++
		case StatusWarning:
			stats.Warning++
		case StatusOffline, StatusError:
			stats.Offline++
		}

		if statusFilter != "" && effective != statusFilter {
			continue
		}

		entry := HealthListEntry{
			KioskID:       device.ID,
			DeviceUID:     device.DeviceUID,
			Hostname:      device.Hostname,
			MAC:           device.MAC,
			Status:        effective,
			LastHeartbeat: device.LastHeartbeat,
		}
		if report, ok := byDevice[device.ID]; ok {
			entry.ReportStatus = report.Status
			ts := report.Timestamp
			entry.Timestamp = &ts
		}
		entries = append(entries, entry)
	}

	return entries, stats, nil
}

// requireCompanyMatch enforces tenant scoping; admin credentials are
// unrestricted.
func requireCompanyMatch(caller *Company, device *Device) error {
	if caller == nil {
		return ErrUnauthorized
	}
	if caller.IsAdmin {
		return nil
	}
	if device.CompanyID == nil || *device.CompanyID != caller.ID {
		return ErrUnauthorized
	}
	return nil
}
