package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	installListDefaultLimit = 100
	installListMaxLimit     = 500
)

// InstallProgressRequest is the device-side install progress report.
// Identity may arrive nested under "kiosk" or as top-level fields; the
// handler merges both into the claim.
type InstallProgressRequest struct {
	Kiosk      IdentityClaim   `json:"kiosk"`
	Phase      string          `json:"phase"`
	Step       int             `json:"step"`
	Total      int             `json:"total"`
	Percent    int             `json:"percent"`
	State      string          `json:"state"`
	Message    string          `json:"message"`
	ETASeconds *int            `json:"eta_seconds"`
	Payload    json.RawMessage `json:"payload"`
}

// InstallService ingests install progress and serves its projections.
type InstallService struct {
	store  Repository
	logger *logrus.Logger
}

func NewInstallService(store Repository, logger *logrus.Logger) *InstallService {
	return &InstallService{store: store, logger: logger}
}

// Progress upserts the single current install row for a device.
// Numeric fields are clamped, unknown states coerce to running.
func (s *InstallService) Progress(ctx context.Context, caller *Company, req *InstallProgressRequest) (*InstallProgress, error) {
	device, err := ResolveDevice(ctx, s.store, req.Kiosk)
	if err != nil {
		return nil, err
	}
	if err := requireCompanyMatch(caller, device); err != nil {
		return nil, err
	}

	state := req.State
	switch state {
	case InstallStateRunning, InstallStateCompleted, InstallStateFailed:
	default:
		state = InstallStateRunning
	}

	percent := req.Percent
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	step := req.Step
	if step < 0 {
		step = 0
	}
	total := req.Total
	if total < 0 {
		total = 0
	}

	progress := &InstallProgress{
		DeviceID:   device.ID,
		Phase:      req.Phase,
		Step:       step,
		Total:      total,
		Percent:    percent,
		State:      state,
		Message:    req.Message,
		ETASeconds: req.ETASeconds,
		Payload:    req.Payload,
		ReportedAt: time.Now(),
	}
	if err := s.store.UpsertInstallProgress(ctx, progress); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"kiosk_id": device.ID,
		"phase":    req.Phase,
		"state":    state,
		"percent":  percent,
	}).Debug("Install progress ingested")

	return progress, nil
}

// Status returns the current install row for one device.
func (s *InstallService) Status(ctx context.Context, caller *Company, kioskID uint) (*InstallProgress, error) {
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

	progress, err := s.store.GetInstallProgressByDevice(ctx, device.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return progress, nil
}

// List returns install rows newest-first. Non-admin callers are
// constrained to their own company; the limit defaults to 100 and caps
// at 500.
func (s *InstallService) List(ctx context.Context, caller *Company, companyID uint, state string, limit int) ([]InstallProgress, error) {
	if caller != nil && !caller.IsAdmin {
		companyID = caller.ID
	}
	if limit <= 0 {
		limit = installListDefaultLimit
	} else if limit > installListMaxLimit {
		limit = installListMaxLimit
	}
	return s.store.ListInstallProgress(ctx, companyID, state, limit)
}
