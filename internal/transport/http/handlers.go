package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nagy-andras-sk/edudisplej-sub004/internal/core"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	sync     *core.SyncService
	schedule *core.ScheduleService
	health   *core.HealthService
	install  *core.InstallService
	logger   *logrus.Logger
}

func NewHandlers(sync *core.SyncService, schedule *core.ScheduleService, health *core.HealthService, install *core.InstallService, logger *logrus.Logger) *Handlers {
	return &Handlers{
		sync:     sync,
		schedule: schedule,
		health:   health,
		install:  install,
		logger:   logger,
	}
}

// respondError maps domain errors onto HTTP statuses. Persistence
// failures are logged and surfaced generically.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var business core.BusinessError
	if errors.As(err, &business) {
		status := http.StatusUnprocessableEntity
		if business.Code == core.ErrScheduleConflict.Code {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "message": business.Message, "code": business.Code})
		return
	}

	switch {
	case errors.Is(err, core.ErrMissingMAC), errors.Is(err, core.ErrMissingIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, core.ErrDeviceNotFound),
		errors.Is(err, core.ErrGroupNotFound),
		errors.Is(err, core.ErrLoopStyleNotFound),
		errors.Is(err, core.ErrTimeBlockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, core.ErrUnauthorized),
		errors.Is(err, core.ErrCompanyInactive),
		errors.Is(err, core.ErrMigrationNotFound):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "unauthorized"})
	case errors.Is(err, core.ErrTimeBlockLocked):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
	default:
		h.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "server error"})
	}
}

// Health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// Device handlers

func (h *Handlers) DeviceSync(c *gin.Context) {
	var req core.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	resp, err := h.sync.Sync(c.Request.Context(), CallerCompany(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) DeviceRegister(c *gin.Context) {
	var req core.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	device, err := h.sync.Register(c.Request.Context(), CallerCompany(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"kiosk_id":  device.ID,
		"device_id": device.DeviceUID,
		"status":    device.Status,
	})
}

func (h *Handlers) DeviceLoop(c *gin.Context) {
	mac := c.Query("mac")
	if mac == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "mac required"})
		return
	}

	device, err := h.sync.GetCachedDeviceByMAC(c.Request.Context(), mac)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := requireDeviceAccess(c, device); err != nil {
		h.respondError(c, err)
		return
	}

	loop, err := h.schedule.ResolveDeviceLoop(c.Request.Context(), mac, time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "loop": loop})
}

// Telemetry handlers

func (h *Handlers) HealthReport(c *gin.Context) {
	var req core.HealthReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	kioskID, err := h.health.Report(c.Request.Context(), CallerCompany(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "kiosk_id": kioskID})
}

func (h *Handlers) HealthStatus(c *gin.Context) {
	kioskID, ok := queryUint(c, "kioskId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "kioskId required"})
		return
	}

	report, err := h.health.Status(c.Request.Context(), CallerCompany(c), kioskID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func (h *Handlers) HealthList(c *gin.Context) {
	companyID, _ := queryUint(c, "companyId")

	entries, stats, err := h.health.List(c.Request.Context(), CallerCompany(c), companyID, c.Query("status"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"kiosks":     entries,
		"statistics": stats,
	})
}

func (h *Handlers) InstallProgress(c *gin.Context) {
	var req core.InstallProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	progress, err := h.install.Progress(c.Request.Context(), CallerCompany(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"kiosk_id": progress.DeviceID,
		"state":    progress.State,
		"percent":  progress.Percent,
	})
}

func (h *Handlers) InstallStatus(c *gin.Context) {
	kioskID, ok := queryUint(c, "kioskId")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "kioskId required"})
		return
	}

	progress, err := h.install.Status(c.Request.Context(), CallerCompany(c), kioskID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "progress": progress})
}

func (h *Handlers) InstallList(c *gin.Context) {
	companyID, _ := queryUint(c, "companyId")
	limit, _ := strconv.Atoi(c.Query("limit"))

	rows, err := h.install.List(c.Request.Context(), CallerCompany(c), companyID, c.Query("state"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "progress": rows, "count": len(rows)})
}

// Schedule handlers

func (h *Handlers) ListTimeBlocks(c *gin.Context) {
	groupID, ok := paramUint(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid group id"})
		return
	}
	if err := h.requireGroupAccess(c, groupID); err != nil {
		h.respondError(c, err)
		return
	}

	blocks, err := h.schedule.ListTimeBlocks(c.Request.Context(), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "time_blocks": blocks})
}

func (h *Handlers) CreateTimeBlock(c *gin.Context) {
	groupID, ok := paramUint(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid group id"})
		return
	}
	if err := h.requireGroupAccess(c, groupID); err != nil {
		h.respondError(c, err)
		return
	}

	var block core.TimeBlock
	if err := c.ShouldBindJSON(&block); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	block.GroupID = groupID

	if err := h.schedule.CreateTimeBlock(c.Request.Context(), &block); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "time_block": block})
}

func (h *Handlers) UpdateTimeBlock(c *gin.Context) {
	blockID, ok := paramUint(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid block id"})
		return
	}

	existing, err := h.schedule.GetTimeBlock(c.Request.Context(), blockID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.requireGroupAccess(c, existing.GroupID); err != nil {
		h.respondError(c, err)
		return
	}

	var block core.TimeBlock
	if err := c.ShouldBindJSON(&block); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	block.ID = blockID

	if err := h.schedule.UpdateTimeBlock(c.Request.Context(), &block); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "time_block": block})
}

func (h *Handlers) DeleteTimeBlock(c *gin.Context) {
	blockID, ok := paramUint(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid block id"})
		return
	}

	existing, err := h.schedule.GetTimeBlock(c.Request.Context(), blockID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.requireGroupAccess(c, existing.GroupID); err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.schedule.DeleteTimeBlock(c.Request.Context(), blockID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) GroupSchedule(c *gin.Context) {
	groupID, ok := paramUint(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid group id"})
		return
	}
	if err := h.requireGroupAccess(c, groupID); err != nil {
		h.respondError(c, err)
		return
	}

	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid at timestamp"})
			return
		}
		at = parsed
	}

	loop, items, activeBlockID, err := h.schedule.ResolveGroupLoop(c.Request.Context(), groupID, at)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"loop_style_id":   loop.ID,
		"loop_name":       loop.Name,
		"active_block_id": activeBlockID,
		"items":           items,
	})
}

// Migration handlers

func (h *Handlers) ListMigrations(c *gin.Context) {
	migrations, err := h.sync.ListMigrations(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "migrations": migrations})
}

// requireGroupAccess constrains non-admin callers to their own groups.
func (h *Handlers) requireGroupAccess(c *gin.Context, groupID uint) error {
	caller := CallerCompany(c)
	if caller == nil {
		return core.ErrUnauthorized
	}
	if caller.IsAdmin {
		return nil
	}

	group, err := h.schedule.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		return err
	}
	if group.CompanyID != caller.ID {
		return core.ErrUnauthorized
	}
	return nil
}

func requireDeviceAccess(c *gin.Context, device *core.Device) error {
	caller := CallerCompany(c)
	if caller == nil {
		return core.ErrUnauthorized
	}
	if caller.IsAdmin || device.CompanyID == nil {
		return nil
	}
	if *device.CompanyID != caller.ID {
		return core.ErrUnauthorized
	}
	return nil
}

func paramUint(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}

func queryUint(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Query(name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}
