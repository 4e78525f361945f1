package core

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DeviceLoop is the renderable playlist resolved for one device at one
// instant.
type DeviceLoop struct {
	KioskID       uint          `json:"kiosk_id"`
	GroupID       *uint         `json:"group_id"`
	LoopStyleID   uint          `json:"loop_style_id"`
	ActiveBlockID *uint         `json:"active_block_id"`
	Items         []ContentItem `json:"items"`
}

// ScheduleService resolves active loops and guards the time-block
// write path.
type ScheduleService struct {
	store  Repository
	logger *logrus.Logger
}

func NewScheduleService(store Repository, logger *logrus.Logger) *ScheduleService {
	return &ScheduleService{store: store, logger: logger}
}

// ResolveGroupLoop returns the loop style governing the group at the
// given instant, with its items resolved (placeholder included for
// empty loops).
func (s *ScheduleService) ResolveGroupLoop(ctx context.Context, groupID uint, at time.Time) (*LoopStyle, []ContentItem, *uint, error) {
	blocks, err := s.store.ListTimeBlocks(ctx, groupID)
	if err != nil {
		return nil, nil, nil, err
	}

	var loop *LoopStyle
	var activeBlockID *uint
	if block := ResolveActiveBlock(blocks, at); block != nil {
		loop, err = s.store.GetLoopStyle(ctx, block.LoopStyleID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, nil, err
			}
			loop = nil
		} else {
			id := block.ID
			activeBlockID = &id
		}
	}

	if loop == nil {
		loop, err = s.store.GetDefaultLoopStyle(ctx, groupID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, nil, ErrLoopStyleNotFound
			}
			return nil, nil, nil, err
		}
	}

	return loop, ResolveLoopItems(loop), activeBlockID, nil
}

// ResolveDeviceLoop resolves the playlist for a device identified by
// MAC. Direct module assignments take precedence over the group
// schedule; ungrouped devices without assignments get the unconfigured
// placeholder.
func (s *ScheduleService) ResolveDeviceLoop(ctx context.Context, mac string, at time.Time) (*DeviceLoop, error) {
	device, err := s.store.GetDeviceByMAC(ctx, mac)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	result := &DeviceLoop{KioskID: device.ID, GroupID: device.GroupID}

	modules, err := s.store.ListDeviceModules(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	if len(modules) > 0 {
		result.Items = DeviceModuleItems(modules)
		return result, nil
	}

	if device.GroupID == nil {
		result.Items = ResolveLoopItems(&LoopStyle{})
		return result, nil
	}

	loop, items, activeBlockID, err := s.ResolveGroupLoop(ctx, *device.GroupID, at)
	if err != nil {
		if errors.Is(err, ErrLoopStyleNotFound) {
			result.Items = ResolveLoopItems(&LoopStyle{})
			return result, nil
		}
		return nil, err
	}

	result.LoopStyleID = loop.ID
	result.ActiveBlockID = activeBlockID
	result.Items = items
	return result, nil
}

// validateBlock normalizes and validates a candidate block, then runs
// the overlap guard against the group's existing blocks.
func (s *ScheduleService) validateBlock(ctx context.Context, block *TimeBlock, excludeID uint) error {
	if block.Type != BlockTypeWeekly && block.Type != BlockTypeDateSpecific {
		block.Type = BlockTypeWeekly
	}
	if _, err := ParseClockMinutes(block.StartTime); err != nil {
		return ErrInvalidTimeBlock
	}
	if _, err := ParseClockMinutes(block.EndTime); err != nil {
		return ErrInvalidTimeBlock
	}

	switch block.Type {
	case BlockTypeDateSpecific:
		if block.SpecificDate == nil {
			return ErrInvalidTimeBlock
		}
	default:
		if len(block.Weekdays()) == 0 {
			block.DaysMask = AllWeekdaysMask
		}
	}

	loop, err := s.store.GetLoopStyle(ctx, block.LoopStyleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLoopStyleNotFound
		}
		return err
	}
	if loop.GroupID != block.GroupID {
		return ErrLoopStyleNotFound
	}
	if loop.IsDefault {
		return ErrInvalidLoopAssignment
	}

	existing, err := s.store.ListTimeBlocks(ctx, block.GroupID)
	if err != nil {
		return err
	}
	if WouldOverlap(block, existing, excludeID) {
		return ErrScheduleConflict
	}
	return nil
}

// CreateTimeBlock admits a new block after overlap and loop-assignment
// validation.
func (s *ScheduleService) CreateTimeBlock(ctx context.Context, block *TimeBlock) error {
	if _, err := s.store.GetGroup(ctx, block.GroupID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGroupNotFound
		}
		return err
	}

	if err := s.validateBlock(ctx, block, 0); err != nil {
		return err
	}

	if err := s.store.CreateTimeBlock(ctx, block); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"group_id":   block.GroupID,
		"block_id":   block.ID,
		"block_type": block.Type,
	}).Info("Time block created")
	return nil
}

// UpdateTimeBlock revalidates an edited block, excluding itself from
// the overlap check.
func (s *ScheduleService) UpdateTimeBlock(ctx context.Context, block *TimeBlock) error {
	existing, err := s.store.GetTimeBlock(ctx, block.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTimeBlockNotFound
		}
		return err
	}
	if existing.Locked {
		return ErrTimeBlockLocked
	}

	block.GroupID = existing.GroupID
	if err := s.validateBlock(ctx, block, block.ID); err != nil {
		return err
	}
	return s.store.UpdateTimeBlock(ctx, block)
}

// DeleteTimeBlock removes a block unless it is locked.
func (s *ScheduleService) DeleteTimeBlock(ctx context.Context, id uint) error {
	block, err := s.store.GetTimeBlock(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTimeBlockNotFound
		}
		return err
	}
	if block.Locked {
		return ErrTimeBlockLocked
	}
	return s.store.DeleteTimeBlock(ctx, id)
}

// GetTimeBlock returns one block.
func (s *ScheduleService) GetTimeBlock(ctx context.Context, id uint) (*TimeBlock, error) {
	block, err := s.store.GetTimeBlock(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTimeBlockNotFound
		}
		return nil, err
	}
	return block, nil
}

// GetGroup returns one group.
func (s *ScheduleService) GetGroup(ctx context.Context, id uint) (*Group, error) {
	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return group, nil
}

// ListTimeBlocks returns the group's blocks in display order.
func (s *ScheduleService) ListTimeBlocks(ctx context.Context, groupID uint) ([]TimeBlock, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return s.store.ListTimeBlocks(ctx, groupID)
}
