package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type scheduleFixture struct {
	repo        Repository
	db          *gorm.DB
	svc         *ScheduleService
	group       *Group
	defaultLoop *LoopStyle
	eveningLoop *LoopStyle
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	repo, db := newTestStore(t)
	company := seedCompany(t, db, "acme", false)
	group := seedGroup(t, db, company.ID, "default", true)

	defaultLoop := &LoopStyle{GroupID: group.ID, Name: "base", IsDefault: true}
	require.NoError(t, db.Create(defaultLoop).Error)
	require.NoError(t, db.Create(&ContentItem{LoopStyleID: defaultLoop.ID, ModuleRef: "clock", DurationSecs: 15, DisplayOrder: 1, Active: true}).Error)

	eveningLoop := &LoopStyle{GroupID: group.ID, Name: "evening"}
	require.NoError(t, db.Create(eveningLoop).Error)
	require.NoError(t, db.Create(&ContentItem{LoopStyleID: eveningLoop.ID, ModuleRef: "news", DurationSecs: 30, DisplayOrder: 1, Active: true}).Error)

	return &scheduleFixture{
		repo:        repo,
		db:          db,
		svc:         NewScheduleService(repo, newTestLogger()),
		group:       group,
		defaultLoop: defaultLoop,
		eveningLoop: eveningLoop,
	}
}

func TestCreateTimeBlockGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("overlapping weekly blocks are rejected", func(t *testing.T) {
		f := newScheduleFixture(t)

		first := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
			Type: BlockTypeWeekly, DaysMask: "1",
			StartTime: "08:00", EndTime: "10:00", Active: true,
		}
		require.NoError(t, f.svc.CreateTimeBlock(ctx, first))

		second := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
			Type: BlockTypeWeekly, DaysMask: "1",
			StartTime: "09:00", EndTime: "11:00", Active: true,
		}
		err := f.svc.CreateTimeBlock(ctx, second)
		assert.ErrorIs(t, err, ErrScheduleConflict)

		// A dateSpecific block over the same clock range is fine.
		date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
		dated := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
			Type: BlockTypeDateSpecific, SpecificDate: &date,
			StartTime: "09:00", EndTime: "11:00", Active: true,
		}
		assert.NoError(t, f.svc.CreateTimeBlock(ctx, dated))
	})

	t.Run("default loop may not be scheduled", func(t *testing.T) {
		f := newScheduleFixture(t)

		block := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: f.defaultLoop.ID,
			Type: BlockTypeWeekly, DaysMask: "1",
			StartTime: "08:00", EndTime: "10:00", Active: true,
		}
		err := f.svc.CreateTimeBlock(ctx, block)
		assert.ErrorIs(t, err, ErrInvalidLoopAssignment)
	})

	t.Run("loop from another group is rejected", func(t *testing.T) {
		f := newScheduleFixture(t)
		otherCompany := seedCompany(t, f.db, "other", false)
		otherGroup := seedGroup(t, f.db, otherCompany.ID, "default", true)
		foreignLoop := &LoopStyle{GroupID: otherGroup.ID, Name: "foreign"}
		require.NoError(t, f.db.Create(foreignLoop).Error)

		block := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: foreignLoop.ID,
			Type: BlockTypeWeekly, DaysMask: "1",
			StartTime: "08:00", EndTime: "10:00", Active: true,
		}
		err := f.svc.CreateTimeBlock(ctx, block)
		assert.ErrorIs(t, err, ErrLoopStyleNotFound)
	})

	t.Run("bad clock values are rejected", func(t *testing.T) {
		f := newScheduleFixture(t)

		block := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
			Type: BlockTypeWeekly, DaysMask: "1",
			StartTime: "25:00", EndTime: "10:00", Active: true,
		}
		err := f.svc.CreateTimeBlock(ctx, block)
		assert.ErrorIs(t, err, ErrInvalidTimeBlock)
	})

	t.Run("weekly block with no days covers the whole week", func(t *testing.T) {
		f := newScheduleFixture(t)

		block := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
			Type:      BlockTypeWeekly,
			StartTime: "08:00", EndTime: "10:00", Active: true,
		}
		require.NoError(t, f.svc.CreateTimeBlock(ctx, block))
		assert.Equal(t, AllWeekdaysMask, block.DaysMask)
	})

	t.Run("unknown group fails", func(t *testing.T) {
		f := newScheduleFixture(t)

		block := &TimeBlock{
			GroupID: 9999, LoopStyleID: f.eveningLoop.ID,
			Type: BlockTypeWeekly, DaysMask: "1",
			StartTime: "08:00", EndTime: "10:00", Active: true,
		}
		err := f.svc.CreateTimeBlock(ctx, block)
		assert.ErrorIs(t, err, ErrGroupNotFound)
	})
}

func TestUpdateAndDeleteTimeBlock(t *testing.T) {
	ctx := context.Background()
	f := newScheduleFixture(t)

	block := &TimeBlock{
		GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
		Type: BlockTypeWeekly, DaysMask: "1",
		StartTime: "08:00", EndTime: "10:00", Active: true,
	}
	require.NoError(t, f.svc.CreateTimeBlock(ctx, block))

	t.Run("a block may be moved onto its own old slot", func(t *testing.T) {
		edited := *block
		edited.StartTime = "08:30"
		edited.EndTime = "10:30"
		assert.NoError(t, f.svc.UpdateTimeBlock(ctx, &edited))
	})

	t.Run("locked blocks refuse edits and deletion", func(t *testing.T) {
		locked := &TimeBlock{
			GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
			Type: BlockTypeWeekly, DaysMask: "3",
			StartTime: "12:00", EndTime: "14:00", Active: true, Locked: true,
		}
		require.NoError(t, f.svc.CreateTimeBlock(ctx, locked))

		edited := *locked
		edited.StartTime = "13:00"
		assert.ErrorIs(t, f.svc.UpdateTimeBlock(ctx, &edited), ErrTimeBlockLocked)
		assert.ErrorIs(t, f.svc.DeleteTimeBlock(ctx, locked.ID), ErrTimeBlockLocked)
	})

	t.Run("missing blocks surface not found", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.UpdateTimeBlock(ctx, &TimeBlock{ID: 9999}), ErrTimeBlockNotFound)
		assert.ErrorIs(t, f.svc.DeleteTimeBlock(ctx, 9999), ErrTimeBlockNotFound)
	})

	t.Run("delete removes the block", func(t *testing.T) {
		require.NoError(t, f.svc.DeleteTimeBlock(ctx, block.ID))
		_, err := f.svc.GetTimeBlock(ctx, block.ID)
		assert.ErrorIs(t, err, ErrTimeBlockNotFound)
	})
}

func TestResolveGroupLoop(t *testing.T) {
	ctx := context.Background()
	f := newScheduleFixture(t)

	block := &TimeBlock{
		GroupID: f.group.ID, LoopStyleID: f.eveningLoop.ID,
		Type: BlockTypeWeekly, DaysMask: "1",
		StartTime: "18:00", EndTime: "22:00", Active: true,
	}
	require.NoError(t, f.svc.CreateTimeBlock(ctx, block))

	monday19 := time.Date(2026, 8, 31, 19, 0, 0, 0, time.UTC)
	monday12 := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	t.Run("active block selects its loop", func(t *testing.T) {
		loop, items, activeBlockID, err := f.svc.ResolveGroupLoop(ctx, f.group.ID, monday19)
		require.NoError(t, err)
		assert.Equal(t, f.eveningLoop.ID, loop.ID)
		require.NotNil(t, activeBlockID)
		assert.Equal(t, block.ID, *activeBlockID)
		require.Len(t, items, 1)
		assert.Equal(t, "news", items[0].ModuleRef)
	})

	t.Run("outside every block the default loop applies", func(t *testing.T) {
		loop, items, activeBlockID, err := f.svc.ResolveGroupLoop(ctx, f.group.ID, monday12)
		require.NoError(t, err)
		assert.Equal(t, f.defaultLoop.ID, loop.ID)
		assert.Nil(t, activeBlockID)
		require.Len(t, items, 1)
		assert.Equal(t, "clock", items[0].ModuleRef)
	})
}

func TestResolveDeviceLoop(t *testing.T) {
	ctx := context.Background()
	f := newScheduleFixture(t)

	at := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	t.Run("grouped device gets the group's loop", func(t *testing.T) {
		device := &Device{DeviceUID: "s1", MAC: "aabbcc0a0001", GroupID: &f.group.ID, Status: StatusOnline}
		require.NoError(t, f.repo.CreateDevice(ctx, device))

		loop, err := f.svc.ResolveDeviceLoop(ctx, device.MAC, at)
		require.NoError(t, err)
		assert.Equal(t, f.defaultLoop.ID, loop.LoopStyleID)
		require.Len(t, loop.Items, 1)
		assert.Equal(t, "clock", loop.Items[0].ModuleRef)
	})

	t.Run("ungrouped device gets the placeholder", func(t *testing.T) {
		device := &Device{DeviceUID: "s2", MAC: "aabbcc0a0002", Status: StatusOnline}
		require.NoError(t, f.repo.CreateDevice(ctx, device))

		loop, err := f.svc.ResolveDeviceLoop(ctx, device.MAC, at)
		require.NoError(t, err)
		require.Len(t, loop.Items, 1)
		assert.Equal(t, UnconfiguredModuleRef, loop.Items[0].ModuleRef)
		assert.Equal(t, UnconfiguredDurationSecs, loop.Items[0].DurationSecs)
	})

	t.Run("direct assignments beat the group loop", func(t *testing.T) {
		device := &Device{DeviceUID: "s3", MAC: "aabbcc0a0003", GroupID: &f.group.ID, Status: StatusOnline}
		require.NoError(t, f.repo.CreateDevice(ctx, device))
		require.NoError(t, f.db.Create(&DeviceModule{DeviceID: device.ID, ModuleRef: "menu", DurationSecs: 20, DisplayOrder: 1, Active: true}).Error)
		require.NoError(t, f.db.Create(&DeviceModule{DeviceID: device.ID, ModuleRef: "ticker", DisplayOrder: 2, Active: true}).Error)

		loop, err := f.svc.ResolveDeviceLoop(ctx, device.MAC, at)
		require.NoError(t, err)
		require.Len(t, loop.Items, 2)
		assert.Equal(t, "menu", loop.Items[0].ModuleRef)
		assert.Equal(t, "ticker", loop.Items[1].ModuleRef)
	})

	t.Run("inactive assignments fall back to the group loop", func(t *testing.T) {
		device := &Device{DeviceUID: "s4", MAC: "aabbcc0a0004", GroupID: &f.group.ID, Status: StatusOnline}
		require.NoError(t, f.repo.CreateDevice(ctx, device))
		require.NoError(t, f.db.Create(&DeviceModule{DeviceID: device.ID, ModuleRef: "menu", Active: false}).Error)

		loop, err := f.svc.ResolveDeviceLoop(ctx, device.MAC, at)
		require.NoError(t, err)
		require.Len(t, loop.Items, 1)
		assert.Equal(t, "clock", loop.Items[0].ModuleRef)
	})

	t.Run("unknown mac is not found", func(t *testing.T) {
		_, err := f.svc.ResolveDeviceLoop(ctx, "00:00:00:00:00:aa", at)
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})
}
