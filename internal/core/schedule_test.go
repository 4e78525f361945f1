package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"08:30", 510, false},
		{"23:59", 1439, false},
		{"22:00:15", 1320, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"garbage", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseClockMinutes(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func weeklyBlock(id uint, days, start, end string, priority int) TimeBlock {
	return TimeBlock{
		ID:          id,
		GroupID:     1,
		LoopStyleID: 10 + id,
		Type:        BlockTypeWeekly,
		DaysMask:    days,
		StartTime:   start,
		EndTime:     end,
		Priority:    priority,
		Active:      true,
	}
}

func dateBlock(id uint, date time.Time, start, end string, priority int) TimeBlock {
	return TimeBlock{
		ID:           id,
		GroupID:      1,
		LoopStyleID:  10 + id,
		Type:         BlockTypeDateSpecific,
		SpecificDate: &date,
		StartTime:    start,
		EndTime:      end,
		Priority:     priority,
		Active:       true,
	}
}

func TestTimeBlockMidnightWrap(t *testing.T) {
	// Friday 22:00 - 02:00, ISO weekday 5.
	block := weeklyBlock(1, "5", "22:00", "02:00", 0)

	friday2330 := time.Date(2026, 9, 4, 23, 30, 0, 0, time.UTC)
	saturday0100 := time.Date(2026, 9, 5, 1, 0, 0, 0, time.UTC)
	saturday0300 := time.Date(2026, 9, 5, 3, 0, 0, 0, time.UTC)
	friday2100 := time.Date(2026, 9, 4, 21, 0, 0, 0, time.UTC)

	assert.True(t, block.MatchesAt(friday2330))
	assert.True(t, block.MatchesAt(saturday0100), "early-morning tail belongs to the Friday window")
	assert.False(t, block.MatchesAt(saturday0300))
	assert.False(t, block.MatchesAt(friday2100))
}

func TestTimeBlockDateSpecificWrap(t *testing.T) {
	date := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)
	block := dateBlock(1, date, "22:00", "02:00", 0)

	assert.True(t, block.MatchesAt(time.Date(2026, 9, 4, 23, 0, 0, 0, time.UTC)))
	assert.True(t, block.MatchesAt(time.Date(2026, 9, 5, 1, 30, 0, 0, time.UTC)))
	assert.False(t, block.MatchesAt(time.Date(2026, 9, 5, 3, 0, 0, 0, time.UTC)))
	assert.False(t, block.MatchesAt(time.Date(2026, 9, 3, 23, 0, 0, 0, time.UTC)))
}

func TestTimeBlockInactiveNeverMatches(t *testing.T) {
	block := weeklyBlock(1, "1,2,3,4,5,6,7", "00:00", "23:59", 0)
	block.Active = false
	assert.False(t, block.MatchesAt(time.Date(2026, 9, 4, 12, 0, 0, 0, time.UTC)))
}

func TestResolveActiveBlockTieBreaks(t *testing.T) {
	// Monday noon.
	at := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	t.Run("dateSpecific beats weekly regardless of priority", func(t *testing.T) {
		weekly := weeklyBlock(1, "1", "08:00", "18:00", 100)
		dated := dateBlock(2, date, "10:00", "14:00", 0)

		got := ResolveActiveBlock([]TimeBlock{weekly, dated}, at)
		require.NotNil(t, got)
		assert.Equal(t, uint(2), got.ID)
	})

	t.Run("higher priority wins within a type", func(t *testing.T) {
		low := weeklyBlock(1, "1", "08:00", "18:00", 1)
		high := weeklyBlock(2, "1", "11:00", "13:00", 5)

		got := ResolveActiveBlock([]TimeBlock{low, high}, at)
		require.NotNil(t, got)
		assert.Equal(t, uint(2), got.ID)
	})

	t.Run("lower id wins as final tie-break", func(t *testing.T) {
		a := weeklyBlock(7, "1", "08:00", "18:00", 3)
		b := weeklyBlock(3, "1", "11:00", "13:00", 3)

		got := ResolveActiveBlock([]TimeBlock{a, b}, at)
		require.NotNil(t, got)
		assert.Equal(t, uint(3), got.ID)
	})

	t.Run("no match returns nil", func(t *testing.T) {
		sunday := weeklyBlock(1, "7", "08:00", "18:00", 0)
		assert.Nil(t, ResolveActiveBlock([]TimeBlock{sunday}, at))
	})

	t.Run("resolution is deterministic", func(t *testing.T) {
		blocks := []TimeBlock{
			weeklyBlock(1, "1", "08:00", "18:00", 1),
			dateBlock(2, date, "10:00", "14:00", 2),
			weeklyBlock(3, "1", "11:00", "13:00", 9),
		}
		first := ResolveActiveBlock(blocks, at)
		second := ResolveActiveBlock(blocks, at)
		require.NotNil(t, first)
		require.NotNil(t, second)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestWouldOverlap(t *testing.T) {
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	t.Run("same day intersecting ranges collide", func(t *testing.T) {
		existing := []TimeBlock{weeklyBlock(1, "1", "08:00", "10:00", 100)}
		candidate := weeklyBlock(0, "1", "09:00", "11:00", 0)
		assert.True(t, WouldOverlap(&candidate, existing, 0))
	})

	t.Run("different type never collides", func(t *testing.T) {
		existing := []TimeBlock{weeklyBlock(1, "1", "08:00", "10:00", 100)}
		candidate := dateBlock(0, date, "09:00", "11:00", 0)
		assert.False(t, WouldOverlap(&candidate, existing, 0))
	})

	t.Run("disjoint weekdays never collide", func(t *testing.T) {
		existing := []TimeBlock{weeklyBlock(1, "1,2", "08:00", "10:00", 0)}
		candidate := weeklyBlock(0, "3,4", "08:00", "10:00", 0)
		assert.False(t, WouldOverlap(&candidate, existing, 0))
	})

	t.Run("touching ranges do not collide", func(t *testing.T) {
		existing := []TimeBlock{weeklyBlock(1, "1", "08:00", "10:00", 0)}
		candidate := weeklyBlock(0, "1", "10:00", "12:00", 0)
		assert.False(t, WouldOverlap(&candidate, existing, 0))
	})

	t.Run("wrap range collides across midnight segment", func(t *testing.T) {
		existing := []TimeBlock{weeklyBlock(1, "5", "22:00", "02:00", 0)}
		candidate := weeklyBlock(0, "5", "01:00", "03:00", 0)
		assert.True(t, WouldOverlap(&candidate, existing, 0))
	})

	t.Run("wrap range leaves the middle of the day free", func(t *testing.T) {
		existing := []TimeBlock{weeklyBlock(1, "5", "22:00", "02:00", 0)}
		candidate := weeklyBlock(0, "5", "10:00", "12:00", 0)
		assert.False(t, WouldOverlap(&candidate, existing, 0))
	})

	t.Run("date blocks collide only on the same date", func(t *testing.T) {
		existing := []TimeBlock{dateBlock(1, date, "08:00", "10:00", 0)}

		sameDate := dateBlock(0, date, "09:00", "11:00", 0)
		assert.True(t, WouldOverlap(&sameDate, existing, 0))

		otherDate := dateBlock(0, date.AddDate(0, 0, 1), "09:00", "11:00", 0)
		assert.False(t, WouldOverlap(&otherDate, existing, 0))
	})

	t.Run("excludeId skips the block being edited", func(t *testing.T) {
		existing := []TimeBlock{weeklyBlock(4, "1", "08:00", "10:00", 0)}
		candidate := weeklyBlock(4, "1", "08:30", "10:30", 0)
		assert.False(t, WouldOverlap(&candidate, existing, 4))
	})

	t.Run("inactive blocks are ignored", func(t *testing.T) {
		inactive := weeklyBlock(1, "1", "08:00", "10:00", 0)
		inactive.Active = false
		candidate := weeklyBlock(0, "1", "09:00", "11:00", 0)
		assert.False(t, WouldOverlap(&candidate, []TimeBlock{inactive}, 0))
	})
}

func TestResolveLoopItems(t *testing.T) {
	t.Run("empty loop yields the unconfigured placeholder", func(t *testing.T) {
		items := ResolveLoopItems(&LoopStyle{ID: 3})

		require.Len(t, items, 1)
		assert.Equal(t, UnconfiguredModuleRef, items[0].ModuleRef)
		assert.Equal(t, UnconfiguredDurationSecs, items[0].DurationSecs)
	})

	t.Run("only inactive items also yields the placeholder", func(t *testing.T) {
		loop := &LoopStyle{Items: []ContentItem{{ModuleRef: "clock", Active: false}}}
		items := ResolveLoopItems(loop)

		require.Len(t, items, 1)
		assert.Equal(t, UnconfiguredModuleRef, items[0].ModuleRef)
	})

	t.Run("items come back in display order", func(t *testing.T) {
		loop := &LoopStyle{Items: []ContentItem{
			{ID: 1, ModuleRef: "weather", DisplayOrder: 2, Active: true},
			{ID: 2, ModuleRef: "clock", DisplayOrder: 1, Active: true},
			{ID: 3, ModuleRef: "news", DisplayOrder: 1, Active: true},
		}}

		items := ResolveLoopItems(loop)
		require.Len(t, items, 3)
		assert.Equal(t, "clock", items[0].ModuleRef)
		assert.Equal(t, "news", items[1].ModuleRef)
		assert.Equal(t, "weather", items[2].ModuleRef)
	})
}

func TestWeekdaysParsing(t *testing.T) {
	block := TimeBlock{DaysMask: "1, 3,7,9,0,x"}
	assert.Equal(t, []int{1, 3, 7}, block.Weekdays())

	empty := TimeBlock{DaysMask: ""}
	assert.Empty(t, empty.Weekdays())
}
