package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ParseClockMinutes converts "HH:MM" (or "HH:MM:SS", seconds ignored)
// into minutes since midnight.
func ParseClockMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// isoWeekday returns 1 (Monday) through 7 (Sunday).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// segments expands a time range into half-open minute intervals.
// end <= start denotes a window wrapping past midnight, split into
// [start, 1440) and [0, end).
func segments(start, end int) [][2]int {
	if start < end {
		return [][2]int{{start, end}}
	}
	segs := [][2]int{{start, minutesPerDay}}
	if end > 0 {
		segs = append(segs, [2]int{0, end})
	}
	return segs
}

// segmentsOverlap reports whether any segment pair of the two ranges
// intersects.
func segmentsOverlap(aStart, aEnd, bStart, bEnd int) bool {
	for _, a := range segments(aStart, aEnd) {
		for _, b := range segments(bStart, bEnd) {
			if a[0] < b[1] && b[0] < a[1] {
				return true
			}
		}
	}
	return false
}

// MatchesAt reports whether the block's window covers the given
// instant. For a wrapping window the early-morning segment belongs to
// the day the window started, so a Friday 22:00-02:00 block covers
// Saturday 01:00 but not Saturday 03:00.
func (b *TimeBlock) MatchesAt(at time.Time) bool {
	if !b.Active {
		return false
	}

	start, err := ParseClockMinutes(b.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseClockMinutes(b.EndTime)
	if err != nil {
		return false
	}

	tod := at.Hour()*60 + at.Minute()
	wraps := end <= start

	// anchor is the day the active window started on.
	anchor := at
	inWindow := false
	switch {
	case !wraps:
		inWindow = tod >= start && tod < end
	case tod >= start:
		inWindow = true
	case tod < end:
		inWindow = true
		anchor = at.AddDate(0, 0, -1)
	}
	if !inWindow {
		return false
	}

	switch b.Type {
	case BlockTypeDateSpecific:
		if b.SpecificDate == nil {
			return false
		}
		y1, m1, d1 := anchor.Date()
		y2, m2, d2 := b.SpecificDate.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	default:
		for _, day := range b.Weekdays() {
			if day == isoWeekday(anchor) {
				return true
			}
		}
		return false
	}
}

// typeWeight ranks dateSpecific overrides above weekly recurrence.
func typeWeight(blockType string) int {
	if blockType == BlockTypeDateSpecific {
		return 2
	}
	return 1
}

// ResolveActiveBlock selects the time block governing the given
// instant, or nil when none matches and the group's default loop
// applies. Ties break by type weight, then priority, then display
// order, then lowest id.
func ResolveActiveBlock(blocks []TimeBlock, at time.Time) *TimeBlock {
	var candidates []TimeBlock
	for _, b := range blocks {
		if b.MatchesAt(at) {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if wa, wb := typeWeight(a.Type), typeWeight(b.Type); wa != wb {
			return wa > wb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.ID < b.ID
	})

	return &candidates[0]
}

// WouldOverlap reports whether the candidate block collides with any
// existing active block of the same type. Weekly blocks collide only
// when they share a weekday; dateSpecific blocks only on the same
// date. excludeID skips the block being edited.
func WouldOverlap(candidate *TimeBlock, existing []TimeBlock, excludeID uint) bool {
	cStart, err := ParseClockMinutes(candidate.StartTime)
	if err != nil {
		return false
	}
	cEnd, err := ParseClockMinutes(candidate.EndTime)
	if err != nil {
		return false
	}

	cDays := make(map[int]bool)
	for _, d := range candidate.Weekdays() {
		cDays[d] = true
	}

	for i := range existing {
		other := &existing[i]
		if other.ID == excludeID || !other.Active || other.Type != candidate.Type {
			continue
		}

		switch candidate.Type {
		case BlockTypeDateSpecific:
			if candidate.SpecificDate == nil || other.SpecificDate == nil {
				continue
			}
			y1, m1, d1 := candidate.SpecificDate.Date()
			y2, m2, d2 := other.SpecificDate.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		default:
			shared := false
			for _, d := range other.Weekdays() {
				if cDays[d] {
					shared = true
					break
				}
			}
			if !shared {
				continue
			}
		}

		oStart, err := ParseClockMinutes(other.StartTime)
		if err != nil {
			continue
		}
		oEnd, err := ParseClockMinutes(other.EndTime)
		if err != nil {
			continue
		}
		if segmentsOverlap(cStart, cEnd, oStart, oEnd) {
			return true
		}
	}

	return false
}

// DeviceModuleItems renders a device's direct assignments in the loop
// item shape, in display order.
func DeviceModuleItems(modules []DeviceModule) []ContentItem {
	items := make([]ContentItem, 0, len(modules))
	for _, m := range modules {
		items = append(items, ContentItem{
			ID:           m.ID,
			ModuleRef:    m.ModuleRef,
			DurationSecs: m.DurationSecs,
			Settings:     m.Settings,
			DisplayOrder: m.DisplayOrder,
			Active:       true,
		})
	}
	return items
}

// ResolveLoopItems returns the renderable content of a loop style in
// display order. A loop with no active items resolves to a single
// placeholder so clients render a clean "no content configured" state
// instead of an empty screen.
func ResolveLoopItems(loop *LoopStyle) []ContentItem {
	var items []ContentItem
	for _, item := range loop.Items {
		if item.Active {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].DisplayOrder != items[j].DisplayOrder {
			return items[i].DisplayOrder < items[j].DisplayOrder
		}
		return items[i].ID < items[j].ID
	})

	if len(items) == 0 {
		return []ContentItem{{
			LoopStyleID:  loop.ID,
			ModuleRef:    UnconfiguredModuleRef,
			DurationSecs: UnconfiguredDurationSecs,
			Active:       true,
		}}
	}
	return items
}
