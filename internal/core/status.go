package core

import "time"

// Default domain thresholds, in seconds. Both match the panel-side
// staleness window of 30 minutes.
const (
	DefaultOfflineTimeout = 1800 * time.Second
	DefaultUpgradeTimeout = 1800 * time.Second
)

// EffectiveStatus derives the status a device should be displayed and
// decided with, from its persisted state plus elapsed time. It never
// writes anything; persisted status changes only through explicit
// events (registration, sync contact, health report).
//
// Rules, in order:
//  1. upgrading: becomes error once the upgrade has been running longer
//     than upgradeTimeout, otherwise stays upgrading.
//  2. error is sticky until an online-producing event clears it.
//  3. a device whose last contact (lastSync, falling back to lastSeen)
//     is older than offlineTimeout is offline.
//  4. otherwise the persisted status stands.
//
// A device with no contact timestamps at all is never considered timed
// out; its persisted status (typically pending) is returned as-is.
func EffectiveStatus(device *Device, now time.Time, offlineTimeout, upgradeTimeout time.Duration) string {
	if device.Status == StatusUpgrading {
		if device.UpgradeStartedAt != nil && now.Sub(*device.UpgradeStartedAt) > upgradeTimeout {
			return StatusError
		}
		return StatusUpgrading
	}

	if device.Status == StatusError {
		return StatusError
	}

	reference := device.LastSync
	if reference == nil {
		reference = device.LastSeen
	}
	if reference != nil && now.Sub(*reference) > offlineTimeout {
		return StatusOffline
	}

	return device.Status
}

// HealthStatusToDevice maps a health report category to the device
// status it writes. Unknown categories park the device in pending.
func HealthStatusToDevice(category string) string {
	switch category {
	case HealthHealthy:
		return StatusOnline
	case HealthWarning:
		return StatusWarning
	case HealthCritical:
		return StatusOffline
	default:
		return StatusPending
	}
}
